package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/handler"
	"walletpay/internal/infrastructure/cache"
	"walletpay/internal/infrastructure/database"
	"walletpay/internal/infrastructure/mq"
	"walletpay/internal/job"
	"walletpay/internal/repository"
	"walletpay/internal/service"
	"walletpay/pkg/idgen"
	"walletpay/pkg/sign"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 初始化 ID 生成器
	idgen.Init(1)

	// 加载平台应答签名私钥
	privateKeyPEM, err := os.ReadFile(cfg.RSA.PrivateKeyFile)
	if err != nil {
		log.Fatalf("读取 RSA 私钥文件失败: %v", err)
	}
	signer, err := sign.NewSignerFromPEM(privateKeyPEM)
	if err != nil {
		log.Fatalf("加载 RSA 私钥失败: %v", err)
	}

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 Kafka
	producer, err := mq.NewProducer(&cfg.Kafka)
	if err != nil {
		log.Fatalf("创建 Kafka 生产者失败: %v", err)
	}
	defer producer.Close()

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务：发件箱事件投递
	outboxSender := job.NewOutboxSender(db, producer, cfg)
	go outboxSender.Start(ctx)

	// 组装服务和路由
	h := handler.NewHandler(
		cfg,
		signer,
		service.NewPaymentService(db, redisClient, cfg),
		service.NewRefundService(db, redisClient, cfg),
		service.NewAccountService(db, redisClient, cfg),
		service.NewBillService(db),
	)
	router := handler.SetupRouter(h, repository.NewAppRepository(db), signer)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
