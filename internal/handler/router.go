package handler

import (
	"walletpay/internal/repository"
	"walletpay/pkg/sign"

	"github.com/gin-gonic/gin"
)

// SetupRouter 注册路由
//
// /api/v1/trade 下的接口面向接入应用，启用签名认证和应答签名；
// /api/v1/account 下的接口面向运营侧，不走应用签名
func SetupRouter(h *Handler, appRepo *repository.AppRepository, signer *sign.Signer) *gin.Engine {
	router := gin.New()

	router.Use(LoggerMiddleware())
	router.Use(RecoveryMiddleware())
	router.Use(CORSMiddleware())

	router.GET("/health", h.Health)

	api := router.Group("/api/v1")

	trade := api.Group("/trade")
	trade.GET("/sign/public-key", h.GetPublicKey)

	// 应答签名先注册，认证失败的应答同样带平台签名
	signed := trade.Group("")
	signed.Use(ResponseSignMiddleware(signer))
	signed.Use(SignatureAuthMiddleware(appRepo))
	{
		signed.POST("/pay", h.PayTrade)
		signed.POST("/charge", h.ChargeTrade)
		signed.POST("/refund", h.RefundTrade)
		signed.GET("/refund/query", h.QueryRefund)
		signed.GET("/query/trade/:trade_id", h.QueryTradeByID)
		signed.GET("/query/out-order/:order_id", h.QueryTradeByOrderID)
		signed.GET("/bill/transaction", h.ListTransactionBills)
	}

	account := api.Group("/account")
	{
		account.GET("/balance", h.GetBalance)
		account.POST("/recharge", h.Recharge)
	}

	return router
}
