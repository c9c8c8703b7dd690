package handler

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"walletpay/internal/model"
	"walletpay/internal/repository"
	"walletpay/pkg/errcode"
	"walletpay/pkg/response"
	"walletpay/pkg/sign"

	"github.com/gin-gonic/gin"
)

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if query != "" {
			path = path + "?" + query
		}

		log.Printf("[HTTP] %d | %13v | %15s | %-7s %s",
			status,
			latency,
			c.ClientIP(),
			c.Request.Method,
			path,
		)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] %v", err)
				response.AbortError(c, errcode.ErrInternal)
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

const contextKeyApp = "pay_app"

// SignatureAuthMiddleware 应用签名认证中间件
//
// 解析 Authorization 标头中的认证凭据，用应用登记的 RSA 公钥验证请求签名。
// 签名串格式：认证类型\n时间戳\n请求方法\nURI\n请求报文主体
func SignatureAuthMiddleware(appRepo *repository.AppRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := sign.ParseAuthorization(c.GetHeader("Authorization"))
		if err != nil {
			response.AbortError(c, errcode.ErrNotAuthenticated.WithMessage(err.Error()))
			return
		}

		now := time.Now().Unix()
		if token.Timestamp < now-sign.TimestampValidSeconds || token.Timestamp > now+sign.TimestampValidSeconds {
			response.AbortError(c, errcode.ErrNotAuthenticated.WithMessage("请求时间戳已过期"))
			return
		}

		app, err := appRepo.GetApp(c.Request.Context(), token.AppID)
		if err != nil {
			response.AbortError(c, errcode.ErrNoSuchApp)
			return
		}
		switch app.Status {
		case model.AppStatusNormal:
		case model.AppStatusUnaudited:
			response.AbortError(c, errcode.ErrAppStatusUnaudited)
			return
		default:
			response.AbortError(c, errcode.ErrAppStatusBan)
			return
		}

		verifier, err := sign.NewVerifierFromPEM([]byte(app.RSAPublicKey))
		if err != nil {
			response.AbortError(c, errcode.ErrInvalidRSAPublicKey)
			return
		}

		// 校验签名后还原请求体，供后续处理读取
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			response.AbortError(c, errcode.ErrBadRequest.WithMessage("读取请求报文失败"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		signString := sign.RequestStringToSign(
			c.Request.Method, c.Request.URL.RequestURI(), token.Timestamp, string(body))
		if err := verifier.Verify([]byte(signString), token.Signature); err != nil {
			response.AbortError(c, errcode.ErrInvalidSignature)
			return
		}

		c.Set(contextKeyApp, app)
		c.Next()
	}
}

// AppFromContext 取出签名认证通过的应用
func AppFromContext(c *gin.Context) *model.PayApp {
	v, ok := c.Get(contextKeyApp)
	if !ok {
		return nil
	}
	app, _ := v.(*model.PayApp)
	return app
}

// signWriter 缓存应答报文主体，待签名后一次性写出
type signWriter struct {
	gin.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (w *signWriter) WriteHeader(code int) {
	w.status = code
}

func (w *signWriter) Write(b []byte) (int, error) {
	return w.body.Write(b)
}

func (w *signWriter) WriteString(s string) (int, error) {
	return w.body.WriteString(s)
}

// ResponseSignMiddleware 应答签名中间件
//
// 用服务端私钥对应答报文主体签名，签名随标头
// Pay-Timestamp、Pay-Signature、Pay-Sign-Type 返回
func ResponseSignMiddleware(signer *sign.Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if signer == nil {
			c.Next()
			return
		}

		writer := &signWriter{
			ResponseWriter: c.Writer,
			body:           &bytes.Buffer{},
			status:         http.StatusOK,
		}
		c.Writer = writer
		c.Next()

		body := writer.body.Bytes()
		timestamp := time.Now().Unix()
		signature, err := signer.Sign([]byte(sign.ResponseStringToSign(timestamp, string(body))))
		if err != nil {
			log.Printf("应答签名失败: %v", err)
		} else {
			writer.ResponseWriter.Header().Set("Pay-Timestamp", strconv.FormatInt(timestamp, 10))
			writer.ResponseWriter.Header().Set("Pay-Signature", signature)
			writer.ResponseWriter.Header().Set("Pay-Sign-Type", sign.SignType)
		}

		writer.ResponseWriter.WriteHeader(writer.status)
		if _, err := writer.ResponseWriter.Write(body); err != nil {
			log.Printf("写应答报文失败: %v", err)
		}
	}
}
