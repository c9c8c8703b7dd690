package response

import (
	"net/http"

	"walletpay/pkg/errcode"

	"github.com/gin-gonic/gin"
)

// ErrorBody 错误应答报文 {code, message}
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Data 成功应答，直接返回数据对象
func Data(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Error 错误应答，按业务错误码确定 HTTP 状态码
func Error(c *gin.Context, err error) {
	e := errcode.From(err)
	c.JSON(e.Status, ErrorBody{Code: e.Code, Message: e.Message})
}

// AbortError 错误应答并中断后续处理（用于中间件）
func AbortError(c *gin.Context, err error) {
	e := errcode.From(err)
	c.AbortWithStatusJSON(e.Status, ErrorBody{Code: e.Code, Message: e.Message})
}
