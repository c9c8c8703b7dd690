package errcode

import (
	"errors"
	"fmt"
	"net/http"
)

// Error 业务错误
// code 是对外的错误码字符串，status 是对应的 HTTP 状态码
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithMessage 返回一个替换了 message 的新错误，code 和 status 不变
func (e *Error) WithMessage(message string) *Error {
	return &Error{Code: e.Code, Message: message, Status: e.Status}
}

func newError(status int, code, message string) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

// 认证/授权
var (
	ErrNotAuthenticated    = newError(http.StatusUnauthorized, "NotAuthenticated", "未提供身份认证标头")
	ErrInvalidSignature    = newError(http.StatusUnauthorized, "InvalidSignature", "签名无效")
	ErrNoSuchApp           = newError(http.StatusNotFound, "NoSuchApp", "应用不存在")
	ErrAppStatusUnaudited  = newError(http.StatusConflict, "AppStatusUnaudited", "应用未审核通过")
	ErrAppStatusBan        = newError(http.StatusConflict, "AppStatusBan", "应用已被禁用")
	ErrInvalidJWT          = newError(http.StatusBadRequest, "InvalidJWT", "身份令牌无效")
	ErrInvalidRSAPublicKey = newError(http.StatusConflict, "InvalidRSAPublicKey", "无效的公钥")
)

// 参数校验
var (
	ErrBadRequest          = newError(http.StatusBadRequest, "BadRequest", "请求参数无效")
	ErrInvalidArgument     = newError(http.StatusBadRequest, "InvalidArgument", "参数的值无效")
	ErrInvalidRefundAmount = newError(http.StatusBadRequest, "InvalidRefundAmount", "退款金额无效")
	ErrMissingTradeId      = newError(http.StatusBadRequest, "MissingTradeId", "订单编号或者交易编号必须提供一个")
)

// 冲突/业务
var (
	ErrBalanceNotEnough         = newError(http.StatusConflict, "BalanceNotEnough", "余额不足")
	ErrOrderIdExist             = newError(http.StatusConflict, "OrderIdExist", "订单ID已存在")
	ErrOutRefundIdExists        = newError(http.StatusConflict, "OutRefundIdExists", "退款单号已存在")
	ErrRefundAmountsExceedTotal = newError(http.StatusConflict, "RefundAmountsExceedTotal", "退款总金额超过了交易金额")
)

// 资源不存在
var (
	ErrNoSuchTrade          = newError(http.StatusNotFound, "NoSuchTrade", "交易记录不存在")
	ErrNoSuchOutOrderId     = newError(http.StatusNotFound, "NoSuchOutOrderId", "订单ID对应的交易记录不存在")
	ErrNoSuchOutRefundId    = newError(http.StatusNotFound, "NoSuchOutRefundId", "退款记录不存在")
	ErrNoSuchBalanceAccount = newError(http.StatusNotFound, "NoSuchBalanceAccount", "指定的付款账户不存在")
	ErrNotOwnTrade          = newError(http.StatusNotFound, "NotOwnTrade", "无权访问此交易记录")
)

var ErrInternal = newError(http.StatusInternalServerError, "InternalError", "服务器内部错误")

// From 把任意 error 归一化为 *Error，非业务错误统一按内部错误处理
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.WithMessage(err.Error())
}
