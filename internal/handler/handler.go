package handler

import (
	"fmt"
	"strconv"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/model"
	"walletpay/internal/service"
	"walletpay/pkg/errcode"
	"walletpay/pkg/response"
	"walletpay/pkg/sign"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
)

type Handler struct {
	cfg            *config.Config
	signer         *sign.Signer
	paymentService *service.PaymentService
	refundService  *service.RefundService
	accountService *service.AccountService
	billService    *service.BillService
}

func NewHandler(
	cfg *config.Config,
	signer *sign.Signer,
	paymentService *service.PaymentService,
	refundService *service.RefundService,
	accountService *service.AccountService,
	billService *service.BillService,
) *Handler {
	return &Handler{
		cfg:            cfg,
		signer:         signer,
		paymentService: paymentService,
		refundService:  refundService,
		accountService: accountService,
		billService:    billService,
	}
}

// payerClaims 付款人身份凭据声明
type payerClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// parsePayerJWT 从 JWT 中解析付款人身份
func (h *Handler) parsePayerJWT(tokenString string) (model.Owner, error) {
	claims := &payerClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("不支持的签名算法: %v", t.Header["alg"])
		}
		return []byte(h.cfg.JWT.Secret), nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return model.Owner{}, errcode.ErrInvalidJWT
	}

	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return model.UserOwner(claims.Subject, name), nil
}

// PayTradeRequest 用户身份扣费请求，付款人由 payer_jwt 确定
type PayTradeRequest struct {
	Subject      string `json:"subject" binding:"required"`
	OrderID      string `json:"order_id" binding:"required"`
	Amounts      string `json:"amounts" binding:"required"`
	AppServiceID string `json:"app_service_id" binding:"required"`
	PayerJWT     string `json:"payer_jwt" binding:"required"`
	Remark       string `json:"remark"`
	Executor     string `json:"executor"`
}

// PayTrade POST /api/v1/trade/pay
func (h *Handler) PayTrade(c *gin.Context) {
	app := AppFromContext(c)
	if app == nil {
		response.Error(c, errcode.ErrNotAuthenticated)
		return
	}

	var req PayTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrBadRequest.WithMessage(err.Error()))
		return
	}

	amounts, err := decimal.NewFromString(req.Amounts)
	if err != nil {
		response.Error(c, errcode.ErrBadRequest.WithMessage("交易金额格式无效"))
		return
	}

	payer, err := h.parsePayerJWT(req.PayerJWT)
	if err != nil {
		response.Error(c, err)
		return
	}

	history, err := h.paymentService.Pay(c.Request.Context(), &service.PayRequest{
		Owner:        payer,
		AppID:        app.ID,
		AppServiceID: req.AppServiceID,
		OrderID:      req.OrderID,
		Amounts:      amounts,
		Subject:      req.Subject,
		Remark:       req.Remark,
		Executor:     req.Executor,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Data(c, history)
}

// ChargeTradeRequest 指定扣费对象的扣费请求，username 和 vo_id 二选一
type ChargeTradeRequest struct {
	Subject      string `json:"subject" binding:"required"`
	OrderID      string `json:"order_id" binding:"required"`
	Amounts      string `json:"amounts" binding:"required"`
	AppServiceID string `json:"app_service_id" binding:"required"`
	Username     string `json:"username"`
	VoID         string `json:"vo_id"`
	Remark       string `json:"remark"`
	Executor     string `json:"executor"`
}

// ChargeTrade POST /api/v1/trade/charge
func (h *Handler) ChargeTrade(c *gin.Context) {
	app := AppFromContext(c)
	if app == nil {
		response.Error(c, errcode.ErrNotAuthenticated)
		return
	}

	var req ChargeTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrBadRequest.WithMessage(err.Error()))
		return
	}

	var owner model.Owner
	switch {
	case req.Username != "" && req.VoID != "":
		response.Error(c, errcode.ErrBadRequest.WithMessage("username 和 vo_id 不能同时指定"))
		return
	case req.Username != "":
		owner = model.UserOwner(req.Username, req.Username)
	case req.VoID != "":
		owner = model.VoOwner(req.VoID, req.VoID)
	default:
		response.Error(c, errcode.ErrBadRequest.WithMessage("必须指定 username 或 vo_id"))
		return
	}

	amounts, err := decimal.NewFromString(req.Amounts)
	if err != nil {
		response.Error(c, errcode.ErrBadRequest.WithMessage("交易金额格式无效"))
		return
	}

	history, err := h.paymentService.Pay(c.Request.Context(), &service.PayRequest{
		Owner:        owner,
		AppID:        app.ID,
		AppServiceID: req.AppServiceID,
		OrderID:      req.OrderID,
		Amounts:      amounts,
		Subject:      req.Subject,
		Remark:       req.Remark,
		Executor:     req.Executor,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Data(c, history)
}

// tradeDetail 交易详情，按需附带已退款总额
type tradeDetail struct {
	*model.PaymentHistory
	RefundedAmounts *decimal.Decimal `json:"refunded_amounts,omitempty"`
}

func (h *Handler) respondTrade(c *gin.Context, appID string, history *model.PaymentHistory) {
	detail := &tradeDetail{PaymentHistory: history}
	if c.Query("query_refunded") == "true" {
		refunded, err := h.paymentService.GetRefundedAmounts(c.Request.Context(), appID, history)
		if err != nil {
			response.Error(c, err)
			return
		}
		detail.RefundedAmounts = &refunded
	}
	response.Data(c, detail)
}

// QueryTradeByID GET /api/v1/trade/query/trade/:trade_id
func (h *Handler) QueryTradeByID(c *gin.Context) {
	app := AppFromContext(c)
	if app == nil {
		response.Error(c, errcode.ErrNotAuthenticated)
		return
	}

	history, err := h.paymentService.GetTradeByID(c.Request.Context(), app.ID, c.Param("trade_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respondTrade(c, app.ID, history)
}

// QueryTradeByOrderID GET /api/v1/trade/query/out-order/:order_id
func (h *Handler) QueryTradeByOrderID(c *gin.Context) {
	app := AppFromContext(c)
	if app == nil {
		response.Error(c, errcode.ErrNotAuthenticated)
		return
	}

	history, err := h.paymentService.GetTradeByOrderID(c.Request.Context(), app.ID, c.Param("order_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respondTrade(c, app.ID, history)
}

// RefundTradeRequest 退款请求，trade_id 和 out_order_id 二选一
type RefundTradeRequest struct {
	TradeID      string `json:"trade_id"`
	OutOrderID   string `json:"out_order_id"`
	OutRefundID  string `json:"out_refund_id" binding:"required"`
	RefundAmount string `json:"refund_amount" binding:"required"`
	RefundReason string `json:"refund_reason"`
	Remark       string `json:"remark"`
}

// RefundTrade POST /api/v1/trade/refund
func (h *Handler) RefundTrade(c *gin.Context) {
	app := AppFromContext(c)
	if app == nil {
		response.Error(c, errcode.ErrNotAuthenticated)
		return
	}

	var req RefundTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrBadRequest.WithMessage(err.Error()))
		return
	}

	amounts, err := decimal.NewFromString(req.RefundAmount)
	if err != nil {
		response.Error(c, errcode.ErrInvalidRefundAmount)
		return
	}

	record, err := h.refundService.Refund(c.Request.Context(), &service.RefundRequest{
		AppID:         app.ID,
		TradeID:       req.TradeID,
		OutOrderID:    req.OutOrderID,
		OutRefundID:   req.OutRefundID,
		RefundAmounts: amounts,
		RefundReason:  req.RefundReason,
		Remark:        req.Remark,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Data(c, record)
}

// QueryRefund GET /api/v1/trade/refund/query
func (h *Handler) QueryRefund(c *gin.Context) {
	app := AppFromContext(c)
	if app == nil {
		response.Error(c, errcode.ErrNotAuthenticated)
		return
	}

	record, err := h.refundService.GetRefund(
		c.Request.Context(), app.ID, c.Query("refund_id"), c.Query("out_refund_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Data(c, record)
}

// ListTransactionBills GET /api/v1/trade/bill/transaction
func (h *Handler) ListTransactionBills(c *gin.Context) {
	app := AppFromContext(c)
	if app == nil {
		response.Error(c, errcode.ErrNotAuthenticated)
		return
	}

	timeStart, err := parseBillTime(c.Query("trade_time_start"))
	if err != nil {
		response.Error(c, errcode.ErrInvalidArgument.WithMessage("trade_time_start 时间格式无效，必须是 UTC 时间"))
		return
	}
	timeEnd, err := parseBillTime(c.Query("trade_time_end"))
	if err != nil {
		response.Error(c, errcode.ErrInvalidArgument.WithMessage("trade_time_end 时间格式无效，必须是 UTC 时间"))
		return
	}

	var owner model.Owner
	if username := c.Query("username"); username != "" {
		owner = model.UserOwner(username, username)
	} else if voID := c.Query("vo_id"); voID != "" {
		owner = model.VoOwner(voID, voID)
	}

	pageSize := 0
	if v := c.Query("page_size"); v != "" {
		pageSize, err = strconv.Atoi(v)
		if err != nil || pageSize <= 0 {
			response.Error(c, errcode.ErrInvalidArgument.WithMessage("page_size 无效"))
			return
		}
	}

	page, err := h.billService.ListAppBills(c.Request.Context(), &service.ListBillsRequest{
		AppID:        app.ID,
		Owner:        owner,
		AppServiceID: c.Query("app_service_id"),
		TradeTypes:   c.QueryArray("trade_type"),
		TimeStart:    timeStart,
		TimeEnd:      timeEnd,
		Marker:       c.Query("marker"),
		PageSize:     pageSize,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Data(c, page)
}

// 账单查询的时间参数必须是 UTC 时区的 RFC3339 时间
func parseBillTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	if _, offset := t.Zone(); offset != 0 {
		return time.Time{}, fmt.Errorf("时间必须是 UTC 时区")
	}
	return t, nil
}

// GetPublicKey GET /api/v1/trade/sign/public-key
// 返回服务端应答签名的 RSA 公钥
func (h *Handler) GetPublicKey(c *gin.Context) {
	if h.signer == nil {
		response.Error(c, errcode.ErrInternal)
		return
	}
	publicKey, err := h.signer.PublicKeyPEM()
	if err != nil {
		response.Error(c, errcode.ErrInternal)
		return
	}
	response.Data(c, gin.H{"public_key": publicKey})
}

// GetBalance GET /api/v1/account/balance
func (h *Handler) GetBalance(c *gin.Context) {
	ownerType := c.Query("owner_type")
	ownerID := c.Query("owner_id")
	if !model.IsValidOwnerType(ownerType) || ownerID == "" {
		response.Error(c, errcode.ErrBadRequest.WithMessage("必须指定有效的 owner_type 和 owner_id"))
		return
	}

	account, err := h.accountService.GetBalance(c.Request.Context(), model.Owner{Type: ownerType, ID: ownerID})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Data(c, account)
}

// RechargeRequest 余额充值请求
type RechargeRequest struct {
	OwnerType string `json:"owner_type" binding:"required"`
	OwnerID   string `json:"owner_id" binding:"required"`
	OwnerName string `json:"owner_name"`
	Amounts   string `json:"amounts" binding:"required"`
	Remark    string `json:"remark"`
	Operator  string `json:"operator"`
}

// Recharge POST /api/v1/account/recharge
func (h *Handler) Recharge(c *gin.Context) {
	var req RechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrBadRequest.WithMessage(err.Error()))
		return
	}
	if !model.IsValidOwnerType(req.OwnerType) {
		response.Error(c, errcode.ErrBadRequest.WithMessage("owner_type 无效"))
		return
	}

	amounts, err := decimal.NewFromString(req.Amounts)
	if err != nil {
		response.Error(c, errcode.ErrBadRequest.WithMessage("充值金额格式无效"))
		return
	}

	ownerName := req.OwnerName
	if ownerName == "" {
		ownerName = req.OwnerID
	}

	bill, err := h.accountService.Recharge(c.Request.Context(), &service.RechargeRequest{
		Owner:    model.Owner{Type: req.OwnerType, ID: req.OwnerID, Name: ownerName},
		Amounts:  amounts,
		Remark:   req.Remark,
		Operator: req.Operator,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Data(c, bill)
}

// Health GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok", "time": time.Now().Format(time.RFC3339)})
}
