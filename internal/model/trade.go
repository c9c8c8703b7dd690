package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 支付方式
const (
	PaymentMethodBalance       = "balance"        // 余额
	PaymentMethodCoupon        = "coupon"         // 代金券
	PaymentMethodBalanceCoupon = "balance+coupon" // 余额+代金券
)

// 交易状态
const (
	TradeStatusWait    = "wait"    // 待支付
	TradeStatusSuccess = "success" // 支付成功
	TradeStatusError   = "error"   // 支付失败
	TradeStatusClosed  = "closed"  // 交易关闭
)

// PaymentHistory 支付记录表
// 每笔成功扣费一条记录，写入后不再修改
//
// 【不变式】PayableAmounts == abs(Amounts) + abs(CouponAmount)
type PaymentHistory struct {
	ID             string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	Subject        string          `gorm:"type:varchar(256);not null;default:''" json:"subject"`
	PaymentMethod  string          `gorm:"type:varchar(16);not null;default:balance" json:"payment_method"`
	PaymentAccount string          `gorm:"type:varchar(36);not null;default:''" json:"payment_account"` // 付款账户ID
	Executor       string          `gorm:"type:varchar(128);not null;default:''" json:"executor"`
	PayerID        string          `gorm:"type:varchar(36);index;not null;default:''" json:"payer_id"`
	PayerName      string          `gorm:"type:varchar(255);not null;default:''" json:"payer_name"`
	PayerType      string          `gorm:"type:varchar(8);not null" json:"payer_type"`
	PayableAmounts decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"payable_amounts"` // 应付金额
	Amounts        decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"amounts"`         // 余额扣费金额，负数
	CouponAmount   decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"coupon_amount"`   // 券扣费金额，负数
	Status         string          `gorm:"type:varchar(16);not null;default:wait" json:"status"`
	Remark         string          `gorm:"type:varchar(255);not null;default:''" json:"remark"`
	OrderID        string          `gorm:"type:varchar(36);uniqueIndex:uk_app_order;not null" json:"order_id"` // 外部订单ID，应用内唯一
	AppID          string          `gorm:"type:varchar(36);uniqueIndex:uk_app_order;not null" json:"app_id"`
	AppServiceID   string          `gorm:"type:varchar(36);index;not null;default:''" json:"app_service_id"`
	InstanceID     string          `gorm:"type:varchar(64);not null;default:''" json:"instance_id"`
	CreationTime   time.Time       `gorm:"index;not null" json:"creation_time"`
	PaymentTime    *time.Time      `json:"payment_time"`
}

func (PaymentHistory) TableName() string {
	return "payment_history"
}

// CashCouponPaymentHistory 代金券扣费记录
// 一笔交易消耗多张券时每张券一条，记录券的扣费前后余额
type CashCouponPaymentHistory struct {
	ID               string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	PaymentHistoryID string          `gorm:"type:varchar(36);index;not null" json:"payment_history_id"`
	CashCouponID     string          `gorm:"type:varchar(32);index;not null" json:"cash_coupon_id"`
	Amounts          decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amounts"`
	BeforePayment    decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"before_payment"`
	AfterPayment     decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"after_payment"`
	CreationTime     time.Time       `gorm:"autoCreateTime" json:"creation_time"`
}

func (CashCouponPaymentHistory) TableName() string {
	return "cash_coupon_payment"
}
