package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 交易流水类型
const (
	TradeTypePayment  = "payment"  // 支付
	TradeTypeRefund   = "refund"   // 退款
	TradeTypeRecharge = "recharge" // 充值
)

// IsValidTradeType 是否是合法的交易流水类型
func IsValidTradeType(t string) bool {
	switch t {
	case TradeTypePayment, TradeTypeRefund, TradeTypeRecharge:
		return true
	}
	return false
}

// TransactionBill 交易流水账单表
// 记录每一次余额变动，是对账的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 每条流水记录变动后账户余额 —— 按时间回放可校验余额一致性
type TransactionBill struct {
	ID           string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	Subject      string          `gorm:"type:varchar(256);not null;default:''" json:"subject"`
	Account      string          `gorm:"type:varchar(36);not null;default:''" json:"account"` // 发生变动的账户ID
	TradeType    string          `gorm:"type:varchar(16);not null" json:"trade_type"`
	TradeID      string          `gorm:"type:varchar(36);index;not null" json:"trade_id"`            // 支付/退款/充值记录ID
	OutTradeNo   string          `gorm:"type:varchar(64);not null;default:''" json:"out_trade_no"`   // 外部订单号/退款单号
	TradeAmounts decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"trade_amounts"` // 本次交易总金额，无符号
	Amounts      decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"amounts"`       // 余额变动金额，有符号
	CouponAmount decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"coupon_amount"` // 券变动金额，有符号
	AfterBalance decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"after_balance"` // 变动后账户余额
	OwnerType    string          `gorm:"type:varchar(8);index:idx_bill_owner;not null" json:"owner_type"`
	OwnerID      string          `gorm:"type:varchar(36);index:idx_bill_owner;not null" json:"owner_id"`
	OwnerName    string          `gorm:"type:varchar(255);not null;default:''" json:"owner_name"`
	AppServiceID string          `gorm:"type:varchar(36);index;not null;default:''" json:"app_service_id"`
	AppID        string          `gorm:"type:varchar(36);index;not null;default:''" json:"app_id"`
	Remark       string          `gorm:"type:varchar(255);not null;default:''" json:"remark"`
	Operator     string          `gorm:"type:varchar(128);not null;default:''" json:"operator"`
	CreationTime time.Time       `gorm:"index;not null" json:"creation_time"`
}

func (TransactionBill) TableName() string {
	return "transaction_bill"
}
