package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 退款状态
const (
	RefundStatusWait    = "wait"    // 退款中
	RefundStatusSuccess = "success" // 退款成功
	RefundStatusError   = "error"   // 退款失败
)

// RefundRecord 退款记录表
// 退款金额按原交易的余额/券比例拆分，券部分只记账不返还券余额
//
// 【不变式】RealRefund + CouponRefund == RefundAmounts，无舍入残差
type RefundRecord struct {
	ID            string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	TradeID       string          `gorm:"type:varchar(36);index;not null" json:"trade_id"` // 关联支付记录ID
	OutOrderID    string          `gorm:"type:varchar(36);not null;default:''" json:"out_order_id"`
	OutRefundID   string          `gorm:"type:varchar(64);uniqueIndex:uk_app_refund;not null" json:"out_refund_id"` // 外部退款单号，应用内唯一
	AppID         string          `gorm:"type:varchar(36);uniqueIndex:uk_app_refund;not null" json:"app_id"`
	AppServiceID  string          `gorm:"type:varchar(36);not null;default:''" json:"app_service_id"`
	RefundReason  string          `gorm:"type:varchar(255);not null;default:''" json:"refund_reason"`
	TotalAmounts  decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"total_amounts"`  // 原交易应付金额
	RefundAmounts decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"refund_amounts"` // 请求退款金额
	RealRefund    decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"real_refund"`    // 余额入账部分
	CouponRefund  decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"coupon_refund"`  // 券扣费部分，只记账
	InAccount     string          `gorm:"type:varchar(36);not null;default:''" json:"in_account"`      // 入账账户ID
	Status        string          `gorm:"type:varchar(16);not null;default:wait" json:"status"`
	StatusDesc    string          `gorm:"type:varchar(255);not null;default:''" json:"status_desc"`
	Remark        string          `gorm:"type:varchar(255);not null;default:''" json:"remark"`
	OwnerType     string          `gorm:"type:varchar(8);not null" json:"owner_type"`
	OwnerID       string          `gorm:"type:varchar(36);index;not null" json:"owner_id"`
	OwnerName     string          `gorm:"type:varchar(255);not null;default:''" json:"owner_name"`
	CreationTime  time.Time       `gorm:"index;not null" json:"creation_time"`
	SuccessTime   *time.Time      `json:"success_time"`
}

func (RefundRecord) TableName() string {
	return "refund_record"
}
