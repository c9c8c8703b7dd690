package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 代金券状态
const (
	CouponStatusWait      = "wait"      // 未领取
	CouponStatusAvailable = "available" // 有效
	CouponStatusCancelled = "cancelled" // 作废
	CouponStatusDeleted   = "deleted"   // 删除
)

// CashCoupon 代金券
// 限定适用子服务和有效期，余额只减不增，退款不恢复券余额
type CashCoupon struct {
	ID             string          `gorm:"type:varchar(32);primaryKey" json:"id"`
	AppServiceID   string          `gorm:"type:varchar(36);index;not null" json:"app_service_id"`
	FaceValue      decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"face_value"`
	Balance        decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"balance"`
	EffectiveTime  time.Time       `gorm:"not null" json:"effective_time"`
	ExpirationTime time.Time       `gorm:"not null" json:"expiration_time"`
	Status         string          `gorm:"type:varchar(16);not null;default:wait" json:"status"`
	OwnerType      string          `gorm:"type:varchar(8);index:idx_coupon_owner;not null;default:''" json:"owner_type"`
	OwnerID        string          `gorm:"type:varchar(36);index:idx_coupon_owner;not null;default:''" json:"owner_id"`
	GrantedTime    *time.Time      `json:"granted_time"`
	CreationTime   time.Time       `gorm:"autoCreateTime" json:"creation_time"`
}

func (CashCoupon) TableName() string {
	return "cash_coupon"
}

// Usable 代金券在 at 时刻对指定拥有者和子服务是否可用
func (c *CashCoupon) Usable(ownerType, ownerID, appServiceID string, at time.Time) bool {
	if c.Status != CouponStatusAvailable {
		return false
	}
	if c.OwnerType != ownerType || c.OwnerID != ownerID {
		return false
	}
	if c.AppServiceID != appServiceID {
		return false
	}
	if at.Before(c.EffectiveTime) || at.After(c.ExpirationTime) {
		return false
	}
	return c.Balance.IsPositive()
}
