package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PointAccount 余额账户表
// 用户和VO组各一个账户，首次访问时惰性创建，余额不允许为负
type PointAccount struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerType    string          `gorm:"type:varchar(8);uniqueIndex:uk_owner;not null" json:"owner_type"` // user / vo
	OwnerID      string          `gorm:"type:varchar(36);uniqueIndex:uk_owner;not null" json:"owner_id"`
	OwnerName    string          `gorm:"type:varchar(255);not null;default:''" json:"owner_name"`
	Balance      decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"balance"`
	CreationTime time.Time       `gorm:"autoCreateTime" json:"creation_time"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PointAccount) TableName() string {
	return "point_account"
}
