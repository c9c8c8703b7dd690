package model

import (
	"time"
)

// 应用状态
const (
	AppStatusUnaudited = "unaudited" // 未审核
	AppStatusNormal    = "normal"    // 正常
	AppStatusBan       = "ban"       // 禁止
)

// PayApp 接入结算的外部应用
// 每个应用注册一对RSA密钥，平台保存公钥用于请求验签
type PayApp struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name         string    `gorm:"type:varchar(256);not null" json:"name"`
	AppURL       string    `gorm:"type:varchar(256);not null;default:''" json:"app_url"`
	AppDesc      string    `gorm:"type:varchar(1024);not null;default:''" json:"app_desc"`
	RSAPublicKey string    `gorm:"type:varchar(2000);not null;default:''" json:"rsa_public_key"`
	Status       string    `gorm:"type:varchar(16);not null;default:unaudited" json:"status"`
	CreationTime time.Time `gorm:"autoCreateTime" json:"creation_time"`
}

func (PayApp) TableName() string {
	return "pay_app"
}

// PayAppService 应用下的可计费子服务
// 代金券和交易记录都以子服务为适用范围
type PayAppService struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	AppID        string    `gorm:"type:varchar(36);index;not null" json:"app_id"`
	Name         string    `gorm:"type:varchar(256);not null" json:"name"`
	NameEn       string    `gorm:"type:varchar(255);not null;default:''" json:"name_en"`
	Status       string    `gorm:"type:varchar(16);not null;default:unaudited" json:"status"`
	Desc         string    `gorm:"type:varchar(1024);not null;default:''" json:"desc"`
	CreationTime time.Time `gorm:"autoCreateTime" json:"creation_time"`
}

func (PayAppService) TableName() string {
	return "pay_app_service"
}
