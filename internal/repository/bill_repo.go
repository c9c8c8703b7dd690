package repository

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"walletpay/internal/model"

	"gorm.io/gorm"
)

var ErrInvalidMarker = errors.New("无效的分页标记")

type BillRepository struct {
	db *gorm.DB
}

func NewBillRepository(db *gorm.DB) *BillRepository {
	return &BillRepository{db: db}
}

func (r *BillRepository) Create(ctx context.Context, tx *gorm.DB, bill *model.TransactionBill) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(bill).Error
}

// BillFilter 交易流水查询条件
// AppID 与 Owner 二选一：应用按自身维度查询，用户/VO按拥有者维度查询
type BillFilter struct {
	AppID        string
	OwnerType    string
	OwnerID      string
	AppServiceID string
	TradeTypes   []string
	TimeStart    time.Time
	TimeEnd      time.Time
}

// List 按创建时间倒序的游标分页查询
// marker 编码上一页最后一条的 (creation_time, id)，返回多取一条用于判断是否还有下一页
func (r *BillRepository) List(ctx context.Context, f BillFilter, marker string, pageSize int) ([]*model.TransactionBill, bool, error) {
	query := r.db.WithContext(ctx).Model(&model.TransactionBill{}).
		Where("creation_time >= ? AND creation_time < ?", f.TimeStart, f.TimeEnd)

	if f.AppID != "" {
		query = query.Where("app_id = ?", f.AppID)
	}
	if f.OwnerType != "" {
		query = query.Where("owner_type = ? AND owner_id = ?", f.OwnerType, f.OwnerID)
	}
	if f.AppServiceID != "" {
		query = query.Where("app_service_id = ?", f.AppServiceID)
	}
	if len(f.TradeTypes) == 1 {
		query = query.Where("trade_type = ?", f.TradeTypes[0])
	} else if len(f.TradeTypes) > 1 {
		query = query.Where("trade_type IN ?", f.TradeTypes)
	}

	if marker != "" {
		markerTime, markerID, err := DecodeMarker(marker)
		if err != nil {
			return nil, false, err
		}
		query = query.Where(
			"creation_time < ? OR (creation_time = ? AND id < ?)",
			markerTime, markerTime, markerID,
		)
	}

	var bills []*model.TransactionBill
	err := query.
		Order("creation_time DESC, id DESC").
		Limit(pageSize + 1).
		Find(&bills).Error
	if err != nil {
		return nil, false, err
	}

	hasNext := len(bills) > pageSize
	if hasNext {
		bills = bills[:pageSize]
	}
	return bills, hasNext, nil
}

// EncodeMarker 编码分页游标，形如 base64("<unix纳秒>_<id>")
func EncodeMarker(creationTime time.Time, id string) string {
	raw := fmt.Sprintf("%d_%s", creationTime.UnixNano(), id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// DecodeMarker 解码分页游标
func DecodeMarker(marker string) (time.Time, string, error) {
	raw, err := base64.URLEncoding.DecodeString(marker)
	if err != nil {
		return time.Time{}, "", ErrInvalidMarker
	}

	parts := strings.SplitN(string(raw), "_", 2)
	if len(parts) != 2 || parts[1] == "" {
		return time.Time{}, "", ErrInvalidMarker
	}

	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", ErrInvalidMarker
	}

	return time.Unix(0, nanos), parts[1], nil
}
