package repository

import (
	"context"
	"errors"

	"walletpay/internal/model"

	"gorm.io/gorm"
)

var ErrTradeNotFound = errors.New("交易记录不存在")

type TradeRepository struct {
	db *gorm.DB
}

func NewTradeRepository(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

func (r *TradeRepository) Create(ctx context.Context, tx *gorm.DB, history *model.PaymentHistory) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(history).Error
}

func (r *TradeRepository) CreateCouponHistory(ctx context.Context, tx *gorm.DB, history *model.CashCouponPaymentHistory) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(history).Error
}

func (r *TradeRepository) GetByID(ctx context.Context, tradeID string) (*model.PaymentHistory, error) {
	var history model.PaymentHistory
	err := r.db.WithContext(ctx).Where("id = ?", tradeID).First(&history).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTradeNotFound
		}
		return nil, err
	}
	return &history, nil
}

// GetByOrderID 按外部订单ID查询应用自己的交易记录，不存在返回 nil
func (r *TradeRepository) GetByOrderID(ctx context.Context, appID, orderID string) (*model.PaymentHistory, error) {
	var history model.PaymentHistory
	err := r.db.WithContext(ctx).
		Where("app_id = ? AND order_id = ?", appID, orderID).
		First(&history).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &history, nil
}

// ListCouponHistories 查询一笔交易的代金券扣费记录
func (r *TradeRepository) ListCouponHistories(ctx context.Context, tradeID string) ([]*model.CashCouponPaymentHistory, error) {
	var histories []*model.CashCouponPaymentHistory
	err := r.db.WithContext(ctx).
		Where("payment_history_id = ?", tradeID).
		Order("creation_time ASC").
		Find(&histories).Error
	return histories, err
}
