package repository

import (
	"context"
	"errors"

	"walletpay/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrRefundNotFound = errors.New("退款记录不存在")

type RefundRepository struct {
	db *gorm.DB
}

func NewRefundRepository(db *gorm.DB) *RefundRepository {
	return &RefundRepository{db: db}
}

func (r *RefundRepository) Create(ctx context.Context, tx *gorm.DB, refund *model.RefundRecord) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(refund).Error
}

func (r *RefundRepository) GetByID(ctx context.Context, refundID string) (*model.RefundRecord, error) {
	var refund model.RefundRecord
	err := r.db.WithContext(ctx).Where("id = ?", refundID).First(&refund).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRefundNotFound
		}
		return nil, err
	}
	return &refund, nil
}

// GetByOutRefundID 按外部退款单号查询应用自己的退款记录，不存在返回 nil
func (r *RefundRepository) GetByOutRefundID(ctx context.Context, appID, outRefundID string) (*model.RefundRecord, error) {
	var refund model.RefundRecord
	err := r.db.WithContext(ctx).
		Where("app_id = ? AND out_refund_id = ?", appID, outRefundID).
		First(&refund).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &refund, nil
}

// DeleteByID 删除退款记录（仅用于覆盖同退款单号的失败记录）
// 与新记录的写入放进同一事务，避免旧记录删掉后新记录写入失败
func (r *RefundRepository) DeleteByID(ctx context.Context, tx *gorm.DB, refundID string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Where("id = ?", refundID).Delete(&model.RefundRecord{}).Error
}

// SumRefundedAmounts 查询一笔支付交易已退款（成功和退款中）的总金额
func (r *RefundRepository) SumRefundedAmounts(ctx context.Context, appID, tradeID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	row := r.db.WithContext(ctx).
		Model(&model.RefundRecord{}).
		Where("app_id = ? AND trade_id = ?", appID, tradeID).
		Where("status IN ?", []string{model.RefundStatusSuccess, model.RefundStatusWait}).
		Select("COALESCE(SUM(refund_amounts), 0)").
		Row()
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}
