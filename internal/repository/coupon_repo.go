package repository

import (
	"context"
	"errors"
	"time"

	"walletpay/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrCouponNotFound         = errors.New("代金券不存在")
	ErrCouponBalanceNotEnough = errors.New("代金券余额不足")
)

type CouponRepository struct {
	db *gorm.DB
}

func NewCouponRepository(db *gorm.DB) *CouponRepository {
	return &CouponRepository{db: db}
}

func (r *CouponRepository) Create(ctx context.Context, coupon *model.CashCoupon) error {
	return r.db.WithContext(ctx).Create(coupon).Error
}

func (r *CouponRepository) Get(ctx context.Context, id string) (*model.CashCoupon, error) {
	var coupon model.CashCoupon
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&coupon).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, err
	}
	return &coupon, nil
}

// ListUsable 查询指定拥有者在指定子服务下当前可用的代金券
// 先过期的排前面，尽量减少券浪费
func (r *CouponRepository) ListUsable(
	ctx context.Context, ownerType, ownerID, appServiceID string, at time.Time,
) ([]*model.CashCoupon, error) {
	var coupons []*model.CashCoupon
	err := r.db.WithContext(ctx).
		Where("owner_type = ? AND owner_id = ?", ownerType, ownerID).
		Where("app_service_id = ?", appServiceID).
		Where("status = ?", model.CouponStatusAvailable).
		Where("effective_time <= ? AND expiration_time >= ?", at, at).
		Where("balance > ?", decimal.Zero).
		Order("expiration_time ASC, id ASC").
		Find(&coupons).Error
	return coupons, err
}

// Consume 扣减券余额，券余额单调不增
//
// 新余额在应用侧用 decimal 算好再 CAS 写回，和账户余额一样
// 不把减法下推给数据库，保证各后端上分位精确。
func (r *CouponRepository) Consume(ctx context.Context, tx *gorm.DB, couponID string, amount decimal.Decimal) error {
	if tx == nil {
		tx = r.db
	}

	for i := 0; i < balanceUpdateRetries; i++ {
		var coupon model.CashCoupon
		err := tx.WithContext(ctx).Where("id = ?", couponID).First(&coupon).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCouponNotFound
			}
			return err
		}
		if coupon.Balance.LessThan(amount) {
			return ErrCouponBalanceNotEnough
		}

		result := tx.WithContext(ctx).
			Model(&model.CashCoupon{}).
			Where("id = ? AND balance = ?", couponID, coupon.Balance).
			Update("balance", coupon.Balance.Sub(amount))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 1 {
			return nil
		}
	}

	return errors.New("券余额更新冲突，重试超限")
}
