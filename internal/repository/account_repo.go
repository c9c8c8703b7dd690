package repository

import (
	"context"
	"errors"

	"walletpay/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound  = errors.New("账户不存在")
	ErrBalanceNotEnough = errors.New("余额不足")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Get 查询账户，不存在返回 ErrAccountNotFound
func (r *AccountRepository) Get(ctx context.Context, ownerType, ownerID string) (*model.PointAccount, error) {
	return r.getWith(ctx, r.db, ownerType, ownerID)
}

// GetTx 在事务内查询账户（用于读取变动后的余额）
func (r *AccountRepository) GetTx(ctx context.Context, tx *gorm.DB, ownerType, ownerID string) (*model.PointAccount, error) {
	if tx == nil {
		tx = r.db
	}
	return r.getWith(ctx, tx, ownerType, ownerID)
}

func (r *AccountRepository) getWith(ctx context.Context, db *gorm.DB, ownerType, ownerID string) (*model.PointAccount, error) {
	var account model.PointAccount
	err := db.WithContext(ctx).
		Where("owner_type = ? AND owner_id = ?", ownerType, ownerID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetOrCreate 查询账户，不存在则创建，余额初始为 0
// 并发创建时依赖 (owner_type, owner_id) 唯一索引，冲突方忽略插入后重查
func (r *AccountRepository) GetOrCreate(ctx context.Context, owner model.Owner) (*model.PointAccount, error) {
	account, err := r.Get(ctx, owner.Type, owner.ID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	newAccount := &model.PointAccount{
		OwnerType: owner.Type,
		OwnerID:   owner.ID,
		OwnerName: owner.Name,
		Balance:   decimal.Zero,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_type"}, {Name: "owner_id"}},
			DoNothing: true,
		}).
		Create(newAccount).Error
	if err != nil {
		return nil, err
	}

	return r.Get(ctx, owner.Type, owner.ID)
}

// 余额 CAS 更新的最大重试次数
const balanceUpdateRetries = 16

// Deduct 扣减余额，余额不足返回 ErrBalanceNotEnough，余额不会被扣成负数
func (r *AccountRepository) Deduct(ctx context.Context, tx *gorm.DB, ownerType, ownerID string, amount decimal.Decimal) error {
	return r.updateBalance(ctx, tx, ownerType, ownerID, func(balance decimal.Decimal) (decimal.Decimal, error) {
		if balance.LessThan(amount) {
			return decimal.Zero, ErrBalanceNotEnough
		}
		return balance.Sub(amount), nil
	})
}

// Increase 增加余额
func (r *AccountRepository) Increase(ctx context.Context, tx *gorm.DB, ownerType, ownerID string, amount decimal.Decimal) error {
	return r.updateBalance(ctx, tx, ownerType, ownerID, func(balance decimal.Decimal) (decimal.Decimal, error) {
		return balance.Add(amount), nil
	})
}

// updateBalance 余额变动
//
// 新余额在应用侧用 decimal 算好再写回，不把加减法下推给数据库，
// 避免数值列在不同后端上出现浮点误差。丢失更新由旧余额相等的
// CAS 守卫拦截，未命中则重读重试。
func (r *AccountRepository) updateBalance(ctx context.Context, tx *gorm.DB, ownerType, ownerID string,
	compute func(balance decimal.Decimal) (decimal.Decimal, error)) error {
	if tx == nil {
		tx = r.db
	}

	for i := 0; i < balanceUpdateRetries; i++ {
		account, err := r.getWith(ctx, tx, ownerType, ownerID)
		if err != nil {
			return err
		}

		newBalance, err := compute(account.Balance)
		if err != nil {
			return err
		}

		result := tx.WithContext(ctx).
			Model(&model.PointAccount{}).
			Where("id = ? AND balance = ?", account.ID, account.Balance).
			Update("balance", newBalance)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 1 {
			return nil
		}
		// 余额被并发修改，重读后重试
	}

	return errors.New("余额更新冲突，重试超限")
}
