package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"walletpay/internal/infrastructure/database"
	"walletpay/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	return db
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAccountGetOrCreate(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()
	owner := model.UserOwner("alice", "alice")

	first, err := repo.GetOrCreate(ctx, owner)
	require.NoError(t, err)
	assert.True(t, first.Balance.IsZero())

	second, err := repo.GetOrCreate(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "重复开户必须返回同一账户")

	var count int64
	db.Model(&model.PointAccount{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestAccountDeductGuard(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()
	owner := model.UserOwner("alice", "alice")

	_, err := repo.GetOrCreate(ctx, owner)
	require.NoError(t, err)
	require.NoError(t, repo.Increase(ctx, nil, owner.Type, owner.ID, dec("10.00")))

	t.Run("余额充足时扣减", func(t *testing.T) {
		require.NoError(t, repo.Deduct(ctx, nil, owner.Type, owner.ID, dec("4.00")))
		got, err := repo.Get(ctx, owner.Type, owner.ID)
		require.NoError(t, err)
		assert.True(t, got.Balance.Equal(dec("6.00")))
	})

	t.Run("余额不足时拒绝", func(t *testing.T) {
		err := repo.Deduct(ctx, nil, owner.Type, owner.ID, dec("100.00"))
		assert.ErrorIs(t, err, ErrBalanceNotEnough)

		got, err := repo.Get(ctx, owner.Type, owner.ID)
		require.NoError(t, err)
		assert.True(t, got.Balance.Equal(dec("6.00")), "失败的扣减不得改变余额")
	})

	t.Run("账户不存在", func(t *testing.T) {
		err := repo.Deduct(ctx, nil, model.OwnerTypeVO, "no-such-vo", dec("1.00"))
		assert.ErrorIs(t, err, ErrAccountNotFound)

		err = repo.Increase(ctx, nil, model.OwnerTypeVO, "no-such-vo", dec("1.00"))
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}

func TestAccountBalanceCentExact(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()
	owner := model.UserOwner("alice", "alice")

	_, err := repo.GetOrCreate(ctx, owner)
	require.NoError(t, err)
	require.NoError(t, repo.Increase(ctx, nil, owner.Type, owner.ID, dec("100.00")))
	require.NoError(t, repo.Deduct(ctx, nil, owner.Type, owner.ID, dec("1.99")))
	require.NoError(t, repo.Deduct(ctx, nil, owner.Type, owner.ID, dec("50.00")))

	got, err := repo.Get(ctx, owner.Type, owner.ID)
	require.NoError(t, err)
	// 余额必须分位精确，不得出现浮点尾巴
	assert.Equal(t, "48.01", got.Balance.String())
}

func TestAccountConcurrentDeduct(t *testing.T) {
	db := newTestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// sqlite 单连接串行化写入，避免并发写报 busy
	sqlDB.SetMaxOpenConns(1)
	repo := NewAccountRepository(db)
	ctx := context.Background()
	owner := model.UserOwner("alice", "alice")

	_, err = repo.GetOrCreate(ctx, owner)
	require.NoError(t, err)
	require.NoError(t, repo.Increase(ctx, nil, owner.Type, owner.ID, dec("10.00")))

	// 10个并发扣5元，只能成功2次，余额不会为负
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.Deduct(ctx, nil, owner.Type, owner.ID, dec("5.00")); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, successes)
	got, err := repo.Get(ctx, owner.Type, owner.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero())
	assert.False(t, got.Balance.IsNegative())
}
