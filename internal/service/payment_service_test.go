package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/infrastructure/database"
	"walletpay/internal/model"
	"walletpay/pkg/errcode"
	"walletpay/pkg/idgen"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testAppID        = "app-test-0001"
	testAppServiceID = "svc-test-0001"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	idgen.Init(1)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{Secret: "test-secret"},
		Business: config.BusinessConfig{
			MaxPayAmount:  "100000",
			MaxRetryCount: 3,
		},
	}
}

func seedApp(t *testing.T, db *gorm.DB, status string) *model.PayApp {
	t.Helper()
	app := &model.PayApp{
		ID:     testAppID,
		Name:   "云主机服务",
		Status: status,
	}
	require.NoError(t, db.Create(app).Error)
	require.NoError(t, db.Create(&model.PayAppService{
		ID:    testAppServiceID,
		AppID: app.ID,
		Name:  "云主机",
	}).Error)
	return app
}

func seedAccount(t *testing.T, db *gorm.DB, owner model.Owner, balance string) *model.PointAccount {
	t.Helper()
	account := &model.PointAccount{
		OwnerType: owner.Type,
		OwnerID:   owner.ID,
		OwnerName: owner.Name,
		Balance:   mustDecimal(t, balance),
	}
	require.NoError(t, db.Create(account).Error)
	return account
}

func seedCoupon(t *testing.T, db *gorm.DB, owner model.Owner, balance string, expiration time.Time) *model.CashCoupon {
	t.Helper()
	coupon := &model.CashCoupon{
		ID:             idgen.GenerateCouponID(),
		AppServiceID:   testAppServiceID,
		FaceValue:      mustDecimal(t, balance),
		Balance:        mustDecimal(t, balance),
		EffectiveTime:  time.Now().Add(-time.Hour),
		ExpirationTime: expiration,
		Status:         model.CouponStatusAvailable,
		OwnerType:      owner.Type,
		OwnerID:        owner.ID,
	}
	require.NoError(t, db.Create(coupon).Error)
	return coupon
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func payRequest(owner model.Owner, orderID, amounts string) *PayRequest {
	return &PayRequest{
		Owner:        owner,
		AppID:        testAppID,
		AppServiceID: testAppServiceID,
		OrderID:      orderID,
		Amounts:      decimal.RequireFromString(amounts),
		Subject:      "云主机月度计费",
	}
}

func TestPayWithBalanceOnly(t *testing.T) {
	db := newTestDB(t)
	seedApp(t, db, model.AppStatusNormal)
	owner := model.UserOwner("alice", "alice")
	seedAccount(t, db, owner, "100.00")

	svc := NewPaymentService(db, nil, testConfig())
	ctx := context.Background()

	history, err := svc.Pay(ctx, payRequest(owner, "order-001", "30.50"))
	require.NoError(t, err)

	assert.Equal(t, model.TradeStatusSuccess, history.Status)
	assert.Equal(t, model.PaymentMethodBalance, history.PaymentMethod)
	assert.True(t, history.PayableAmounts.Equal(mustDecimal(t, "30.50")))
	assert.True(t, history.Amounts.Equal(mustDecimal(t, "-30.50")))
	assert.True(t, history.CouponAmount.IsZero())
	require.NotNil(t, history.PaymentTime)

	account, err := svc.accountRepo.Get(ctx, owner.Type, owner.ID)
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(mustDecimal(t, "69.50")))

	var bill model.TransactionBill
	require.NoError(t, db.Where("trade_id = ?", history.ID).First(&bill).Error)
	assert.Equal(t, model.TradeTypePayment, bill.TradeType)
	assert.Equal(t, "order-001", bill.OutTradeNo)
	assert.True(t, bill.AfterBalance.Equal(mustDecimal(t, "69.50")))
}

func TestPayConsumesSoonestExpiringCouponFirst(t *testing.T) {
	db := newTestDB(t)
	seedApp(t, db, model.AppStatusNormal)
	owner := model.UserOwner("alice", "alice")
	seedAccount(t, db, owner, "50.00")
	later := seedCoupon(t, db, owner, "100.00", time.Now().Add(72*time.Hour))
	sooner := seedCoupon(t, db, owner, "20.00", time.Now().Add(24*time.Hour))

	svc := NewPaymentService(db, nil, testConfig())
	ctx := context.Background()

	history, err := svc.Pay(ctx, payRequest(owner, "order-002", "60.00"))
	require.NoError(t, err)

	// 券足够覆盖，余额不动
	assert.Equal(t, model.PaymentMethodCoupon, history.PaymentMethod)
	assert.True(t, history.Amounts.IsZero())
	assert.True(t, history.CouponAmount.Equal(mustDecimal(t, "-60.00")))

	c1, err := svc.couponRepo.Get(ctx, sooner.ID)
	require.NoError(t, err)
	assert.True(t, c1.Balance.IsZero(), "先过期的券应当先被用光")

	c2, err := svc.couponRepo.Get(ctx, later.ID)
	require.NoError(t, err)
	assert.True(t, c2.Balance.Equal(mustDecimal(t, "60.00")))

	account, err := svc.accountRepo.Get(ctx, owner.Type, owner.ID)
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(mustDecimal(t, "50.00")))

	histories, err := svc.tradeRepo.ListCouponHistories(ctx, history.ID)
	require.NoError(t, err)
	require.Len(t, histories, 2)
	byCoupon := map[string]decimal.Decimal{}
	for _, h := range histories {
		byCoupon[h.CashCouponID] = h.Amounts
	}
	assert.True(t, byCoupon[sooner.ID].Equal(mustDecimal(t, "-20.00")))
	assert.True(t, byCoupon[later.ID].Equal(mustDecimal(t, "-40.00")))
}

func TestPayWithBalanceAndCoupon(t *testing.T) {
	db := newTestDB(t)
	seedApp(t, db, model.AppStatusNormal)
	owner := model.UserOwner("bob", "bob")
	seedAccount(t, db, owner, "100.00")
	seedCoupon(t, db, owner, "30.00", time.Now().Add(24*time.Hour))

	svc := NewPaymentService(db, nil, testConfig())

	history, err := svc.Pay(context.Background(), payRequest(owner, "order-003", "50.00"))
	require.NoError(t, err)

	assert.Equal(t, model.PaymentMethodBalanceCoupon, history.PaymentMethod)
	assert.True(t, history.CouponAmount.Equal(mustDecimal(t, "-30.00")))
	assert.True(t, history.Amounts.Equal(mustDecimal(t, "-20.00")))
	// 应付金额恒等于余额扣费与券扣费绝对值之和
	assert.True(t, history.PayableAmounts.Equal(
		history.Amounts.Abs().Add(history.CouponAmount.Abs())))
}

func TestPayBalanceNotEnough(t *testing.T) {
	db := newTestDB(t)
	seedApp(t, db, model.AppStatusNormal)
	owner := model.UserOwner("carol", "carol")
	seedAccount(t, db, owner, "10.00")

	svc := NewPaymentService(db, nil, testConfig())

	_, err := svc.Pay(context.Background(), payRequest(owner, "order-004", "50.00"))
	assert.ErrorIs(t, err, errcode.ErrBalanceNotEnough)

	// 账户余额不变，不留支付记录
	account, getErr := svc.accountRepo.Get(context.Background(), owner.Type, owner.ID)
	require.NoError(t, getErr)
	assert.True(t, account.Balance.Equal(mustDecimal(t, "10.00")))

	var count int64
	db.Model(&model.PaymentHistory{}).Count(&count)
	assert.Zero(t, count)
}

func TestPayExpiredCouponIgnored(t *testing.T) {
	db := newTestDB(t)
	seedApp(t, db, model.AppStatusNormal)
	owner := model.UserOwner("dave", "dave")
	seedAccount(t, db, owner, "5.00")
	seedCoupon(t, db, owner, "100.00", time.Now().Add(-time.Minute))

	svc := NewPaymentService(db, nil, testConfig())

	_, err := svc.Pay(context.Background(), payRequest(owner, "order-005", "50.00"))
	assert.ErrorIs(t, err, errcode.ErrBalanceNotEnough)
}

func TestPayDuplicateOrderID(t *testing.T) {
	db := newTestDB(t)
	seedApp(t, db, model.AppStatusNormal)
	owner := model.UserOwner("alice", "alice")
	seedAccount(t, db, owner, "100.00")

	svc := NewPaymentService(db, nil, testConfig())
	ctx := context.Background()

	_, err := svc.Pay(ctx, payRequest(owner, "order-006", "10.00"))
	require.NoError(t, err)

	_, err = svc.Pay(ctx, payRequest(owner, "order-006", "10.00"))
	assert.ErrorIs(t, err, errcode.ErrOrderIdExist)

	account, err := svc.accountRepo.Get(ctx, owner.Type, owner.ID)
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(mustDecimal(t, "90.00")), "重复订单不应重复扣费")
}

func TestPayInvalidAmounts(t *testing.T) {
	db := newTestDB(t)
	seedApp(t, db, model.AppStatusNormal)
	owner := model.UserOwner("alice", "alice")
	seedAccount(t, db, owner, "100.00")

	svc := NewPaymentService(db, nil, testConfig())
	ctx := context.Background()

	cases := []struct {
		name    string
		amounts string
	}{
		{"零金额", "0"},
		{"负金额", "-1.00"},
		{"超过两位小数", "1.234"},
		{"超出单笔上限", "999999999"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Pay(ctx, payRequest(owner, "order-"+tc.name, tc.amounts))
			require.Error(t, err)
			assert.Equal(t, errcode.ErrBadRequest.Code, errcode.From(err).Code)
		})
	}
}

func TestPayAppStatusGate(t *testing.T) {
	t.Run("未审核应用", func(t *testing.T) {
		db := newTestDB(t)
		seedApp(t, db, model.AppStatusUnaudited)
		owner := model.UserOwner("alice", "alice")
		seedAccount(t, db, owner, "100.00")

		svc := NewPaymentService(db, nil, testConfig())
		_, err := svc.Pay(context.Background(), payRequest(owner, "order-007", "10.00"))
		assert.ErrorIs(t, err, errcode.ErrAppStatusUnaudited)
	})

	t.Run("禁用应用", func(t *testing.T) {
		db := newTestDB(t)
		seedApp(t, db, model.AppStatusBan)
		owner := model.UserOwner("alice", "alice")
		seedAccount(t, db, owner, "100.00")

		svc := NewPaymentService(db, nil, testConfig())
		_, err := svc.Pay(context.Background(), payRequest(owner, "order-008", "10.00"))
		assert.ErrorIs(t, err, errcode.ErrAppStatusBan)
	})

	t.Run("应用不存在", func(t *testing.T) {
		db := newTestDB(t)
		svc := NewPaymentService(db, nil, testConfig())
		_, err := svc.Pay(context.Background(),
			payRequest(model.UserOwner("alice", "alice"), "order-009", "10.00"))
		assert.ErrorIs(t, err, errcode.ErrNoSuchApp)
	})
}

func TestPayCreatesAccountOnFirstCharge(t *testing.T) {
	db := newTestDB(t)
	seedApp(t, db, model.AppStatusNormal)
	owner := model.UserOwner("newcomer", "newcomer")
	seedCoupon(t, db, owner, "20.00", time.Now().Add(24*time.Hour))

	svc := NewPaymentService(db, nil, testConfig())
	ctx := context.Background()

	// 没有余额账户但券足够，首次扣费自动开户
	history, err := svc.Pay(ctx, payRequest(owner, "order-010", "15.00"))
	require.NoError(t, err)
	assert.Equal(t, model.PaymentMethodCoupon, history.PaymentMethod)

	account, err := svc.accountRepo.Get(ctx, owner.Type, owner.ID)
	require.NoError(t, err)
	assert.True(t, account.Balance.IsZero())
}

func TestPayWritesTradeEventToOutbox(t *testing.T) {
	db := newTestDB(t)
	seedApp(t, db, model.AppStatusNormal)
	owner := model.UserOwner("alice", "alice")
	seedAccount(t, db, owner, "100.00")

	cfg := testConfig()
	cfg.Kafka.Topic.TradeEvent = "wallet-trade-event"
	svc := NewPaymentService(db, nil, cfg)

	_, err := svc.Pay(context.Background(), payRequest(owner, "order-011", "10.00"))
	require.NoError(t, err)

	var messages []model.OutboxMessage
	require.NoError(t, db.Find(&messages).Error)
	require.Len(t, messages, 1)
	assert.Equal(t, "wallet-trade-event", messages[0].Topic)
	assert.Equal(t, model.OutboxStatusPending, messages[0].Status)
	assert.Contains(t, messages[0].Payload, `"trade_type":"payment"`)
}

func TestGetTradeQueries(t *testing.T) {
	db := newTestDB(t)
	seedApp(t, db, model.AppStatusNormal)
	owner := model.UserOwner("alice", "alice")
	seedAccount(t, db, owner, "100.00")

	svc := NewPaymentService(db, nil, testConfig())
	ctx := context.Background()

	history, err := svc.Pay(ctx, payRequest(owner, "order-012", "10.00"))
	require.NoError(t, err)

	t.Run("按交易编号查询", func(t *testing.T) {
		got, err := svc.GetTradeByID(ctx, testAppID, history.ID)
		require.NoError(t, err)
		assert.Equal(t, history.ID, got.ID)
	})

	t.Run("按订单编号查询", func(t *testing.T) {
		got, err := svc.GetTradeByOrderID(ctx, testAppID, "order-012")
		require.NoError(t, err)
		assert.Equal(t, history.ID, got.ID)
	})

	t.Run("交易不存在", func(t *testing.T) {
		_, err := svc.GetTradeByID(ctx, testAppID, "no-such-trade")
		assert.ErrorIs(t, err, errcode.ErrNoSuchTrade)
	})

	t.Run("非本应用的交易", func(t *testing.T) {
		_, err := svc.GetTradeByID(ctx, "other-app", history.ID)
		assert.ErrorIs(t, err, errcode.ErrNotOwnTrade)
	})
}
