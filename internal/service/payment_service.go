package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/infrastructure/lock"
	"walletpay/internal/model"
	"walletpay/internal/repository"
	"walletpay/pkg/errcode"
	"walletpay/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 单笔支付金额上限的兜底值，可被配置覆盖
var defaultMaxPayAmount = decimal.NewFromInt(100000)

type PaymentService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	appRepo     *repository.AppRepository
	accountRepo *repository.AccountRepository
	couponRepo  *repository.CouponRepository
	tradeRepo   *repository.TradeRepository
	refundRepo  *repository.RefundRepository
	billRepo    *repository.BillRepository
	outboxRepo  *repository.OutboxRepository
}

func NewPaymentService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *PaymentService {
	return &PaymentService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		appRepo:     repository.NewAppRepository(db),
		accountRepo: repository.NewAccountRepository(db),
		couponRepo:  repository.NewCouponRepository(db),
		tradeRepo:   repository.NewTradeRepository(db),
		refundRepo:  repository.NewRefundRepository(db),
		billRepo:    repository.NewBillRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
	}
}

// PayRequest 扣费请求
type PayRequest struct {
	Owner        model.Owner
	AppID        string
	AppServiceID string
	OrderID      string // 外部订单ID，应用内唯一，幂等键
	Amounts      decimal.Decimal
	Subject      string
	Remark       string
	Executor     string
}

// Pay 扣费
//
// 【关键点】扣费是整个结算系统最核心的操作，需要保证：
// 1. 幂等性：相同的 (app_id, order_id) 只会扣费一次
// 2. 原子性：券扣减、余额扣减、支付记录、流水必须同时成功或同时失败
// 3. 优先消费代金券，先过期的券先用，余额补足差额
func (s *PaymentService) Pay(ctx context.Context, req *PayRequest) (*model.PaymentHistory, error) {
	app, err := s.checkApp(ctx, req.AppID)
	if err != nil {
		return nil, err
	}

	if err := validatePayAmounts(req.Amounts, s.maxPayAmount()); err != nil {
		return nil, err
	}

	// 幂等校验
	existing, err := s.tradeRepo.GetByOrderID(ctx, app.ID, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("查询支付记录失败: %w", err)
	}
	if existing != nil {
		return nil, errcode.ErrOrderIdExist
	}

	// 按付款账户维度加分布式锁，串行化同一账户的并发扣费
	if s.redisClient != nil {
		payLock := lock.NewOwnerLock(s.redisClient, "pay", req.Owner.Type, req.Owner.ID)
		if err := payLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
			return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
		}
		defer payLock.Unlock(ctx)

		// 获取锁后再次检查幂等
		existing, err = s.tradeRepo.GetByOrderID(ctx, app.ID, req.OrderID)
		if err != nil {
			return nil, fmt.Errorf("查询支付记录失败: %w", err)
		}
		if existing != nil {
			return nil, errcode.ErrOrderIdExist
		}
	}

	account, err := s.accountRepo.GetOrCreate(ctx, req.Owner)
	if err != nil {
		return nil, fmt.Errorf("获取账户信息失败: %w", err)
	}

	now := time.Now()
	coupons, err := s.couponRepo.ListUsable(ctx, req.Owner.Type, req.Owner.ID, req.AppServiceID, now)
	if err != nil {
		return nil, fmt.Errorf("查询可用代金券失败: %w", err)
	}

	couponTotal := decimal.Zero
	for _, c := range coupons {
		couponTotal = couponTotal.Add(c.Balance)
	}
	if account.Balance.Add(couponTotal).LessThan(req.Amounts) {
		return nil, errcode.ErrBalanceNotEnough
	}

	// 券能抵多少抵多少，剩下的走余额
	couponUsed := decimal.Min(couponTotal, req.Amounts)
	balanceUsed := req.Amounts.Sub(couponUsed)

	history := &model.PaymentHistory{
		ID:             idgen.GenerateTradeID(),
		Subject:        req.Subject,
		PaymentMethod:  paymentMethod(balanceUsed, couponUsed),
		PaymentAccount: fmt.Sprintf("%d", account.ID),
		Executor:       req.Executor,
		PayerID:        req.Owner.ID,
		PayerName:      req.Owner.Name,
		PayerType:      req.Owner.Type,
		PayableAmounts: req.Amounts,
		Amounts:        balanceUsed.Neg(),
		CouponAmount:   couponUsed.Neg(),
		Status:         model.TradeStatusSuccess,
		Remark:         req.Remark,
		OrderID:        req.OrderID,
		AppID:          app.ID,
		AppServiceID:   req.AppServiceID,
		CreationTime:   now,
		PaymentTime:    &now,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		// 按先过期先用的顺序消费代金券
		remaining := couponUsed
		for _, coupon := range coupons {
			if !remaining.IsPositive() {
				break
			}
			use := decimal.Min(coupon.Balance, remaining)
			if err := s.couponRepo.Consume(ctx, tx, coupon.ID, use); err != nil {
				if errors.Is(err, repository.ErrCouponBalanceNotEnough) {
					return errcode.ErrBalanceNotEnough
				}
				return fmt.Errorf("代金券扣费失败: %w", err)
			}

			couponHistory := &model.CashCouponPaymentHistory{
				ID:               idgen.GenerateBillID(),
				PaymentHistoryID: history.ID,
				CashCouponID:     coupon.ID,
				Amounts:          use.Neg(),
				BeforePayment:    coupon.Balance,
				AfterPayment:     coupon.Balance.Sub(use),
			}
			if err := s.tradeRepo.CreateCouponHistory(ctx, tx, couponHistory); err != nil {
				return fmt.Errorf("记录代金券扣费失败: %w", err)
			}
			remaining = remaining.Sub(use)
		}

		if balanceUsed.IsPositive() {
			if err := s.accountRepo.Deduct(ctx, tx, req.Owner.Type, req.Owner.ID, balanceUsed); err != nil {
				if errors.Is(err, repository.ErrBalanceNotEnough) {
					return errcode.ErrBalanceNotEnough
				}
				return fmt.Errorf("余额扣费失败: %w", err)
			}
		}

		if err := s.tradeRepo.Create(ctx, tx, history); err != nil {
			return fmt.Errorf("创建支付记录失败: %w", err)
		}

		after, err := s.accountRepo.GetTx(ctx, tx, req.Owner.Type, req.Owner.ID)
		if err != nil {
			return fmt.Errorf("查询账户余额失败: %w", err)
		}

		bill := &model.TransactionBill{
			ID:           idgen.GenerateBillID(),
			Subject:      req.Subject,
			Account:      fmt.Sprintf("%d", account.ID),
			TradeType:    model.TradeTypePayment,
			TradeID:      history.ID,
			OutTradeNo:   req.OrderID,
			TradeAmounts: req.Amounts,
			Amounts:      balanceUsed.Neg(),
			CouponAmount: couponUsed.Neg(),
			AfterBalance: after.Balance,
			OwnerType:    req.Owner.Type,
			OwnerID:      req.Owner.ID,
			OwnerName:    req.Owner.Name,
			AppServiceID: req.AppServiceID,
			AppID:        app.ID,
			Remark:       req.Remark,
			Operator:     req.Executor,
			CreationTime: now,
		}
		if err := s.billRepo.Create(ctx, tx, bill); err != nil {
			return fmt.Errorf("记录交易流水失败: %w", err)
		}

		return writeTradeEvent(ctx, tx, s.outboxRepo, s.tradeEventTopic(), bill)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("扣费成功: tradeID=%s, owner=%s:%s, amounts=%s, coupon=%s",
		history.ID, req.Owner.Type, req.Owner.ID, history.Amounts, history.CouponAmount)

	return history, nil
}

// GetTradeByID 查询交易记录，只允许应用访问自己的交易
func (s *PaymentService) GetTradeByID(ctx context.Context, appID, tradeID string) (*model.PaymentHistory, error) {
	history, err := s.tradeRepo.GetByID(ctx, tradeID)
	if err != nil {
		if errors.Is(err, repository.ErrTradeNotFound) {
			return nil, errcode.ErrNoSuchTrade
		}
		return nil, err
	}

	if history.AppID != appID {
		return nil, errcode.ErrNotOwnTrade
	}
	return history, nil
}

// GetTradeByOrderID 按外部订单ID查询交易记录
func (s *PaymentService) GetTradeByOrderID(ctx context.Context, appID, orderID string) (*model.PaymentHistory, error) {
	history, err := s.tradeRepo.GetByOrderID(ctx, appID, orderID)
	if err != nil {
		return nil, err
	}
	if history == nil {
		return nil, errcode.ErrNoSuchTrade
	}
	return history, nil
}

// GetRefundedAmounts 查询一笔交易已成功退款的总金额
func (s *PaymentService) GetRefundedAmounts(ctx context.Context, appID string, history *model.PaymentHistory) (decimal.Decimal, error) {
	if history.Status != model.TradeStatusSuccess {
		return decimal.Zero, nil
	}
	total, err := s.refundRepo.SumRefundedAmounts(ctx, appID, history.ID)
	if err != nil {
		return decimal.Zero, err
	}
	return total.Round(2), nil
}

func (s *PaymentService) checkApp(ctx context.Context, appID string) (*model.PayApp, error) {
	app, err := s.appRepo.GetApp(ctx, appID)
	if err != nil {
		if errors.Is(err, repository.ErrAppNotFound) {
			return nil, errcode.ErrNoSuchApp
		}
		return nil, err
	}
	return app, checkAppStatus(app)
}

func (s *PaymentService) maxPayAmount() decimal.Decimal {
	if s.cfg != nil && s.cfg.Business.MaxPayAmount != "" {
		if max, err := decimal.NewFromString(s.cfg.Business.MaxPayAmount); err == nil {
			return max
		}
	}
	return defaultMaxPayAmount
}

func (s *PaymentService) tradeEventTopic() string {
	if s.cfg == nil {
		return ""
	}
	return s.cfg.Kafka.Topic.TradeEvent
}

func checkAppStatus(app *model.PayApp) error {
	switch app.Status {
	case model.AppStatusNormal:
		return nil
	case model.AppStatusUnaudited:
		return errcode.ErrAppStatusUnaudited
	case model.AppStatusBan:
		return errcode.ErrAppStatusBan
	default:
		return errcode.ErrAppStatusUnaudited
	}
}

// validatePayAmounts 金额必须为正、最多两位小数、不超过上限
func validatePayAmounts(amounts, max decimal.Decimal) error {
	if !amounts.IsPositive() {
		return errcode.ErrBadRequest.WithMessage("交易金额必须大于0")
	}
	if amounts.Exponent() < -2 {
		return errcode.ErrBadRequest.WithMessage("交易金额最多2位小数")
	}
	if amounts.GreaterThan(max) {
		return errcode.ErrBadRequest.WithMessage("交易金额超出允许范围")
	}
	return nil
}

func paymentMethod(balanceUsed, couponUsed decimal.Decimal) string {
	switch {
	case couponUsed.IsZero():
		return model.PaymentMethodBalance
	case balanceUsed.IsZero():
		return model.PaymentMethodCoupon
	default:
		return model.PaymentMethodBalanceCoupon
	}
}
