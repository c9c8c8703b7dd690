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

type RefundService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	appRepo     *repository.AppRepository
	accountRepo *repository.AccountRepository
	tradeRepo   *repository.TradeRepository
	refundRepo  *repository.RefundRepository
	billRepo    *repository.BillRepository
	outboxRepo  *repository.OutboxRepository
}

func NewRefundService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *RefundService {
	return &RefundService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		appRepo:     repository.NewAppRepository(db),
		accountRepo: repository.NewAccountRepository(db),
		tradeRepo:   repository.NewTradeRepository(db),
		refundRepo:  repository.NewRefundRepository(db),
		billRepo:    repository.NewBillRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
	}
}

// RefundRequest 退款请求，trade_id 和 out_order_id 二选一
type RefundRequest struct {
	AppID         string
	TradeID       string
	OutOrderID    string
	OutRefundID   string // 外部退款单号，应用内唯一，幂等键
	RefundAmounts decimal.Decimal
	RefundReason  string
	Remark        string
}

// Refund 退款
//
// 退款金额按原交易的余额/券支付比例拆分：
//
//	real_refund   = round(refund_amounts * |amounts| / payable_amounts, 2)
//	coupon_refund = refund_amounts - real_refund
//
// 余额部分入账到付款账户，券部分只在退款记录中记账，不返还代金券。
// 累计退款（成功+退款中）不允许超过原交易应付金额。
func (s *RefundService) Refund(ctx context.Context, req *RefundRequest) (*model.RefundRecord, error) {
	app, err := s.checkApp(ctx, req.AppID)
	if err != nil {
		return nil, err
	}

	if !req.RefundAmounts.IsPositive() || req.RefundAmounts.Exponent() < -2 {
		return nil, errcode.ErrInvalidRefundAmount
	}

	trade, err := s.findTrade(ctx, app.ID, req.TradeID, req.OutOrderID)
	if err != nil {
		return nil, err
	}
	if trade.Status != model.TradeStatusSuccess {
		return nil, errcode.ErrBadRequest.WithMessage("交易状态不支持退款")
	}

	// 幂等校验：退款单号已存在且非失败状态，拒绝
	prev, err := s.refundRepo.GetByOutRefundID(ctx, app.ID, req.OutRefundID)
	if err != nil {
		return nil, fmt.Errorf("查询退款记录失败: %w", err)
	}
	if prev != nil && prev.Status != model.RefundStatusError {
		return nil, errcode.ErrOutRefundIdExists
	}

	// 按交易维度加分布式锁，串行化同一笔交易的并发退款
	if s.redisClient != nil {
		refundLock := lock.NewTradeLock(s.redisClient, trade.ID)
		if err := refundLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
			return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
		}
		defer refundLock.Unlock(ctx)

		prev, err = s.refundRepo.GetByOutRefundID(ctx, app.ID, req.OutRefundID)
		if err != nil {
			return nil, fmt.Errorf("查询退款记录失败: %w", err)
		}
		if prev != nil && prev.Status != model.RefundStatusError {
			return nil, errcode.ErrOutRefundIdExists
		}
	}

	// 累计退款不能超过原交易应付金额
	refunded, err := s.refundRepo.SumRefundedAmounts(ctx, app.ID, trade.ID)
	if err != nil {
		return nil, fmt.Errorf("查询已退款金额失败: %w", err)
	}
	if refunded.Add(req.RefundAmounts).GreaterThan(trade.PayableAmounts) {
		return nil, errcode.ErrRefundAmountsExceedTotal
	}

	realRefund, couponRefund := splitRefund(req.RefundAmounts, trade)

	now := time.Now()
	record := &model.RefundRecord{
		ID:            idgen.GenerateRefundID(),
		TradeID:       trade.ID,
		OutOrderID:    trade.OrderID,
		OutRefundID:   req.OutRefundID,
		AppID:         app.ID,
		AppServiceID:  trade.AppServiceID,
		RefundReason:  req.RefundReason,
		TotalAmounts:  trade.PayableAmounts,
		RefundAmounts: req.RefundAmounts,
		RealRefund:    realRefund,
		CouponRefund:  couponRefund,
		Status:        model.RefundStatusWait,
		Remark:        req.Remark,
		OwnerType:     trade.PayerType,
		OwnerID:       trade.PayerID,
		OwnerName:     trade.PayerName,
		CreationTime:  now,
	}

	account, err := s.accountRepo.Get(ctx, trade.PayerType, trade.PayerID)
	if err != nil {
		if !errors.Is(err, repository.ErrAccountNotFound) {
			return nil, fmt.Errorf("查询入账账户失败: %w", err)
		}
		// 入账账户不存在：落失败记录，不产生流水，调用方可修复后重试
		// 同退款单号的旧失败记录与新记录在同一事务内换掉
		record.Status = model.RefundStatusError
		record.StatusDesc = "退款入账失败：账户不存在"
		err = s.db.Transaction(func(tx *gorm.DB) error {
			if prev != nil {
				if err := s.refundRepo.DeleteByID(ctx, tx, prev.ID); err != nil {
					return fmt.Errorf("清理失败退款记录失败: %w", err)
				}
			}
			if err := s.refundRepo.Create(ctx, tx, record); err != nil {
				return fmt.Errorf("创建退款记录失败: %w", err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		log.Printf("退款入账失败: refundID=%s, tradeID=%s, owner=%s:%s 账户不存在",
			record.ID, trade.ID, trade.PayerType, trade.PayerID)
		return record, nil
	}

	record.InAccount = fmt.Sprintf("%d", account.ID)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		// 同退款单号的失败记录被本次退款覆盖
		if prev != nil {
			if err := s.refundRepo.DeleteByID(ctx, tx, prev.ID); err != nil {
				return fmt.Errorf("清理失败退款记录失败: %w", err)
			}
		}

		if realRefund.IsPositive() {
			if err := s.accountRepo.Increase(ctx, tx, trade.PayerType, trade.PayerID, realRefund); err != nil {
				return fmt.Errorf("退款入账失败: %w", err)
			}
		}

		record.Status = model.RefundStatusSuccess
		record.SuccessTime = &now
		if err := s.refundRepo.Create(ctx, tx, record); err != nil {
			return fmt.Errorf("创建退款记录失败: %w", err)
		}

		after, err := s.accountRepo.GetTx(ctx, tx, trade.PayerType, trade.PayerID)
		if err != nil {
			return fmt.Errorf("查询账户余额失败: %w", err)
		}

		bill := &model.TransactionBill{
			ID:           idgen.GenerateBillID(),
			Subject:      req.RefundReason,
			Account:      record.InAccount,
			TradeType:    model.TradeTypeRefund,
			TradeID:      record.ID,
			OutTradeNo:   req.OutRefundID,
			TradeAmounts: req.RefundAmounts,
			Amounts:      realRefund,
			CouponAmount: couponRefund,
			AfterBalance: after.Balance,
			OwnerType:    trade.PayerType,
			OwnerID:      trade.PayerID,
			OwnerName:    trade.PayerName,
			AppServiceID: trade.AppServiceID,
			AppID:        app.ID,
			Remark:       req.Remark,
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

	log.Printf("退款成功: refundID=%s, tradeID=%s, real=%s, coupon=%s",
		record.ID, trade.ID, record.RealRefund, record.CouponRefund)

	return record, nil
}

// GetRefund 查询退款记录，refund_id 和 out_refund_id 二选一
func (s *RefundService) GetRefund(ctx context.Context, appID, refundID, outRefundID string) (*model.RefundRecord, error) {
	if _, err := s.checkApp(ctx, appID); err != nil {
		return nil, err
	}

	if refundID != "" {
		record, err := s.refundRepo.GetByID(ctx, refundID)
		if err != nil {
			if errors.Is(err, repository.ErrRefundNotFound) {
				return nil, errcode.ErrNoSuchOutRefundId
			}
			return nil, err
		}
		if record.AppID != appID {
			return nil, errcode.ErrNoSuchOutRefundId
		}
		return record, nil
	}

	if outRefundID != "" {
		record, err := s.refundRepo.GetByOutRefundID(ctx, appID, outRefundID)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, errcode.ErrNoSuchOutRefundId
		}
		return record, nil
	}

	return nil, errcode.ErrBadRequest.WithMessage("refund_id 和 out_refund_id 不能同时为空")
}

func (s *RefundService) checkApp(ctx context.Context, appID string) (*model.PayApp, error) {
	app, err := s.appRepo.GetApp(ctx, appID)
	if err != nil {
		if errors.Is(err, repository.ErrAppNotFound) {
			return nil, errcode.ErrNoSuchApp
		}
		return nil, err
	}
	return app, checkAppStatus(app)
}

func (s *RefundService) findTrade(ctx context.Context, appID, tradeID, outOrderID string) (*model.PaymentHistory, error) {
	if tradeID != "" {
		trade, err := s.tradeRepo.GetByID(ctx, tradeID)
		if err != nil {
			if errors.Is(err, repository.ErrTradeNotFound) {
				return nil, errcode.ErrNoSuchTrade
			}
			return nil, err
		}
		if trade.AppID != appID {
			return nil, errcode.ErrNotOwnTrade
		}
		return trade, nil
	}

	if outOrderID != "" {
		trade, err := s.tradeRepo.GetByOrderID(ctx, appID, outOrderID)
		if err != nil {
			return nil, err
		}
		if trade == nil {
			return nil, errcode.ErrNoSuchOutOrderId
		}
		return trade, nil
	}

	return nil, errcode.ErrMissingTradeId
}

func (s *RefundService) tradeEventTopic() string {
	if s.cfg == nil {
		return ""
	}
	return s.cfg.Kafka.Topic.TradeEvent
}

// splitRefund 按原交易余额支付占比拆分退款金额
// 余额部分四舍五入到分，券部分取差值，两者之和恰等于退款金额
func splitRefund(refundAmounts decimal.Decimal, trade *model.PaymentHistory) (realRefund, couponRefund decimal.Decimal) {
	if trade.PayableAmounts.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	realRefund = refundAmounts.Mul(trade.Amounts.Abs()).Div(trade.PayableAmounts).Round(2)
	couponRefund = refundAmounts.Sub(realRefund)
	return realRefund, couponRefund
}
