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

type AccountService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	accountRepo *repository.AccountRepository
	billRepo    *repository.BillRepository
	outboxRepo  *repository.OutboxRepository
}

func NewAccountService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *AccountService {
	return &AccountService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		accountRepo: repository.NewAccountRepository(db),
		billRepo:    repository.NewBillRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
	}
}

// GetBalance 查询余额账户，不存在返回 ErrNoSuchBalanceAccount
func (s *AccountService) GetBalance(ctx context.Context, owner model.Owner) (*model.PointAccount, error) {
	account, err := s.accountRepo.Get(ctx, owner.Type, owner.ID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, errcode.ErrNoSuchBalanceAccount
		}
		return nil, err
	}
	return account, nil
}

// RechargeRequest 充值请求
type RechargeRequest struct {
	Owner    model.Owner
	Amounts  decimal.Decimal
	Remark   string
	Operator string
}

// Recharge 余额充值，账户不存在时自动开户
func (s *AccountService) Recharge(ctx context.Context, req *RechargeRequest) (*model.TransactionBill, error) {
	if !req.Amounts.IsPositive() || req.Amounts.Exponent() < -2 {
		return nil, errcode.ErrBadRequest.WithMessage("充值金额必须为正且最多2位小数")
	}

	if s.redisClient != nil {
		rcLock := lock.NewOwnerLock(s.redisClient, "recharge", req.Owner.Type, req.Owner.ID)
		if err := rcLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
			return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
		}
		defer rcLock.Unlock(ctx)
	}

	account, err := s.accountRepo.GetOrCreate(ctx, req.Owner)
	if err != nil {
		return nil, fmt.Errorf("获取账户信息失败: %w", err)
	}

	now := time.Now()
	bill := &model.TransactionBill{
		ID:           idgen.GenerateBillID(),
		Subject:      "余额充值",
		Account:      fmt.Sprintf("%d", account.ID),
		TradeType:    model.TradeTypeRecharge,
		TradeID:      idgen.GenerateRechargeID(),
		TradeAmounts: req.Amounts,
		Amounts:      req.Amounts,
		CouponAmount: decimal.Zero,
		OwnerType:    req.Owner.Type,
		OwnerID:      req.Owner.ID,
		OwnerName:    req.Owner.Name,
		Remark:       req.Remark,
		Operator:     req.Operator,
		CreationTime: now,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.accountRepo.Increase(ctx, tx, req.Owner.Type, req.Owner.ID, req.Amounts); err != nil {
			return fmt.Errorf("充值入账失败: %w", err)
		}

		after, err := s.accountRepo.GetTx(ctx, tx, req.Owner.Type, req.Owner.ID)
		if err != nil {
			return fmt.Errorf("查询账户余额失败: %w", err)
		}
		bill.AfterBalance = after.Balance

		if err := s.billRepo.Create(ctx, tx, bill); err != nil {
			return fmt.Errorf("记录交易流水失败: %w", err)
		}

		topic := ""
		if s.cfg != nil {
			topic = s.cfg.Kafka.Topic.TradeEvent
		}
		return writeTradeEvent(ctx, tx, s.outboxRepo, topic, bill)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("充值成功: tradeID=%s, owner=%s:%s, amounts=%s, balance=%s",
		bill.TradeID, req.Owner.Type, req.Owner.ID, bill.Amounts, bill.AfterBalance)

	return bill, nil
}
