package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"walletpay/internal/model"
	"walletpay/internal/repository"

	"gorm.io/gorm"
)

// writeTradeEvent 在交易事务内写入发件箱消息，由后台任务投递到 Kafka
func writeTradeEvent(ctx context.Context, tx *gorm.DB, outboxRepo *repository.OutboxRepository, topic string, bill *model.TransactionBill) error {
	if topic == "" {
		return nil
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"trade_type":    bill.TradeType,
		"trade_id":      bill.TradeID,
		"out_trade_no":  bill.OutTradeNo,
		"trade_amounts": bill.TradeAmounts,
		"amounts":       bill.Amounts,
		"coupon_amount": bill.CouponAmount,
		"owner_type":    bill.OwnerType,
		"owner_id":      bill.OwnerID,
		"app_id":        bill.AppID,
		"creation_time": bill.CreationTime.Format(time.RFC3339),
	})

	msg := &model.OutboxMessage{
		MessageKey: bill.TradeID,
		Topic:      topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入交易事件失败: %w", err)
	}
	return nil
}
