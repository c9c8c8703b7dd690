package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

// DistributedLock 基于 Redis SET NX 的分布式锁
//
// 加锁：SET key value NX EX timeout
//   - NX 保证互斥，EX 防止持有者崩溃后死锁
//   - value 标识锁持有者，释放时验证，避免误删别人的锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
//
// 使用 Lua 脚本保证"检查+删除"的原子性：
// 锁过期后被别人持有时，value 不匹配，不会删除别人的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// NewOwnerLock 按付款账户维度加锁
//
// 同一账户的扣费/退款串行执行，不同账户互不影响。
// scope 用于区分场景（pay/refund/recharge），避免互相阻塞
func NewOwnerLock(client *redis.Client, scope, ownerType, ownerID string) *DistributedLock {
	key := fmt.Sprintf("trade:lock:%s:%s:%s", scope, ownerType, ownerID)
	return NewDistributedLock(client, key, uuid.NewString(), 30*time.Second)
}

// NewTradeLock 按交易维度加锁，串行化同一笔交易的并发退款
func NewTradeLock(client *redis.Client, tradeID string) *DistributedLock {
	key := fmt.Sprintf("trade:lock:refund:trade:%s", tradeID)
	return NewDistributedLock(client, key, uuid.NewString(), 30*time.Second)
}
