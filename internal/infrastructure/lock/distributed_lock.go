package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// 加锁：SET key value NX EX timeout；释放：Lua 脚本比对 value 后删除，避免误删别人的锁

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // 持有者标识
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

// TryLock 非阻塞
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
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

func (l *DistributedLock) Unlock(ctx context.Context) error {
	_, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	return err
}

// Locker service 层使用的加锁入口，返回释放函数
type Locker interface {
	Acquire(ctx context.Context, key, owner string) (release func(), err error)
}

// RedisLocker 基于 DistributedLock 的 Locker
type RedisLocker struct {
	client        *redis.Client
	expiration    time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewRedisLocker(client *redis.Client, expiration time.Duration) *RedisLocker {
	if expiration <= 0 {
		expiration = 30 * time.Second
	}
	return &RedisLocker{
		client:        client,
		expiration:    expiration,
		retryInterval: 100 * time.Millisecond,
		maxRetries:    30,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key, owner string) (func(), error) {
	dl := NewDistributedLock(l.client, key, owner, l.expiration)
	if err := dl.Lock(ctx, l.retryInterval, l.maxRetries); err != nil {
		return nil, err
	}
	return func() {
		// 请求 ctx 可能已取消，释放用独立 ctx
		_ = dl.Unlock(context.Background())
	}, nil
}

// PartnerPayKey 同一合作伙伴的钱包扣款串行化
func PartnerPayKey(partnerID int64) string {
	return fmt.Sprintf("pay:lock:partner:%d", partnerID)
}

// InvoiceKey 同一订单只生成一张发票
func InvoiceKey(orderID int64) string {
	return fmt.Sprintf("invoice:lock:order:%d", orderID)
}

// ApprovalKey 同一申请不能被并发审批
func ApprovalKey(requestID int64) string {
	return fmt.Sprintf("approval:lock:request:%d", requestID)
}
