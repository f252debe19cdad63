package otp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"servicemart/internal/apperr"
	"servicemart/internal/infrastructure/cache"
)

// Limiter 按 (身份, 用途) 限制签发频率：两次之间有冷却时间，窗口内超过上限后封禁一段时间
type Limiter struct {
	cache       *cache.Cache
	window      time.Duration
	maxInWindow int
	cooldown    time.Duration
	blockFor    time.Duration
}

func NewLimiter(c *cache.Cache, window time.Duration, max int, cooldown, blockFor time.Duration) *Limiter {
	if blockFor <= 0 {
		blockFor = window * 3
	}
	return &Limiter{cache: c, window: window, maxInWindow: max, cooldown: cooldown, blockFor: blockFor}
}

func (l *Limiter) Allow(ctx context.Context, identity string, purpose Purpose) error {
	id := strings.ToLower(identity)
	blockKey := fmt.Sprintf("block:%s:%s", id, purpose)
	lastKey := fmt.Sprintf("last:%s:%s", id, purpose)
	countKey := fmt.Sprintf("count:%s:%s", id, purpose)

	if ttl, _ := l.cache.TTL(ctx, blockKey); ttl > 0 {
		return apperr.WithMsg(apperr.ErrRateLimited,
			fmt.Sprintf("Too many OTP requests, please try again after %d seconds", int(ttl.Seconds())))
	}
	if ttl, _ := l.cache.TTL(ctx, lastKey); ttl > 0 {
		return apperr.WithMsg(apperr.ErrRateLimited,
			fmt.Sprintf("Please wait %d seconds before requesting another OTP", int(ttl.Seconds())))
	}

	cnt, err := l.cache.IncrWithExpire(ctx, countKey, l.window)
	if err != nil {
		return fmt.Errorf("验证码限流计数失败: %w", err)
	}
	if int(cnt) > l.maxInWindow {
		_ = l.cache.Set(ctx, blockKey, "1", l.blockFor)
		return apperr.WithMsg(apperr.ErrRateLimited,
			fmt.Sprintf("Too many OTP requests, please try again after %d seconds", int(l.blockFor.Seconds())))
	}

	if l.cooldown > 0 {
		_ = l.cache.Set(ctx, lastKey, "1", l.cooldown)
	}
	return nil
}
