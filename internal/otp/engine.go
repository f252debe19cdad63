package otp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"servicemart/internal/apperr"
	"servicemart/internal/infrastructure/metrics"

	"go.uber.org/zap"
)

// Engine 签发和校验一次性验证码。
// 状态：ISSUED -> VERIFIED（校验成功即删除）| EXPIRED（存储过期）| 不匹配时保持 ISSUED
type Engine struct {
	sender  Sender
	limiter *Limiter
	digits  int
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewEngine limiter 为 nil 时不限流
func NewEngine(sender Sender, limiter *Limiter, digits int, m *metrics.Metrics, log *zap.Logger) *Engine {
	if digits <= 0 {
		digits = 6
	}
	return &Engine{
		sender:  sender,
		limiter: limiter,
		digits:  digits,
		metrics: m,
		log:     log.Named("OTPEngine"),
	}
}

// Issue 生成验证码写入 store 后发送到 email。
// 需要暴露发送失败的用途会撤销刚写入的验证码并返回 ErrSendFailed
func (e *Engine) Issue(ctx context.Context, store Store, key, email string, purpose Purpose, ttl time.Duration) (string, error) {
	if e.limiter != nil {
		if err := e.limiter.Allow(ctx, email, purpose); err != nil {
			return "", err
		}
	}

	code, err := randomCode(e.digits)
	if err != nil {
		return "", err
	}
	if err := store.Put(ctx, key, code, ttl); err != nil {
		return "", fmt.Errorf("保存验证码失败: %w", err)
	}
	e.metrics.OTPIssued.WithLabelValues(string(purpose)).Inc()

	if err := e.sender.SendOTP(ctx, email, code, purpose.Label()); err != nil {
		e.log.Warn("验证码发送失败",
			zap.String("email", email),
			zap.String("purpose", string(purpose)),
			zap.Error(err))
		if purpose.SurfacesSendFailure() {
			_ = store.Delete(ctx, key)
			return "", apperr.Wrap(apperr.ErrSendFailed, err)
		}
	}
	return code, nil
}

// Verify 精确比对。成功后验证码立即失效，不匹配时可以重试
func (e *Engine) Verify(ctx context.Context, store Store, key string, purpose Purpose, submitted string) error {
	expected, err := store.Get(ctx, key)
	if errors.Is(err, ErrNoChallenge) {
		e.metrics.OTPVerified.WithLabelValues(string(purpose), "expired").Inc()
		return apperr.ErrOTPExpired
	}
	if err != nil {
		return fmt.Errorf("读取验证码失败: %w", err)
	}

	if len(submitted) != len(expected) || subtle.ConstantTimeCompare([]byte(submitted), []byte(expected)) != 1 {
		e.metrics.OTPVerified.WithLabelValues(string(purpose), "mismatch").Inc()
		return apperr.ErrInvalidOTP
	}

	if err := store.Delete(ctx, key); err != nil {
		return fmt.Errorf("作废验证码失败: %w", err)
	}
	e.metrics.OTPVerified.WithLabelValues(string(purpose), "ok").Inc()
	return nil
}
