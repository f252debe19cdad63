package otp

import (
	"context"
	"errors"
	"time"

	"servicemart/internal/infrastructure/cache"
	"servicemart/internal/infrastructure/session"

	"github.com/go-redis/redis/v8"
)

// ErrNoChallenge 没有待验证的验证码（从未签发、已使用或已过期）
var ErrNoChallenge = errors.New("otp: no pending challenge")

// Store 验证码存储。ttl <= 0 表示跟随存储自身的生命周期
type Store interface {
	Put(ctx context.Context, key, code string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

type sessionChallenge struct {
	Code      string     `json:"code"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// SessionStore 把验证码放在当前会话里，会话过期验证码随之失效
type SessionStore struct {
	sess *session.Session
	now  func() time.Time
}

func NewSessionStore(sess *session.Session) *SessionStore {
	return &SessionStore{sess: sess, now: time.Now}
}

func sessionKey(key string) string {
	return "otp:" + key
}

func (s *SessionStore) Put(_ context.Context, key, code string, ttl time.Duration) error {
	ch := sessionChallenge{Code: code}
	if ttl > 0 {
		exp := s.now().Add(ttl)
		ch.ExpiresAt = &exp
	}
	return s.sess.Set(sessionKey(key), ch)
}

func (s *SessionStore) Get(_ context.Context, key string) (string, error) {
	var ch sessionChallenge
	ok, err := s.sess.Get(sessionKey(key), &ch)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNoChallenge
	}
	if ch.ExpiresAt != nil && s.now().After(*ch.ExpiresAt) {
		s.sess.Delete(sessionKey(key))
		return "", ErrNoChallenge
	}
	return ch.Code, nil
}

func (s *SessionStore) Delete(_ context.Context, key string) error {
	s.sess.Delete(sessionKey(key))
	return nil
}

// RedisStore 进程外的 TTL 存储，重置密码的验证码按用户 ID 存放在这里
type RedisStore struct {
	cache      *cache.Cache
	defaultTTL time.Duration
}

func NewRedisStore(c *cache.Cache, defaultTTL time.Duration) *RedisStore {
	return &RedisStore{cache: c, defaultTTL: defaultTTL}
}

func (s *RedisStore) Put(ctx context.Context, key, code string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	return s.cache.Set(ctx, key, code, ttl)
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	code, err := s.cache.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return "", ErrNoChallenge
	}
	return code, err
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.cache.Delete(ctx, key)
}
