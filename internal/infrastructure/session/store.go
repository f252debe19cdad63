package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Session 服务端会话，值以 JSON 形式保存在 Redis
type Session struct {
	ID         string
	values     map[string]json.RawMessage
	previousID string
	dirty      bool
}

// New 新会话在写入值之前不会落库
func New() *Session {
	return &Session{
		ID:     uuid.NewString(),
		values: make(map[string]json.RawMessage),
	}
}

// Get 取值并解码到 dst，key 不存在时返回 false
func (s *Session) Get(key string, dst interface{}) (bool, error) {
	raw, ok := s.values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("解析会话字段 %s 失败: %w", key, err)
	}
	return true, nil
}

func (s *Session) Set(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.values[key] = raw
	s.dirty = true
	return nil
}

func (s *Session) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

func (s *Session) Delete(key string) {
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.dirty = true
	}
}

// Regenerate 换新 ID（登录后防会话固定），旧 ID 在下次保存时删除
func (s *Session) Regenerate() {
	if s.previousID == "" {
		s.previousID = s.ID
	}
	s.ID = uuid.NewString()
	s.dirty = true
}

// Clear 清空所有值（登出）
func (s *Session) Clear() {
	s.values = make(map[string]json.RawMessage)
	s.dirty = true
}

func (s *Session) Dirty() bool {
	return s.dirty
}

// Store Redis 会话存储
type Store struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl, prefix: "session:"}
}

// Load id 为空或已过期时返回一个新会话
func (st *Store) Load(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return New(), nil
	}
	raw, err := st.client.Get(ctx, st.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取会话失败: %w", err)
	}

	values := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &values); err != nil {
		// 损坏的会话直接丢弃
		return New(), nil
	}
	return &Session{ID: id, values: values}, nil
}

// Save 写回并刷新过期时间
func (st *Store) Save(ctx context.Context, s *Session) error {
	if s.previousID != "" {
		if err := st.client.Del(ctx, st.prefix+s.previousID).Err(); err != nil {
			return err
		}
		s.previousID = ""
	}
	raw, err := json.Marshal(s.values)
	if err != nil {
		return err
	}
	if err := st.client.Set(ctx, st.prefix+s.ID, raw, st.ttl).Err(); err != nil {
		return fmt.Errorf("保存会话失败: %w", err)
	}
	s.dirty = false
	return nil
}

func (st *Store) Destroy(ctx context.Context, s *Session) error {
	s.Clear()
	return st.client.Del(ctx, st.prefix+s.ID).Err()
}

func (st *Store) TTL() time.Duration {
	return st.ttl
}
