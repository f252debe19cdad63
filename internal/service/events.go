package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"servicemart/internal/model"
	"servicemart/internal/repository"

	"gorm.io/gorm"
)

// publishInTx 在业务事务里写入 outbox，由 OutboxSender 异步投递
func publishInTx(ctx context.Context, tx *gorm.DB, outboxRepo *repository.OutboxRepository,
	topic, eventType, key string, payload map[string]interface{}) error {
	payload["event"] = eventType
	payload["occurred_at"] = time.Now().UTC().Format(time.RFC3339)
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	msg := &model.OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		EventType:  eventType,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}
