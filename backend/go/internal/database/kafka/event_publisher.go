package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"Steward/backend/go/internal/models"

	"github.com/segmentio/kafka-go"
)

// MessageWriter 是 *kafka.Writer 中发布器用到的部分。
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventPublisher 把任务生命周期事件发送到 Kafka，供下游审计和看板消费。
type EventPublisher struct {
	writer MessageWriter
}

// NewEventPublisher 创建一个新的 EventPublisher 实例。
func NewEventPublisher(writer MessageWriter) *EventPublisher {
	return &EventPublisher{writer: writer}
}

// PublishEvent 将事件序列化为 JSON，以 TaskID 作为消息键发送。
func (p *EventPublisher) PublishEvent(ctx context.Context, event models.TaskEvent) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal task event: %w", err)
	}
	key := event.TaskID
	if key == "" {
		key = string(event.Kind)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: jsonData}); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}
	return nil
}

// Close 关闭底层的 writer 连接。
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
