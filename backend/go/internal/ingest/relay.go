package ingest

import (
	"context"
	"encoding/json"

	"Steward/backend/go/internal/models"
	"Steward/backend/go/pkg/logger"
)

// EventSink 接收转发的生命周期事件，notify.Hub 实现了它。
type EventSink interface {
	Send(ctx context.Context, ev models.TaskEvent) error
}

// EventRelay 把 task_events 主题上的事件转发给本进程的订阅者。
// 调度器等其他进程产生的事件经由它到达 WebSocket 客户端。转发是尽力而为的，位移总是提交。
type EventRelay struct {
	reader MessageReader
	sink   EventSink
	log    *logger.Logger
}

// NewEventRelay 创建事件转发器。每个进程应使用独立的消费者组，才能收到全部事件。
func NewEventRelay(reader MessageReader, sink EventSink, log *logger.Logger) *EventRelay {
	if log == nil {
		log = logger.Discard()
	}
	return &EventRelay{reader: reader, sink: sink, log: log}
}

// Run 循环转发直到 ctx 结束。
func (r *EventRelay) Run(ctx context.Context) error {
	for {
		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.WithError(err).Error("读取事件失败")
			continue
		}
		var ev models.TaskEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			r.log.WithError(err).Warn("丢弃无法解析的事件")
		} else if err := r.sink.Send(ctx, ev); err != nil {
			r.log.WithError(err).Warn("转发事件失败")
		}
		if err := r.reader.CommitMessages(ctx, msg); err != nil {
			r.log.WithError(err).Error("提交 Kafka 位移失败")
		}
	}
}

// Close 关闭底层 reader。
func (r *EventRelay) Close() error {
	return r.reader.Close()
}
