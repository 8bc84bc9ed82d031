// Package notify 把任务状态机产生的通知投递到各个出口: Kafka 事件流、WebSocket 订阅者和聊天渠道。
package notify

import (
	"context"
	"sync"
	"time"

	"Steward/backend/go/internal/models"
	"Steward/backend/go/internal/task"
	"Steward/backend/go/pkg/logger"
)

// Notifier 接收通知。实现不能因为某个出口失败而阻塞或返回错误。
type Notifier interface {
	Notify(ctx context.Context, notes ...task.Notification)
}

// Sink 是一个通知出口。
type Sink interface {
	Send(ctx context.Context, ev models.TaskEvent) error
}

// SinkFunc 让普通函数实现 Sink。
type SinkFunc func(ctx context.Context, ev models.TaskEvent) error

// Send 调用 f 本身。
func (f SinkFunc) Send(ctx context.Context, ev models.TaskEvent) error {
	return f(ctx, ev)
}

type namedSink struct {
	name string
	sink Sink
}

// Fanout 把每条通知发送到所有已注册的出口。出口的失败只记录日志。
type Fanout struct {
	log   *logger.Logger
	now   func() time.Time
	sinks []namedSink
}

// NewFanout 创建一个没有出口的 Fanout。
func NewFanout(log *logger.Logger) *Fanout {
	return &Fanout{log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Add 注册一个出口，name 只用于日志。
func (f *Fanout) Add(name string, sink Sink) *Fanout {
	f.sinks = append(f.sinks, namedSink{name: name, sink: sink})
	return f
}

// Notify 实现 Notifier。
func (f *Fanout) Notify(ctx context.Context, notes ...task.Notification) {
	for _, n := range notes {
		ev := n.Event(f.now())
		for _, s := range f.sinks {
			if err := s.sink.Send(ctx, ev); err != nil {
				f.log.WithTask(ev.TaskID, ev.AgentID).WithError(err).
					Warnf("通知出口 %s 发送 %s 失败", s.name, ev.Kind)
			}
		}
	}
}

// Nop 丢弃所有通知。
type Nop struct{}

// Notify 什么也不做。
func (Nop) Notify(context.Context, ...task.Notification) {}

// Recorder 在内存中记录通知，供测试和 CLI 预览使用。
type Recorder struct {
	mu    sync.Mutex
	notes []task.Notification
}

// Notify 记录通知。
func (r *Recorder) Notify(_ context.Context, notes ...task.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, notes...)
}

// Notes 返回已记录通知的副本。
func (r *Recorder) Notes() []task.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]task.Notification(nil), r.notes...)
}

// Kinds 返回已记录通知的类型序列。
func (r *Recorder) Kinds() []models.TaskEventKind {
	notes := r.Notes()
	kinds := make([]models.TaskEventKind, len(notes))
	for i, n := range notes {
		kinds[i] = n.Kind
	}
	return kinds
}
