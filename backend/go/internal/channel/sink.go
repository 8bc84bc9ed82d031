package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"Steward/backend/go/internal/models"
)

// 通知类别，对应配置 channels.bindings 的键。
const (
	CategoryReview     = "review"
	CategorySuggestion = "suggestion"
	CategoryFailure    = "failure"
	CategoryDigest     = "digest"
	CategoryActivity   = "activity"
)

// Category 返回事件所属的通知类别。
func Category(kind models.TaskEventKind) string {
	switch kind {
	case models.EventTaskNeedsReview, models.EventReviewReminder, models.EventProposalFiled:
		return CategoryReview
	case models.EventTaskSuggested:
		return CategorySuggestion
	case models.EventTaskFailed, models.EventTaskTimedOut:
		return CategoryFailure
	case models.EventDigest:
		return CategoryDigest
	default:
		return CategoryActivity
	}
}

// TaskLookup 读取任务，用于找到请求来源的回复线程。
type TaskLookup interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
}

// Sink 把生命周期事件发到配置绑定的频道，并把结果回复到请求来源的线程。
// 它实现 notify.Sink。
type Sink struct {
	adapter  Adapter
	bindings map[string]string
	tasks    TaskLookup
}

// NewSink 创建渠道通知出口。tasks 为 nil 时不回复来源线程。
func NewSink(adapter Adapter, bindings map[string]string, tasks TaskLookup) *Sink {
	return &Sink{adapter: adapter, bindings: bindings, tasks: tasks}
}

// repliesToOrigin 报告请求者是否需要在原线程里看到这个事件。
func repliesToOrigin(kind models.TaskEventKind) bool {
	switch kind {
	case models.EventTaskCompleted, models.EventTaskNeedsReview, models.EventTaskFailed,
		models.EventTaskTimedOut, models.EventTaskSuggested, models.EventProposalFiled:
		return true
	}
	return false
}

func (s *Sink) Send(ctx context.Context, ev models.TaskEvent) error {
	var errs []error
	bound := s.bindings[Category(ev.Kind)]

	if bound != "" {
		if ev.Kind == models.EventDigest {
			errs = append(errs, s.sendDigest(ctx, bound, ev.Message))
		} else {
			msg := RenderEvent(ev)
			msg.ChannelID = bound
			errs = append(errs, s.adapter.Send(ctx, msg))
		}
	}

	if s.tasks != nil && ev.TaskID != "" && repliesToOrigin(ev.Kind) {
		t, err := s.tasks.GetTask(ctx, ev.TaskID)
		if err != nil {
			errs = append(errs, err)
		} else if t.ReplyTo.Channel == s.adapter.Name() && t.ReplyTo.ChannelID != "" && t.ReplyTo.ChannelID != bound {
			msg := RenderEvent(ev)
			if ev.Kind == models.EventTaskCompleted && t.Output != "" {
				msg.Text = fmt.Sprintf("%s\n\n%s", msg.Text, truncate(t.Output, maxOutputRunes))
			}
			msg.ChannelID = t.ReplyTo.ChannelID
			msg.ThreadID = t.ReplyTo.ThreadID
			errs = append(errs, s.adapter.Send(ctx, msg))
		}
	}
	return errors.Join(errs...)
}

// sendDigest 以首行开一个线程，正文作为线程内回复。
func (s *Sink) sendDigest(ctx context.Context, channelID, text string) error {
	head, rest, _ := strings.Cut(text, "\n")
	thread, err := s.adapter.StartThread(ctx, channelID, head)
	if err != nil || strings.TrimSpace(rest) == "" {
		return err
	}
	return s.adapter.Send(ctx, Message{ChannelID: channelID, ThreadID: thread, Text: rest})
}
