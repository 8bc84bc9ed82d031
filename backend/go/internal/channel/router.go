package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"Steward/backend/go/internal/dispatcher"
	"Steward/backend/go/internal/models"
	"Steward/backend/go/internal/review"
	"Steward/backend/go/internal/voice"
	"Steward/backend/go/pkg/logger"
)

// ErrUnknownAction 表示按钮动作无法识别。
var ErrUnknownAction = errors.New("channel: unknown action")

// Dispatcher 把自然语言请求变成任务。
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatcher.Request) (*dispatcher.DispatchResult, error)
}

// VoiceProcessor 处理一条语音笔记。
type VoiceProcessor interface {
	Process(ctx context.Context, c voice.Capture) (*models.VoiceNote, error)
}

// Reviewer 是审核服务。
type Reviewer interface {
	Approve(ctx context.Context, id, reviewer, notes string) (*review.Item, error)
	Reject(ctx context.Context, id, reviewer, notes string) (*review.Item, error)
	View(ctx context.Context, id string) (*review.Item, error)
}

// RouterOptions 配置 Router。Voice 可以为空，语音附件会得到说明性回复。
type RouterOptions struct {
	Dispatcher Dispatcher
	Voice      VoiceProcessor
	Review     Reviewer
	Dedup      Deduper
	Logger     *logger.Logger
	Now        func() time.Time
}

// Router 把入站事件路由到分发器、语音管道和审核服务，并通过事件来源的适配器回复。
type Router struct {
	opts     RouterOptions
	adapters map[string]Adapter
}

// NewRouter 创建 Router 并注册出站适配器。
func NewRouter(opts RouterOptions, adapters ...Adapter) *Router {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	r := &Router{opts: opts, adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Handle 处理一个入站事件。重复事件被静默丢弃；处理失败的事件会被遗忘，重投时再次处理。
func (r *Router) Handle(ctx context.Context, ev Event) error {
	log := r.opts.Logger.WithFields(map[string]interface{}{
		"channel": ev.Channel,
		"type":    string(ev.Type),
		"sender":  ev.SenderID,
	})
	if r.opts.Dedup != nil {
		first, err := r.opts.Dedup.FirstSeen(ctx, ev.DedupKey())
		if err != nil {
			log.WithError(err).Warn("去重检查失败，继续处理")
		} else if !first {
			log.Debug("重复事件，已丢弃")
			return nil
		}
	}

	var (
		reply Message
		err   error
	)
	switch ev.Type {
	case EventMention:
		reply, err = r.handleMention(ctx, ev)
	case EventAttachment:
		reply, err = r.handleAttachment(ctx, ev)
	case EventButton:
		reply, err = r.handleButton(ctx, ev)
	default:
		err = fmt.Errorf("未知的事件类型 %q", ev.Type)
	}
	if err != nil {
		log.WithError(err).Error("处理入站事件失败")
		reply = Message{Text: "处理失败: " + err.Error()}
		if r.opts.Dedup != nil {
			if fErr := r.opts.Dedup.Forget(ctx, ev.DedupKey()); fErr != nil {
				log.WithError(fErr).Warn("清除去重记录失败")
			}
		}
	}
	if sendErr := r.reply(ctx, ev, reply); sendErr != nil {
		log.WithError(sendErr).Warn("回复失败")
	}
	return err
}

func (r *Router) handleMention(ctx context.Context, ev Event) (Message, error) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return Message{Text: "请告诉我需要做什么。"}, nil
	}
	res, err := r.dispatch(ctx, ev, text, nil)
	if err != nil {
		return Message{}, err
	}
	return RenderAck(res), nil
}

func (r *Router) handleAttachment(ctx context.Context, ev Event) (Message, error) {
	if r.opts.Voice == nil || ev.Attachment == nil {
		return Message{Text: "暂不支持处理该附件。"}, nil
	}
	recordedAt := ev.ReceivedAt
	if recordedAt.IsZero() {
		recordedAt = r.opts.Now()
	}
	note, err := r.opts.Voice.Process(ctx, voice.Capture{
		Audio:         ev.Attachment.Data,
		FileName:      ev.Attachment.Name,
		SourceChannel: ev.Channel,
		RecordedBy:    ev.SenderID,
		Visibility:    models.VisibilityPrivate,
		RecordedAt:    recordedAt,
	})
	if err != nil {
		return Message{}, fmt.Errorf("处理语音笔记失败: %w", err)
	}
	if note.Transcript == nil || strings.TrimSpace(*note.Transcript) == "" {
		return Message{Text: fmt.Sprintf("语音笔记 %s 已保存，但没有得到转写。", note.ID)}, nil
	}

	res, err := r.dispatch(ctx, ev, *note.Transcript, map[string]string{"voice_note_id": note.ID})
	if err != nil {
		return Message{}, err
	}
	ack := RenderAck(res)
	ack.Text = fmt.Sprintf("语音笔记 %s 已转写。%s", note.ID, ack.Text)
	return ack, nil
}

func (r *Router) dispatch(ctx context.Context, ev Event, text string, extra map[string]string) (*dispatcher.DispatchResult, error) {
	thread := ev.ThreadID
	if thread == "" {
		thread = ev.MessageID
	}
	return r.opts.Dispatcher.Dispatch(ctx, dispatcher.Request{
		Message:     text,
		Source:      ev.Channel,
		SourceID:    ev.MessageID,
		RequestedBy: ev.SenderID,
		Context:     extra,
		ReplyTo:     models.ReplyTo{Channel: ev.Channel, ChannelID: ev.ChannelID, ThreadID: thread},
	})
}

func (r *Router) handleButton(ctx context.Context, ev Event) (Message, error) {
	if ev.Action == nil || ev.Action.TargetID == "" {
		return Message{}, fmt.Errorf("%w: 缺少目标", ErrUnknownAction)
	}
	id, who := ev.Action.TargetID, ev.SenderID

	var (
		item *review.Item
		err  error
	)
	switch ev.Action.Name {
	case ActionApprove:
		item, err = r.opts.Review.Approve(ctx, id, who, "")
	case ActionReject, ActionSkip:
		item, err = r.opts.Review.Reject(ctx, id, who, "")
	case ActionView:
		item, err = r.opts.Review.View(ctx, id)
	case ActionEdit:
		return r.editProposal(ctx, id)
	case ActionSend:
		item, err = r.opts.Review.Approve(ctx, id, who, "")
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownAction, ev.Action.Name)
	}
	if err != nil {
		return Message{}, err
	}
	return RenderItem(item), nil
}

// editProposal 返回提案负载供编辑，不改变状态。
func (r *Router) editProposal(ctx context.Context, id string) (Message, error) {
	item, err := r.opts.Review.View(ctx, id)
	if err != nil {
		return Message{}, err
	}
	if item.Kind != review.KindProposal {
		return Message{}, fmt.Errorf("%w: %s 不是提案", ErrUnknownAction, id)
	}
	var pretty map[string]interface{}
	_ = json.Unmarshal(item.Proposal.ActionPayload, &pretty)
	out, _ := json.MarshalIndent(pretty, "", "  ")
	return Message{Text: fmt.Sprintf(
		"当前负载如下。修改后以 {\"action_payload\": {...}} 提交到 PUT /api/v1/proposals/%s，再点 send 发送:\n```\n%s\n```",
		id, out)}, nil
}

func (r *Router) reply(ctx context.Context, ev Event, msg Message) error {
	if msg.Text == "" {
		return nil
	}
	a, ok := r.adapters[ev.Channel]
	if !ok {
		return fmt.Errorf("没有名为 %q 的适配器", ev.Channel)
	}
	msg.ChannelID = ev.ChannelID
	msg.ThreadID = ev.ThreadID
	if msg.ThreadID == "" {
		msg.ThreadID = ev.MessageID
	}
	return a.Send(ctx, msg)
}
