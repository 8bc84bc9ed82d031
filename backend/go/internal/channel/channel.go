// Package channel 把聊天平台的事件转换为分发、语音和审核操作，并把任务状态渲染回平台。
package channel

import (
	"context"
	"time"
)

// EventType 是入站事件的类型。
type EventType string

const (
	EventMention    EventType = "mention"
	EventAttachment EventType = "attachment"
	EventButton     EventType = "button"
)

// Attachment 是随消息上传的文件 (通常是语音)。
type Attachment struct {
	Name     string
	MimeType string
	Data     []byte
}

// Action 是一次按钮点击。TargetID 是任务或提案的 ID。
type Action struct {
	Name     string
	TargetID string
}

// Event 是适配器产生的统一入站事件。
type Event struct {
	Type       EventType
	Channel    string // 适配器名称, 例如 "slack"
	SenderID   string
	ChannelID  string
	MessageID  string
	ThreadID   string
	Timestamp  string // 平台原始时间戳, 与 SenderID 一起作为去重键
	ReceivedAt time.Time
	Text       string
	Attachment *Attachment
	Action     *Action
}

// DedupKey 返回事件的去重键。同一条消息可以同时产生提及和附件事件，键里带上事件类型。
func (e Event) DedupKey() string {
	return string(e.Type) + "|" + e.SenderID + "|" + e.Timestamp
}

// 按钮动作名称。
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionView    = "view"
	ActionSend    = "send"
	ActionEdit    = "edit"
	ActionSkip    = "skip"
)

// Button 是消息上的一个命名动作。
type Button struct {
	Name  string // 动作名称, 回传为 Action.Name
	Label string
	Value string // 回传为 Action.TargetID
	Style string // "primary", "danger" 或空
}

// Message 是一条出站消息。ThreadID 为空时发到频道顶层。
type Message struct {
	ChannelID string
	ThreadID  string
	Text      string
	Buttons   []Button
}

// Adapter 是一个聊天平台的出站能力。
type Adapter interface {
	Name() string
	// Send 发送普通消息，Buttons 非空时附带命名动作。
	Send(ctx context.Context, msg Message) error
	// StartThread 在频道顶层发送一条消息并返回可用于回复的线程 ID。
	StartThread(ctx context.Context, channelID, text string) (string, error)
}
