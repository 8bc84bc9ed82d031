package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"Steward/backend/go/internal/models"
)

// ErrUnsupportedChannel 表示提案的执行渠道没有对应的发送能力。
var ErrUnsupportedChannel = errors.New("channel: unsupported execution channel")

// PostActions 把已批准的 slack 提案发到外联频道。其他执行渠道返回 ErrUnsupportedChannel，提案会被记为 failed。
type PostActions struct {
	adapter   Adapter
	channelID string
}

// NewPostActions 创建提案执行器。channelID 通常是 channels.bindings 中 outreach 对应的频道。
func NewPostActions(adapter Adapter, channelID string) *PostActions {
	return &PostActions{adapter: adapter, channelID: channelID}
}

func (a *PostActions) Execute(ctx context.Context, p *models.Proposal) (string, error) {
	if p.ExecutionChannel != slackName {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedChannel, p.ExecutionChannel)
	}
	if a.channelID == "" {
		return "", errors.New("没有绑定外联频道")
	}
	var payload struct {
		To      string `json:"to"`
		Email   string `json:"email"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.Unmarshal(p.ActionPayload, &payload); err != nil {
		return "", fmt.Errorf("解析提案负载失败: %w", err)
	}
	text := payload.Body
	if payload.Subject != "" && payload.Email != "" {
		text = fmt.Sprintf("*%s*\n%s", payload.Subject, text)
	}
	switch {
	case payload.Email != "":
		to := payload.Email
		if payload.To != "" {
			to = fmt.Sprintf("%s <%s>", payload.To, payload.Email)
		}
		text = fmt.Sprintf("To %s\n%s", to, text)
	case payload.To != "":
		text = fmt.Sprintf("@%s %s", payload.To, text)
	}
	if err := a.adapter.Send(ctx, Message{ChannelID: a.channelID, Text: text}); err != nil {
		return "", err
	}
	return fmt.Sprintf("已发送到 %s", a.channelID), nil
}
