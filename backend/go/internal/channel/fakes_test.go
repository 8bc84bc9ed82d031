package channel

import (
	"context"
	"sync"

	"Steward/backend/go/internal/dispatcher"
	"Steward/backend/go/internal/models"
	"Steward/backend/go/internal/voice"
)

type sentMsg struct {
	Message
	thread bool // 通过 StartThread 发出
}

type fakeAdapter struct {
	mu   sync.Mutex
	msgs []sentMsg
}

func (a *fakeAdapter) Name() string { return "slack" }

func (a *fakeAdapter) Send(_ context.Context, msg Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, sentMsg{Message: msg})
	return nil
}

func (a *fakeAdapter) StartThread(_ context.Context, channelID, text string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, sentMsg{Message: Message{ChannelID: channelID, Text: text}, thread: true})
	return "1700000000.000100", nil
}

func (a *fakeAdapter) sent() []sentMsg {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]sentMsg(nil), a.msgs...)
}

type fakeDispatcher struct {
	reqs []dispatcher.Request
	err  error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req dispatcher.Request) (*dispatcher.DispatchResult, error) {
	d.reqs = append(d.reqs, req)
	if d.err != nil {
		return nil, d.err
	}
	return &dispatcher.DispatchResult{
		Task:           &models.Task{ID: "task-1", Title: req.Message, AssignedAgent: "finance-agent"},
		Agent:          &models.Agent{ID: "finance-agent", Name: "Finance"},
		Classification: dispatcher.Classification{TaskType: models.TaskTypeFinancial, Urgency: 2, AgentID: "finance-agent"},
	}, nil
}

type fakeVoice struct {
	transcript *string
	captures   []voice.Capture
}

func (v *fakeVoice) Process(_ context.Context, c voice.Capture) (*models.VoiceNote, error) {
	v.captures = append(v.captures, c)
	return &models.VoiceNote{ID: "note-1", RecordedBy: c.RecordedBy, Transcript: v.transcript}, nil
}
