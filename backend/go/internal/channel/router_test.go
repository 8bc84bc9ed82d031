package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"Steward/backend/go/internal/config"
	"Steward/backend/go/internal/database/sqldb"
	"Steward/backend/go/internal/models"
	"Steward/backend/go/internal/review"
	"Steward/backend/go/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routerFixture struct {
	store    *store.Store
	adapter  *fakeAdapter
	dispatch *fakeDispatcher
	voice    *fakeVoice
	executed []string
	execErr  error
	router   *Router
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	db, err := sqldb.Open(config.StoreConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqldb.Close(db) })
	st := store.New(db)
	require.NoError(t, st.AutoMigrate(context.Background()))

	dedup, err := NewLRUDeduper(16, time.Minute)
	require.NoError(t, err)

	f := &routerFixture{store: st, adapter: &fakeAdapter{}, dispatch: &fakeDispatcher{}, voice: &fakeVoice{}}
	f.router = NewRouter(RouterOptions{
		Dispatcher: f.dispatch,
		Voice:      f.voice,
		Review: review.New(st, nil, nil).WithActions(review.ActionExecutorFunc(func(_ context.Context, p *models.Proposal) (string, error) {
			f.executed = append(f.executed, p.ID)
			if f.execErr != nil {
				return "", f.execErr
			}
			return "email sent", nil
		})),
		Dedup: dedup,
	}, f.adapter)
	return f
}

func mention(text, ts string) Event {
	return Event{Type: EventMention, Channel: "slack", SenderID: "U1", ChannelID: "C1", MessageID: ts, Timestamp: ts, Text: text}
}

func button(name, target, ts string) Event {
	return Event{Type: EventButton, Channel: "slack", SenderID: "U1", ChannelID: "C1", MessageID: "1.0", Timestamp: ts, Action: &Action{Name: name, TargetID: target}}
}

func TestRouter_MentionDispatchesAndAcknowledgesInThread(t *testing.T) {
	f := newRouterFixture(t)

	require.NoError(t, f.router.Handle(context.Background(), mention("pay the Acme invoice", "171.01")))

	require.Len(t, f.dispatch.reqs, 1)
	req := f.dispatch.reqs[0]
	assert.Equal(t, "pay the Acme invoice", req.Message)
	assert.Equal(t, models.ReplyTo{Channel: "slack", ChannelID: "C1", ThreadID: "171.01"}, req.ReplyTo)
	assert.Equal(t, "U1", req.RequestedBy)

	msgs := f.adapter.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, "171.01", msgs[0].ThreadID)
	assert.Contains(t, msgs[0].Text, "task-1")
}

func TestRouter_DropsRedeliveredEvents(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	require.NoError(t, f.router.Handle(ctx, mention("hello", "171.02")))
	require.NoError(t, f.router.Handle(ctx, mention("hello", "171.02")))
	assert.Len(t, f.dispatch.reqs, 1)
	assert.Len(t, f.adapter.sent(), 1)
}

func TestRouter_FailedEventIsRetriedOnRedelivery(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	f.dispatch.err = errors.New("store down")

	require.Error(t, f.router.Handle(ctx, mention("hello", "171.06")))
	f.dispatch.err = nil
	require.NoError(t, f.router.Handle(ctx, mention("hello", "171.06")))
	assert.Len(t, f.dispatch.reqs, 2)

	require.NoError(t, f.router.Handle(ctx, mention("hello", "171.06")))
	assert.Len(t, f.dispatch.reqs, 2, "a handled event stays deduplicated")
}

func TestRouter_MentionAndAttachmentShareTimestamp(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	transcript := "book the venue"
	f.voice.transcript = &transcript

	require.NoError(t, f.router.Handle(ctx, mention("see memo", "171.07")))
	require.NoError(t, f.router.Handle(ctx, Event{Type: EventAttachment, Channel: "slack", SenderID: "U1", ChannelID: "C1",
		MessageID: "171.07", Timestamp: "171.07", Attachment: &Attachment{Name: "memo.m4a", Data: []byte("audio")}}))

	assert.Len(t, f.voice.captures, 1)
	assert.Len(t, f.dispatch.reqs, 2)
}

func TestRouter_DispatchFailureIsReported(t *testing.T) {
	f := newRouterFixture(t)
	f.dispatch.err = errors.New("store down")

	err := f.router.Handle(context.Background(), mention("hello", "171.03"))
	require.Error(t, err)
	msgs := f.adapter.sent()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "store down")
}

func TestRouter_AttachmentTranscriptIsDispatched(t *testing.T) {
	f := newRouterFixture(t)
	transcript := "remind me to call Jane about the grant"
	f.voice.transcript = &transcript

	ev := Event{Type: EventAttachment, Channel: "slack", SenderID: "U1", ChannelID: "C1", MessageID: "171.04", Timestamp: "171.04",
		Attachment: &Attachment{Name: "memo.m4a", MimeType: "audio/mp4", Data: []byte("audio")}}
	require.NoError(t, f.router.Handle(context.Background(), ev))

	require.Len(t, f.voice.captures, 1)
	assert.Equal(t, models.VisibilityPrivate, f.voice.captures[0].Visibility)
	assert.Equal(t, "U1", f.voice.captures[0].RecordedBy)
	require.Len(t, f.dispatch.reqs, 1)
	assert.Equal(t, transcript, f.dispatch.reqs[0].Message)
	assert.Equal(t, "note-1", f.dispatch.reqs[0].Context["voice_note_id"])
}

func TestRouter_AttachmentWithoutTranscriptIsNotDispatched(t *testing.T) {
	f := newRouterFixture(t)
	ev := Event{Type: EventAttachment, Channel: "slack", SenderID: "U1", ChannelID: "C1", MessageID: "171.05", Timestamp: "171.05",
		Attachment: &Attachment{Data: []byte("audio")}}

	require.NoError(t, f.router.Handle(context.Background(), ev))
	assert.Empty(t, f.dispatch.reqs)
	require.Len(t, f.adapter.sent(), 1)
	assert.Contains(t, f.adapter.sent()[0].Text, "note-1")
}

func TestRouter_ApproveButton(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateTask(ctx, &models.Task{ID: "t-review", Title: "draft", Status: models.TaskReview}))

	require.NoError(t, f.router.Handle(ctx, button(ActionApprove, "t-review", "a.1")))

	got, err := f.store.GetTask(ctx, "t-review")
	require.NoError(t, err)
	assert.Equal(t, models.TaskDone, got.Status)
	assert.Equal(t, "U1", got.ReviewedBy)
	msgs := f.adapter.sent()
	require.Len(t, msgs, 1)
	assert.Empty(t, msgs[0].Buttons)
}

func proposal(t *testing.T, st *store.Store, id string) {
	t.Helper()
	require.NoError(t, st.CreateProposal(context.Background(), &models.Proposal{
		ID:               id,
		TaskID:           "t-1",
		ExecutionChannel: "email",
		ActionPayload:    []byte(`{"to":"jane@acme.test","subject":"Catch up","body":"Hi Jane"}`),
		Status:           models.ProposalPendingReview,
	}))
}

func TestRouter_SendProposal(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	proposal(t, f.store, "p-1")

	require.NoError(t, f.router.Handle(ctx, button(ActionSend, "p-1", "a.2")))
	assert.Equal(t, []string{"p-1"}, f.executed)

	p, err := f.store.GetProposal(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, models.ProposalCompleted, p.Status)
	assert.Equal(t, "email sent", p.ExecutionResult)
}

func TestRouter_SendProposalExecutionFailure(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	proposal(t, f.store, "p-2")
	f.execErr = errors.New("smtp 550")

	require.NoError(t, f.router.Handle(ctx, button(ActionSend, "p-2", "a.3")))
	p, err := f.store.GetProposal(ctx, "p-2")
	require.NoError(t, err)
	assert.Equal(t, models.ProposalFailed, p.Status)
	assert.Equal(t, "smtp 550", p.ExecutionResult)
}

func TestRouter_EditAndSkipProposal(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	proposal(t, f.store, "p-3")

	require.NoError(t, f.router.Handle(ctx, button(ActionEdit, "p-3", "a.4")))
	p, err := f.store.GetProposal(ctx, "p-3")
	require.NoError(t, err)
	assert.Equal(t, models.ProposalPendingReview, p.Status)
	assert.Contains(t, f.adapter.sent()[0].Text, "jane@acme.test")
	assert.Contains(t, f.adapter.sent()[0].Text, "PUT /api/v1/proposals/p-3")

	require.NoError(t, f.router.Handle(ctx, button(ActionSkip, "p-3", "a.5")))
	p, err = f.store.GetProposal(ctx, "p-3")
	require.NoError(t, err)
	assert.Equal(t, models.ProposalRejected, p.Status)
	assert.Empty(t, f.executed)
}

func TestRouter_UnknownAction(t *testing.T) {
	f := newRouterFixture(t)
	err := f.router.Handle(context.Background(), button("launch", "t-1", "a.6"))
	assert.ErrorIs(t, err, ErrUnknownAction)
}
