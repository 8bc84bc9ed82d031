package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"Steward/backend/go/internal/dispatcher"
	"Steward/backend/go/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader 依次返回预设消息，读完后阻塞到 ctx 结束。
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	drained   chan struct{}
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{msgs: msgs, drained: make(chan struct{})}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	select {
	case <-r.drained:
	default:
		close(r.drained)
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) offsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeDispatcher struct {
	mu   sync.Mutex
	reqs []dispatcher.Request
	err  error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req dispatcher.Request) (*dispatcher.DispatchResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.reqs = append(d.reqs, req)
	return &dispatcher.DispatchResult{
		Task:  &models.Task{ID: "t1"},
		Agent: &models.Agent{ID: "knowledge-agent"},
	}, nil
}

func TestHandle_ConvertsHTMLAndDefaultsSource(t *testing.T) {
	d := &fakeDispatcher{}
	c := NewConsumer(newFakeReader(), d, nil)

	err := c.Handle(context.Background(), kafka.Message{
		Topic:     "inbound_requests",
		Partition: 2,
		Offset:    41,
		Value:     []byte(`{"body":"<p>Please pay the <strong>Acme</strong> invoice</p>","requested_by":"ops@example.com","reply_to":{"channel":"slack","channel_id":"C1"}}`),
	})
	require.NoError(t, err)
	require.Len(t, d.reqs, 1)

	req := d.reqs[0]
	assert.Equal(t, "Please pay the **Acme** invoice", req.Message)
	assert.Equal(t, "kafka", req.Source)
	assert.Equal(t, "inbound_requests/2/41", req.SourceID)
	assert.Equal(t, "ops@example.com", req.RequestedBy)
	assert.Equal(t, "C1", req.ReplyTo.ChannelID)
}

func TestHandle_SkipsUnusableMessages(t *testing.T) {
	c := NewConsumer(newFakeReader(), &fakeDispatcher{}, nil)

	for _, raw := range []string{`not json`, `{"body":"   "}`} {
		err := c.Handle(context.Background(), kafka.Message{Value: []byte(raw)})
		assert.ErrorIs(t, err, errSkip, raw)
	}
}

func TestRun_CommitsHandledAndSkippedButNotFailed(t *testing.T) {
	reader := newFakeReader(
		kafka.Message{Offset: 1, Value: []byte(`{"body":"research the grant"}`)},
		kafka.Message{Offset: 2, Value: []byte(`garbage`)},
	)
	d := &fakeDispatcher{}
	c := NewConsumer(reader, d, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	<-reader.drained
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, []int64{1, 2}, reader.offsets())

	failing := newFakeReader(kafka.Message{Offset: 7, Value: []byte(`{"body":"hello"}`)})
	c = NewConsumer(failing, &fakeDispatcher{err: errors.New("store down")}, nil)
	ctx, cancel = context.WithCancel(context.Background())
	go func() { done <- c.Run(ctx) }()
	<-failing.drained
	cancel()
	<-done
	assert.Empty(t, failing.offsets())
}
