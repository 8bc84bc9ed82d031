package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"Steward/backend/go/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishEvent_KeysByTask(t *testing.T) {
	w := &fakeWriter{}
	p := NewEventPublisher(w)
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, p.PublishEvent(context.Background(), models.TaskEvent{
		Kind: models.EventTaskCompleted, TaskID: "t1", AgentID: "research-agent", Status: models.TaskDone, Timestamp: at,
	}))
	require.NoError(t, p.PublishEvent(context.Background(), models.TaskEvent{Kind: models.EventDigest, Timestamp: at}))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "t1", string(w.msgs[0].Key))
	assert.Equal(t, string(models.EventDigest), string(w.msgs[1].Key))

	var ev models.TaskEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, models.TaskDone, ev.Status)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishEvent_WrapsWriterError(t *testing.T) {
	cause := errors.New("broker unreachable")
	err := NewEventPublisher(&fakeWriter{err: cause}).PublishEvent(context.Background(), models.TaskEvent{TaskID: "t1"})
	assert.ErrorIs(t, err, cause)
}
