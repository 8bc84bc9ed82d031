package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"Steward/backend/go/pkg/circuitbreaker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstJSONObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain", `{"agent":"finance-agent"}`, "finance-agent", true},
		{"fenced", "Sure:\n```json\n{\"agent\": \"research-agent\", \"urgency\": 1}\n```", "research-agent", true},
		{"braces in string", `note {"agent":"a{b}c"} trailing`, "a{b}c", true},
		{"skips broken object", `{broken {"agent":"status-agent"}`, "status-agent", true},
		{"none", "no json here", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			obj, ok := FirstJSONObject(tc.in)
			assert.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.want, obj.Get("agent").String())
			}
		})
	}
}

func TestTrailingJSONObject(t *testing.T) {
	body, obj, ok := TrailingJSONObject("Here is the draft.\n\n{\"reasoning\":\"short\",\"confidence\":0.9,\"needsReview\":true}\n")
	require.True(t, ok)
	assert.Equal(t, "Here is the draft.", body)
	assert.InDelta(t, 0.9, obj.Get("confidence").Float(), 1e-9)
	assert.True(t, obj.Get("needsReview").Bool())

	body, _, ok = TrailingJSONObject("no metadata at all")
	assert.False(t, ok)
	assert.Equal(t, "no metadata at all", body)

	_, obj, ok = TrailingJSONObject("text {\"nested\":{\"a\":1},\"confidence\":0.5}")
	require.True(t, ok)
	assert.Equal(t, int64(1), obj.Get("nested.a").Int())
}

func TestWithBreaker_OpensAfterFailures(t *testing.T) {
	calls := 0
	failing := GeneratorFunc(func(ctx context.Context, system, user string, maxTokens int) (string, error) {
		calls++
		return "", errors.New("upstream 503")
	})
	gen := WithBreaker(failing, circuitbreaker.New(circuitbreaker.Settings{FailureThreshold: 2, Timeout: time.Minute}))

	for i := 0; i < 2; i++ {
		_, err := gen.Complete(context.Background(), "", "hi", 10)
		require.Error(t, err)
	}
	_, err := gen.Complete(context.Background(), "", "hi", 10)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 2, calls)
}

func TestWithTimeout(t *testing.T) {
	slow := GeneratorFunc(func(ctx context.Context, system, user string, maxTokens int) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	_, err := WithTimeout(slow, 10*time.Millisecond).Complete(context.Background(), "", "hi", 10)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
