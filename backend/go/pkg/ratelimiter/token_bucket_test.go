package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	now := time.Unix(0, 0)
	tb := newTokenBucket(2, 3, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		assert.True(t, tb.Allow(), "第 %d 个请求应在突发容量内", i)
	}
	assert.False(t, tb.Allow())

	now = now.Add(500 * time.Millisecond)
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	// 补充不超过容量
	now = now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, tb.Allow())
	}
	assert.False(t, tb.Allow())
}

func TestTokenBucket_WaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(0.001, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tb.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTokenBucket_WaitReturnsWhenTokenAvailable(t *testing.T) {
	tb := NewTokenBucket(100, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tb.Wait(ctx))
}

func TestTokenBucket_ImplementsRateLimiter(t *testing.T) {
	var _ RateLimiter = NewTokenBucket(1, 1)
}
