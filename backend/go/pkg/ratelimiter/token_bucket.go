package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements RateLimiter using the token bucket algorithm.
// It allows bursts of requests up to the bucket's capacity.
type TokenBucket struct {
	rate          float64 // tokens generated per second
	capacity      float64
	tokens        float64
	lastTokenTime time.Time
	now           func() time.Time
	mutex         sync.Mutex
}

// NewTokenBucket creates a TokenBucket that starts full.
func NewTokenBucket(rate float64, capacity int) *TokenBucket {
	return newTokenBucket(rate, capacity, time.Now)
}

func newTokenBucket(rate float64, capacity int, now func() time.Time) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	return &TokenBucket{
		rate:          rate,
		capacity:      float64(capacity),
		tokens:        float64(capacity),
		lastTokenTime: now(),
		now:           now,
	}
}

// Allow refills the bucket for the elapsed time and consumes one token if available.
func (tb *TokenBucket) Allow() bool {
	return tb.reserve() == 0
}

// Wait blocks until a token is available.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		delay := tb.reserve()
		if delay == 0 {
			return nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve takes a token and returns 0, or returns how long until one is due.
func (tb *TokenBucket) reserve() time.Duration {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	now := tb.now()
	if elapsed := now.Sub(tb.lastTokenTime); elapsed > 0 {
		tb.tokens += elapsed.Seconds() * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTokenTime = now
	}

	if tb.tokens >= 1 {
		tb.tokens--
		return 0
	}
	if tb.rate <= 0 {
		return time.Second
	}
	return time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
}
