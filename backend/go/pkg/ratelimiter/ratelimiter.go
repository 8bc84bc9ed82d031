package ratelimiter

import "context"

// RateLimiter is the interface for rate limiting.
type RateLimiter interface {
	// Allow reports whether a request may proceed now, consuming a token if so.
	Allow() bool
	// Wait blocks until a request may proceed or ctx is done.
	Wait(ctx context.Context) error
}
