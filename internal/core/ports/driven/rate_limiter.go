package driven

import (
	"context"
	"time"
)

// RateLimiter gates outbound provider calls.
type RateLimiter interface {
	// Wait blocks until a slot is admitted or ctx is done.
	Wait(ctx context.Context) error
}

// Throttler is implemented by limiters that can be told to back off,
// e.g. after the provider answered 429 with Retry-After.
type Throttler interface {
	BlockFor(ctx context.Context, d time.Duration) error
}
