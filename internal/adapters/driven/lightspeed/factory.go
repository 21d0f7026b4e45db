package lightspeed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
)

// Ensure Factory implements POSClientFactory
var _ driven.POSClientFactory = (*Factory)(nil)

// DefaultLimiterIdleTimeout is how long a user's limiter is kept after its
// last admission or block.
const DefaultLimiterIdleTimeout = 10 * time.Minute

// LimiterFunc builds the rate limiter guarding one user's budget.
type LimiterFunc func(userID string) driven.RateLimiter

// Factory hands out per-user clients. Clients for the same user share one
// limiter so concurrent operations stay inside the provider budget. Limiters
// idle for longer than the idle timeout are dropped; by then their window
// is empty, so a fresh one admits the same calls.
type Factory struct {
	tokens     driven.TokenProvider
	newLimiter LimiterFunc
	opts       Options

	idleTimeout time.Duration
	now         func() time.Time

	mu        sync.Mutex
	limiters  map[string]*trackedLimiter
	lastSweep time.Time
}

// NewFactory creates a client factory.
func NewFactory(tokens driven.TokenProvider, newLimiter LimiterFunc, opts Options) *Factory {
	return &Factory{
		tokens:      tokens,
		newLimiter:  newLimiter,
		opts:        opts,
		idleTimeout: DefaultLimiterIdleTimeout,
		now:         time.Now,
		limiters:    make(map[string]*trackedLimiter),
	}
}

// ForUser returns a client bound to userID.
func (f *Factory) ForUser(userID string) driven.POSClient {
	return NewClient(userID, f.tokens, f.limiter(userID), f.opts)
}

func (f *Factory) limiter(userID string) driven.RateLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if now.Sub(f.lastSweep) >= f.idleTimeout {
		f.sweep(now)
	}

	if l, ok := f.limiters[userID]; ok {
		l.touch(now)
		return l
	}
	l := &trackedLimiter{RateLimiter: f.newLimiter(userID), now: f.now}
	l.touch(now)
	f.limiters[userID] = l
	return l
}

func (f *Factory) sweep(now time.Time) {
	for userID, l := range f.limiters {
		if now.Sub(l.lastUsed()) > f.idleTimeout {
			delete(f.limiters, userID)
		}
	}
	f.lastSweep = now
}

// trackedLimiter records when a limiter was last used. A block counts as
// use until it ends.
type trackedLimiter struct {
	driven.RateLimiter
	now  func() time.Time
	used atomic.Int64
}

var _ driven.Throttler = (*trackedLimiter)(nil)

func (t *trackedLimiter) Wait(ctx context.Context) error {
	t.touch(t.now())
	return t.RateLimiter.Wait(ctx)
}

// BlockFor forwards to the wrapped limiter when it can throttle.
func (t *trackedLimiter) BlockFor(ctx context.Context, d time.Duration) error {
	t.touch(t.now().Add(d))
	if th, ok := t.RateLimiter.(driven.Throttler); ok {
		return th.BlockFor(ctx, d)
	}
	return nil
}

func (t *trackedLimiter) touch(at time.Time) {
	n := at.UnixNano()
	for {
		cur := t.used.Load()
		if n <= cur || t.used.CompareAndSwap(cur, n) {
			return
		}
	}
}

func (t *trackedLimiter) lastUsed() time.Time {
	return time.Unix(0, t.used.Load())
}
