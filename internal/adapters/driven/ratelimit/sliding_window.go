// Package ratelimit provides the in-process provider rate limiter.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
	"github.com/custodia-labs/posbridge/internal/metrics"
)

const (
	// DefaultRequestsPerSecond is the provider's documented budget
	DefaultRequestsPerSecond = 5

	// DefaultWindow is the sliding window width
	DefaultWindow = time.Second
)

// Ensure SlidingWindow implements the limiter ports
var (
	_ driven.RateLimiter = (*SlidingWindow)(nil)
	_ driven.Throttler   = (*SlidingWindow)(nil)
)

// SlidingWindow admits at most limit calls in any window.
// Admission timestamps are kept in order, oldest first.
type SlidingWindow struct {
	mu           sync.Mutex
	limit        int
	window       time.Duration
	admitted     []time.Time
	blockedUntil time.Time
	now          func() time.Time
}

// NewSlidingWindow creates a limiter. Non-positive arguments fall back to the defaults.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	if limit <= 0 {
		limit = DefaultRequestsPerSecond
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &SlidingWindow{
		limit:    limit,
		window:   window,
		admitted: make([]time.Time, 0, limit),
		now:      time.Now,
	}
}

// Wait blocks until the call fits in the window. It re-evaluates after every
// sleep because other callers may have taken the freed slot.
func (l *SlidingWindow) Wait(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.RateLimitWaitTime.WithLabelValues("local").Observe(time.Since(start).Seconds())
	}()

	for {
		delay, ok := l.reserve()
		if ok {
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

// reserve admits the call or returns how long to wait before trying again.
func (l *SlidingWindow) reserve() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Before(l.blockedUntil) {
		return l.blockedUntil.Sub(now), false
	}

	cutoff := now.Add(-l.window)
	expired := 0
	for expired < len(l.admitted) && !l.admitted[expired].After(cutoff) {
		expired++
	}
	l.admitted = l.admitted[expired:]

	if len(l.admitted) < l.limit {
		l.admitted = append(l.admitted, now)
		return 0, true
	}

	delay := l.admitted[0].Add(l.window).Sub(now)
	if delay <= 0 {
		delay = time.Millisecond
	}
	return delay, false
}

// BlockFor refuses every admission for d.
func (l *SlidingWindow) BlockFor(_ context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if until := l.now().Add(d); until.After(l.blockedUntil) {
		l.blockedUntil = until
	}
	return nil
}

// InFlight returns the number of admissions still inside the window.
func (l *SlidingWindow) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.window)
	n := 0
	for _, t := range l.admitted {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
