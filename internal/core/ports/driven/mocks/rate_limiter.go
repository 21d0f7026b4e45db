package mocks

import (
	"context"
	"sync/atomic"

	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
)

var _ driven.RateLimiter = (*MockRateLimiter)(nil)

// MockRateLimiter admits immediately and counts admissions.
type MockRateLimiter struct {
	waits atomic.Int64

	WaitFn func(ctx context.Context) error
}

func (m *MockRateLimiter) Wait(ctx context.Context) error {
	m.waits.Add(1)
	if m.WaitFn != nil {
		return m.WaitFn(ctx)
	}
	return ctx.Err()
}

// Waits returns how many times Wait was called.
func (m *MockRateLimiter) Waits() int {
	return int(m.waits.Load())
}
