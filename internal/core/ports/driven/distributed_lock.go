package driven

import (
	"context"
	"time"
)

// DistributedLock is the lease the worker holds while it runs a job, so a
// match-queue batch or a token keep-alive sweep runs on one replica at a time.
// Implemented by Redis (lease with TTL) and PostgreSQL advisory locks (held
// for the session, TTL ignored).
type DistributedLock interface {
	// Acquire takes the named lease without blocking. acquired is false
	// when another holder has it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release gives the lease back. Releasing a lease not held is a no-op.
	Release(ctx context.Context, name string) error

	// Extend renews a held lease for ttl. It fails when the lease was lost.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	// Ping reports whether the lock backend is reachable.
	Ping(ctx context.Context) error
}
