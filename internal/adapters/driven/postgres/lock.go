package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*AdvisoryLock)(nil)

// ErrLockNotHeld is returned by Extend for a lock this instance does not hold
var ErrLockNotHeld = errors.New("advisory lock not held")

// AdvisoryLock implements DistributedLock with session level advisory locks.
// A lock lives on the pooled connection that took it, so each held lock pins
// its own *sql.Conn until Release. TTLs are ignored: the lock is dropped
// when released or when the session ends.
type AdvisoryLock struct {
	db *DB

	mu   sync.Mutex
	held map[string]*sql.Conn
}

// NewAdvisoryLock creates a new PostgreSQL advisory lock adapter.
func NewAdvisoryLock(db *DB) *AdvisoryLock {
	return &AdvisoryLock{db: db, held: make(map[string]*sql.Conn)}
}

// lockKey maps a lock name onto the bigint advisory key space.
func lockKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte("posbridge:lock:" + name))
	return int64(h.Sum64())
}

// Acquire tries pg_try_advisory_lock without blocking.
func (l *AdvisoryLock) Acquire(ctx context.Context, name string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[name]; ok {
		return false, nil
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockKey(name)).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}

	l.held[name] = conn
	return true, nil
}

// Release unlocks and returns the pinned connection to the pool.
func (l *AdvisoryLock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	conn, ok := l.held[name]
	delete(l.held, name)
	l.mu.Unlock()

	if !ok {
		return nil
	}
	defer conn.Close()

	var released bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", lockKey(name)).Scan(&released); err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

// Extend only checks that the lock is still held here.
func (l *AdvisoryLock) Extend(_ context.Context, name string, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[name]; !ok {
		return fmt.Errorf("extend lock %s: %w", name, ErrLockNotHeld)
	}
	return nil
}

// Ping checks if the PostgreSQL backend is healthy.
func (l *AdvisoryLock) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}
