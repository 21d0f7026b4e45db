package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*MockDistributedLock)(nil)

// MockDistributedLock keeps named locks in memory with TTLs.
type MockDistributedLock struct {
	mu      sync.Mutex
	expires map[string]time.Time

	// Optional hooks
	AcquireFn func(name string, ttl time.Duration) (bool, error)
	ExtendFn  func(name string, ttl time.Duration) error
	PingFn    func() error

	Acquired []string
	extended int
}

// NewMockDistributedLock creates a new mock distributed lock.
func NewMockDistributedLock() *MockDistributedLock {
	return &MockDistributedLock{expires: make(map[string]time.Time)}
}

func (m *MockDistributedLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if m.AcquireFn != nil {
		return m.AcquireFn(name, ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if expiry, held := m.expires[name]; held && time.Now().Before(expiry) {
		return false, nil
	}
	m.expires[name] = time.Now().Add(ttl)
	m.Acquired = append(m.Acquired, name)
	return true, nil
}

func (m *MockDistributedLock) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.expires, name)
	return nil
}

func (m *MockDistributedLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extended++
	if m.ExtendFn != nil {
		return m.ExtendFn(name, ttl)
	}
	expiry, held := m.expires[name]
	if !held || time.Now().After(expiry) {
		return fmt.Errorf("lock %s not held", name)
	}
	m.expires[name] = time.Now().Add(ttl)
	return nil
}

func (m *MockDistributedLock) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn()
	}
	return nil
}

// IsHeld reports whether a lock is currently held.
func (m *MockDistributedLock) IsHeld(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, held := m.expires[name]
	return held && time.Now().Before(expiry)
}

// Hold marks a lock as held by another instance.
func (m *MockDistributedLock) Hold(name string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expires[name] = time.Now().Add(ttl)
}

// Extensions returns how many times Extend was called.
func (m *MockDistributedLock) Extensions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extended
}
