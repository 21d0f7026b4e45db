package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/posbridge/internal/core/domain"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
)

var (
	_ driven.MatchQueueStore = (*MockMatchQueueStore)(nil)
	_ driven.ProductLinker   = (*MockProductLinker)(nil)
)

// MockMatchQueueStore is an in-memory MatchQueueStore.
type MockMatchQueueStore struct {
	mu    sync.RWMutex
	items map[string]*domain.MatchQueueItem

	UpdateFn func(item *domain.MatchQueueItem) error
}

// NewMockMatchQueueStore creates an empty queue.
func NewMockMatchQueueStore() *MockMatchQueueStore {
	return &MockMatchQueueStore{items: make(map[string]*domain.MatchQueueItem)}
}

func (m *MockMatchQueueStore) Enqueue(ctx context.Context, item *domain.MatchQueueItem) (*domain.MatchQueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.items {
		if existing.ProductID == item.ProductID {
			existing.Requeue(item)
			cp := *existing
			return &cp, nil
		}
	}

	cp := *item
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.items[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MockMatchQueueStore) Get(ctx context.Context, id string) (*domain.MatchQueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (m *MockMatchQueueStore) ListByStatus(ctx context.Context, status domain.MatchStatus, limit int) ([]*domain.MatchQueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.MatchQueueItem
	for _, item := range m.items {
		if item.Status == status {
			cp := *item
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockMatchQueueStore) Update(ctx context.Context, item *domain.MatchQueueItem) error {
	if m.UpdateFn != nil {
		if err := m.UpdateFn(item); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *item
	m.items[item.ID] = &cp
	return nil
}

// MockProductLinker records links in memory.
type MockProductLinker struct {
	mu    sync.Mutex
	links map[string]string

	LinkFn func(productID, canonicalID string) error
}

// NewMockProductLinker creates a new MockProductLinker
func NewMockProductLinker() *MockProductLinker {
	return &MockProductLinker{links: make(map[string]string)}
}

func (m *MockProductLinker) LinkCanonical(ctx context.Context, productID, canonicalID string) error {
	if m.LinkFn != nil {
		if err := m.LinkFn(productID, canonicalID); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[productID] = canonicalID
	return nil
}

// LinkedTo returns the canonical id a product is linked to.
func (m *MockProductLinker) LinkedTo(productID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[productID]
}
