package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/posbridge/internal/core/domain"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
)

var _ driven.ConnectionStore = (*MockConnectionStore)(nil)

// MockConnectionStore is an in-memory ConnectionStore with the same
// version semantics as the PostgreSQL adapter.
type MockConnectionStore struct {
	mu          sync.Mutex
	connections map[string]*domain.Connection

	// Optional hooks, called before the in-memory behaviour
	UpsertFn func(userID string, update *domain.ConnectionUpdate) error
	GetFn    func(userID string) error
}

// NewMockConnectionStore creates an empty store.
func NewMockConnectionStore() *MockConnectionStore {
	return &MockConnectionStore{connections: make(map[string]*domain.Connection)}
}

func (m *MockConnectionStore) Get(ctx context.Context, userID string) (*domain.Connection, error) {
	if m.GetFn != nil {
		if err := m.GetFn(userID); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.connections[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *conn
	return &cp, nil
}

func (m *MockConnectionStore) Upsert(ctx context.Context, userID string, update *domain.ConnectionUpdate) (*domain.Connection, error) {
	if m.UpsertFn != nil {
		if err := m.UpsertFn(userID, update); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[userID]
	if !ok {
		conn = &domain.Connection{UserID: userID}
	} else {
		cp := *conn
		conn = &cp
	}
	if update.IfVersion != nil && *update.IfVersion != conn.Version {
		return nil, domain.ErrConflict
	}

	update.Apply(conn, time.Now())
	m.connections[userID] = conn

	cp := *conn
	return &cp, nil
}

func (m *MockConnectionStore) ClearTokens(ctx context.Context, userID string, ifVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[userID]
	if !ok {
		return domain.ErrNotFound
	}
	if conn.Version != ifVersion {
		return domain.ErrConflict
	}
	cp := *conn
	(&domain.ConnectionUpdate{ClearTokens: true}).Apply(&cp, time.Now())
	m.connections[userID] = &cp
	return nil
}

func (m *MockConnectionStore) ListExpiring(ctx context.Context, before time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expiring []*domain.Connection
	for _, conn := range m.connections {
		if conn.Status == domain.ConnectionStatusConnected && conn.TokenExpiresAt != nil && conn.TokenExpiresAt.Before(before) {
			expiring = append(expiring, conn)
		}
	}
	sort.Slice(expiring, func(i, j int) bool {
		return expiring[i].TokenExpiresAt.Before(*expiring[j].TokenExpiresAt)
	})

	var ids []string
	for _, conn := range expiring {
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, conn.UserID)
	}
	return ids, nil
}

// Put stores a connection verbatim (for test setup).
func (m *MockConnectionStore) Put(conn *domain.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *conn
	m.connections[conn.UserID] = &cp
}
