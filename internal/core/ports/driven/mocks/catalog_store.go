package mocks

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/posbridge/internal/core/domain"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
)

var _ driven.CatalogStore = (*MockCatalogStore)(nil)

// MockCatalogStore is an in-memory catalog. Name search scores with
// domain.NameSimilarity unless SearchFn is set.
type MockCatalogStore struct {
	mu       sync.RWMutex
	products map[string]*domain.CanonicalProduct

	SearchFn func(query domain.CatalogQuery) ([]*domain.MatchCandidate, error)
	CreateFn func(product *domain.CanonicalProduct) error
}

// NewMockCatalogStore creates an empty catalog.
func NewMockCatalogStore() *MockCatalogStore {
	return &MockCatalogStore{products: make(map[string]*domain.CanonicalProduct)}
}

func (m *MockCatalogStore) Get(ctx context.Context, id string) (*domain.CanonicalProduct, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (m *MockCatalogStore) FindByUPC(ctx context.Context, upc string) (*domain.CanonicalProduct, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.products {
		if p.UPC != "" && p.UPC == upc {
			return p, nil
		}
	}
	return nil, nil
}

func (m *MockCatalogStore) SearchByName(ctx context.Context, query domain.CatalogQuery) ([]*domain.MatchCandidate, error) {
	if m.SearchFn != nil {
		return m.SearchFn(query)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.MatchCandidate
	for _, p := range m.products {
		if query.Category != "" && !strings.EqualFold(p.Category, query.Category) {
			continue
		}
		if query.Manufacturer != "" && !strings.EqualFold(p.Manufacturer, query.Manufacturer) {
			continue
		}
		score := domain.NameSimilarity(query.NormalizedName, p.NormalizedName)
		if score >= query.MinSimilarity {
			out = append(out, &domain.MatchCandidate{Product: p, Similarity: score})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (m *MockCatalogStore) Create(ctx context.Context, product *domain.CanonicalProduct) error {
	if m.CreateFn != nil {
		if err := m.CreateFn(product); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[product.ID] = product
	return nil
}

// Count returns the number of stored products.
func (m *MockCatalogStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.products)
}
