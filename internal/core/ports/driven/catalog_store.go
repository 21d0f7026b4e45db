package driven

import (
	"context"

	"github.com/custodia-labs/posbridge/internal/core/domain"
)

// CatalogStore holds canonical products.
type CatalogStore interface {
	// Get returns a canonical product or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.CanonicalProduct, error)

	// FindByUPC returns the product with the normalized UPC, or nil, nil.
	FindByUPC(ctx context.Context, upc string) (*domain.CanonicalProduct, error)

	// SearchByName returns candidates at or above query.MinSimilarity,
	// most similar first, at most query.Limit of them.
	SearchByName(ctx context.Context, query domain.CatalogQuery) ([]*domain.MatchCandidate, error)

	// Create stores a new canonical product.
	Create(ctx context.Context, product *domain.CanonicalProduct) error
}
