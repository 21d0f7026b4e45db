package driven

import (
	"context"

	"github.com/custodia-labs/posbridge/internal/core/domain"
)

// MatchQueueStore holds products awaiting or past matching.
type MatchQueueStore interface {
	// Enqueue inserts a pending item and returns the stored row. A product
	// already queued keeps its id. It is reset to pending only when its
	// listing data changed or its last attempt failed.
	Enqueue(ctx context.Context, item *domain.MatchQueueItem) (*domain.MatchQueueItem, error)

	// Get returns an item or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.MatchQueueItem, error)

	// ListByStatus returns up to limit items in the status, oldest first.
	ListByStatus(ctx context.Context, status domain.MatchStatus, limit int) ([]*domain.MatchQueueItem, error)

	// Update writes all mutable fields of the item.
	Update(ctx context.Context, item *domain.MatchQueueItem) error
}

// ProductLinker records the canonical product of a marketplace listing.
type ProductLinker interface {
	LinkCanonical(ctx context.Context, productID, canonicalID string) error
}
