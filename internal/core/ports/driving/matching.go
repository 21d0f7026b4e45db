package driving

import (
	"context"

	"github.com/custodia-labs/posbridge/internal/core/domain"
)

// ProductMatcher matches ingested products against the canonical catalog
// and manages the review queue.
type ProductMatcher interface {
	// FindCanonicalProductMatch runs the UPC then fuzzy-name policy.
	FindCanonicalProductMatch(ctx context.Context, product domain.ProductInput) (*domain.MatchResult, error)

	// Enqueue adds a product to the match queue as pending.
	Enqueue(ctx context.Context, product domain.ProductInput) (*domain.MatchQueueItem, error)

	// ProcessMatchQueueItem matches one queued product and links it when
	// no review is needed.
	ProcessMatchQueueItem(ctx context.Context, itemID string) (*domain.MatchQueueItem, error)

	// ConfirmMatch links a reviewed item to the suggested canonical product,
	// or to canonicalID when given.
	ConfirmMatch(ctx context.Context, itemID, canonicalID string) (*domain.MatchQueueItem, error)

	// RejectMatchAndCreateNew mints a canonical product from the item and
	// links to it.
	RejectMatchAndCreateNew(ctx context.Context, itemID string) (*domain.MatchQueueItem, error)

	// ProcessPendingQueue processes up to limit pending items. Per-item
	// failures are counted, not returned.
	ProcessPendingQueue(ctx context.Context, limit int) (*domain.BatchResult, error)

	// ListReview returns items waiting for a human decision.
	ListReview(ctx context.Context, limit int) ([]*domain.MatchQueueItem, error)
}
