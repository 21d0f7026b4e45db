package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/posbridge/internal/core/domain"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
	"github.com/custodia-labs/posbridge/internal/core/ports/driving"
	"github.com/custodia-labs/posbridge/internal/metrics"
)

// DefaultMatchBatchSize bounds ProcessPendingQueue when no limit is given
const DefaultMatchBatchSize = 50

// Ensure productMatcher implements ProductMatcher
var _ driving.ProductMatcher = (*productMatcher)(nil)

// ProductMatcherConfig holds dependencies for the product matcher.
type ProductMatcherConfig struct {
	Catalog driven.CatalogStore
	Queue   driven.MatchQueueStore
	Linker  driven.ProductLinker
	Logger  *slog.Logger
	Now     func() time.Time
}

type productMatcher struct {
	catalog driven.CatalogStore
	queue   driven.MatchQueueStore
	linker  driven.ProductLinker
	logger  *slog.Logger
	now     func() time.Time
}

// NewProductMatcher creates a new product matcher.
func NewProductMatcher(cfg ProductMatcherConfig) driving.ProductMatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &productMatcher{
		catalog: cfg.Catalog,
		queue:   cfg.Queue,
		linker:  cfg.Linker,
		logger:  logger,
		now:     now,
	}
}

// FindCanonicalProductMatch matches by exact UPC, then by fuzzy name.
func (m *productMatcher) FindCanonicalProductMatch(ctx context.Context, product domain.ProductInput) (*domain.MatchResult, error) {
	result, err := m.findMatch(ctx, product)
	if err != nil {
		return nil, err
	}
	metrics.MatchDecisionsTotal.WithLabelValues(string(result.MatchType), strconv.FormatBool(result.RequiresReview)).Inc()
	return result, nil
}

func (m *productMatcher) findMatch(ctx context.Context, product domain.ProductInput) (*domain.MatchResult, error) {
	if upc := domain.NormalizeUPC(product.UPC); upc != "" {
		hit, err := m.catalog.FindByUPC(ctx, upc)
		if err != nil {
			return nil, fmt.Errorf("find by upc: %w", err)
		}
		if hit != nil {
			return &domain.MatchResult{
				CanonicalProductID: hit.ID,
				Confidence:         domain.UPCMatchConfidence,
				MatchType:          domain.MatchTypeUPCExact,
				Candidates:         []*domain.MatchCandidate{{Product: hit, Similarity: domain.UPCMatchConfidence}},
			}, nil
		}
	}

	noMatch := &domain.MatchResult{MatchType: domain.MatchTypeNone, RequiresReview: true}

	name := domain.NormalizeName(product.Name)
	if name == "" {
		return noMatch, nil
	}

	candidates, err := m.catalog.SearchByName(ctx, domain.CatalogQuery{
		NormalizedName: name,
		Category:       product.Category,
		Manufacturer:   product.Manufacturer,
		MinSimilarity:  domain.ReviewThreshold,
		Limit:          domain.MaxMatchCandidates,
	})
	if err != nil {
		return nil, fmt.Errorf("search catalog: %w", err)
	}
	candidates = rankCandidates(candidates)
	if len(candidates) == 0 {
		return noMatch, nil
	}

	best := candidates[0]
	if best.Similarity >= domain.AutoAcceptThreshold {
		return &domain.MatchResult{
			CanonicalProductID: best.Product.ID,
			Confidence:         best.Similarity,
			MatchType:          domain.MatchTypeNameFuzzy,
			Candidates:         candidates,
		}, nil
	}
	return &domain.MatchResult{
		Confidence:     best.Similarity,
		MatchType:      domain.MatchTypeNameFuzzy,
		RequiresReview: true,
		Candidates:     candidates,
	}, nil
}

// rankCandidates enforces the floor, order and cap whatever the store returned.
func rankCandidates(in []*domain.MatchCandidate) []*domain.MatchCandidate {
	out := make([]*domain.MatchCandidate, 0, len(in))
	for _, c := range in {
		if c != nil && c.Product != nil && c.Similarity >= domain.ReviewThreshold {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > domain.MaxMatchCandidates {
		out = out[:domain.MaxMatchCandidates]
	}
	return out
}

// Enqueue adds a product to the match queue.
func (m *productMatcher) Enqueue(ctx context.Context, product domain.ProductInput) (*domain.MatchQueueItem, error) {
	if product.ProductID == "" || product.Name == "" {
		return nil, fmt.Errorf("enqueue product: %w", domain.ErrInvalidInput)
	}

	now := m.now()
	item := &domain.MatchQueueItem{
		ID:           uuid.NewString(),
		ProductID:    product.ProductID,
		UPC:          domain.NormalizeUPC(product.UPC),
		ProductName:  product.Name,
		Category:     product.Category,
		Manufacturer: product.Manufacturer,
		Status:       domain.MatchStatusPending,
		MatchType:    domain.MatchTypeNone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	stored, err := m.queue.Enqueue(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("enqueue product: %w", err)
	}
	return stored, nil
}

// ProcessMatchQueueItem matches one queued product.
func (m *productMatcher) ProcessMatchQueueItem(ctx context.Context, itemID string) (*domain.MatchQueueItem, error) {
	item, err := m.queue.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status == domain.MatchStatusCompleted {
		return nil, fmt.Errorf("queue item %s already completed: %w", itemID, domain.ErrConflict)
	}

	log := m.logger.With("item_id", item.ID, "product_id", item.ProductID)
	item.Attempts++

	result, err := m.FindCanonicalProductMatch(ctx, item.ToProductInput())
	if err != nil {
		return item, m.fail(ctx, item, err)
	}

	item.MatchConfidence = result.Confidence
	item.MatchType = result.MatchType
	item.LastError = ""

	if result.RequiresReview {
		item.Status = domain.MatchStatusManualReview
		item.SuggestedCanonicalID = result.TopSuggestion()
	} else {
		if err := m.linker.LinkCanonical(ctx, item.ProductID, result.CanonicalProductID); err != nil {
			return item, m.fail(ctx, item, fmt.Errorf("link canonical product: %w", err))
		}
		item.Status = domain.MatchStatusMatched
		item.SuggestedCanonicalID = result.CanonicalProductID
		item.LinkedCanonicalID = result.CanonicalProductID
	}

	if err := m.save(ctx, item); err != nil {
		return item, err
	}
	metrics.MatchQueueProcessed.WithLabelValues(string(item.Status)).Inc()
	log.Debug("processed match queue item", "status", item.Status, "confidence", item.MatchConfidence)
	return item, nil
}

func (m *productMatcher) fail(ctx context.Context, item *domain.MatchQueueItem, cause error) error {
	item.Status = domain.MatchStatusFailed
	item.LastError = cause.Error()
	if err := m.save(ctx, item); err != nil {
		m.logger.Error("failed to record match failure", "item_id", item.ID, "error", err)
	}
	metrics.MatchQueueProcessed.WithLabelValues(string(domain.MatchStatusFailed)).Inc()
	return cause
}

func (m *productMatcher) save(ctx context.Context, item *domain.MatchQueueItem) error {
	item.UpdatedAt = m.now()
	if err := m.queue.Update(ctx, item); err != nil {
		return fmt.Errorf("update queue item: %w", err)
	}
	return nil
}

// ConfirmMatch links an item after human review.
func (m *productMatcher) ConfirmMatch(ctx context.Context, itemID, canonicalID string) (*domain.MatchQueueItem, error) {
	item, err := m.queue.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status == domain.MatchStatusCompleted {
		return nil, fmt.Errorf("queue item %s already completed: %w", itemID, domain.ErrConflict)
	}

	target := canonicalID
	if target == "" {
		target = item.SuggestedCanonicalID
	}
	if target == "" {
		return nil, fmt.Errorf("queue item %s: %w", itemID, domain.ErrMatchNotFound)
	}
	if _, err := m.catalog.Get(ctx, target); err != nil {
		return nil, fmt.Errorf("canonical product %s: %w", target, err)
	}

	if err := m.linker.LinkCanonical(ctx, item.ProductID, target); err != nil {
		return nil, fmt.Errorf("link canonical product: %w", err)
	}

	item.Status = domain.MatchStatusCompleted
	item.MatchType = domain.MatchTypeManual
	item.LinkedCanonicalID = target
	item.LastError = ""
	if err := m.save(ctx, item); err != nil {
		return nil, err
	}
	m.logger.Info("confirmed product match", "item_id", item.ID, "canonical_id", target)
	return item, nil
}

// RejectMatchAndCreateNew mints a canonical product from the item.
func (m *productMatcher) RejectMatchAndCreateNew(ctx context.Context, itemID string) (*domain.MatchQueueItem, error) {
	item, err := m.queue.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status == domain.MatchStatusCompleted {
		return nil, fmt.Errorf("queue item %s already completed: %w", itemID, domain.ErrConflict)
	}

	now := m.now()
	product := &domain.CanonicalProduct{
		ID:             uuid.NewString(),
		UPC:            domain.NormalizeUPC(item.UPC),
		Name:           item.ProductName,
		NormalizedName: domain.NormalizeName(item.ProductName),
		Category:       item.Category,
		Manufacturer:   item.Manufacturer,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.catalog.Create(ctx, product); err != nil {
		return nil, fmt.Errorf("create canonical product: %w", err)
	}
	if err := m.linker.LinkCanonical(ctx, item.ProductID, product.ID); err != nil {
		return nil, fmt.Errorf("link canonical product: %w", err)
	}

	item.Status = domain.MatchStatusCompleted
	item.MatchType = domain.MatchTypeManual
	item.LinkedCanonicalID = product.ID
	item.LastError = ""
	if err := m.save(ctx, item); err != nil {
		return nil, err
	}
	m.logger.Info("created canonical product from queue item", "item_id", item.ID, "canonical_id", product.ID)
	return item, nil
}

// ProcessPendingQueue processes a bounded batch of pending items.
func (m *productMatcher) ProcessPendingQueue(ctx context.Context, limit int) (*domain.BatchResult, error) {
	if limit <= 0 {
		limit = DefaultMatchBatchSize
	}

	items, err := m.queue.ListByStatus(ctx, domain.MatchStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending queue items: %w", err)
	}

	result := &domain.BatchResult{}
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		result.Processed++

		processed, err := m.ProcessMatchQueueItem(ctx, item.ID)
		if err != nil {
			result.Failed++
			m.logger.Warn("failed to process match queue item", "item_id", item.ID, "error", err)
			continue
		}
		switch processed.Status {
		case domain.MatchStatusMatched:
			result.Matched++
		case domain.MatchStatusManualReview:
			result.ManualReview++
		}
	}

	if result.Processed > 0 {
		m.logger.Info("processed match queue batch",
			"processed", result.Processed,
			"matched", result.Matched,
			"manual_review", result.ManualReview,
			"failed", result.Failed,
		)
	}
	return result, nil
}

// ListReview returns items waiting for a human decision.
func (m *productMatcher) ListReview(ctx context.Context, limit int) ([]*domain.MatchQueueItem, error) {
	if limit <= 0 {
		limit = DefaultMatchBatchSize
	}
	return m.queue.ListByStatus(ctx, domain.MatchStatusManualReview, limit)
}
