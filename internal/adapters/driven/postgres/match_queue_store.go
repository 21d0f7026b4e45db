package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"

	"github.com/custodia-labs/posbridge/internal/core/domain"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
)

// Verify interface compliance
var (
	_ driven.MatchQueueStore = (*MatchQueueStore)(nil)
	_ driven.ProductLinker   = (*ProductLinker)(nil)
)

var matchQueueColumns = []string{
	"id", "product_id", "upc", "product_name", "category", "manufacturer", "status",
	"match_confidence", "match_type", "suggested_canonical_id", "linked_canonical_id",
	"attempts", "last_error", "created_at", "updated_at",
}

type matchQueueRow struct {
	ID                   string    `db:"id"`
	ProductID            string    `db:"product_id"`
	UPC                  string    `db:"upc"`
	ProductName          string    `db:"product_name"`
	Category             string    `db:"category"`
	Manufacturer         string    `db:"manufacturer"`
	Status               string    `db:"status"`
	MatchConfidence      float64   `db:"match_confidence"`
	MatchType            string    `db:"match_type"`
	SuggestedCanonicalID string    `db:"suggested_canonical_id"`
	LinkedCanonicalID    string    `db:"linked_canonical_id"`
	Attempts             int       `db:"attempts"`
	LastError            string    `db:"last_error"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

func (r *matchQueueRow) toDomain() *domain.MatchQueueItem {
	return &domain.MatchQueueItem{
		ID:                   r.ID,
		ProductID:            r.ProductID,
		UPC:                  r.UPC,
		ProductName:          r.ProductName,
		Category:             r.Category,
		Manufacturer:         r.Manufacturer,
		Status:               domain.MatchStatus(r.Status),
		MatchConfidence:      r.MatchConfidence,
		MatchType:            domain.MatchType(r.MatchType),
		SuggestedCanonicalID: r.SuggestedCanonicalID,
		LinkedCanonicalID:    r.LinkedCanonicalID,
		Attempts:             r.Attempts,
		LastError:            r.LastError,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

// MatchQueueStore implements driven.MatchQueueStore using PostgreSQL.
// product_id is unique and an item keeps its id across re-enqueues.
type MatchQueueStore struct {
	db *DB
}

// NewMatchQueueStore creates a new MatchQueueStore
func NewMatchQueueStore(db *DB) *MatchQueueStore {
	return &MatchQueueStore{db: db}
}

// Enqueue inserts a pending item or resets the existing one for the product
// when its listing data changed or it failed. It returns the stored row.
func (s *MatchQueueStore) Enqueue(ctx context.Context, item *domain.MatchQueueItem) (*domain.MatchQueueItem, error) {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("match_queue")
	ib.Cols(matchQueueColumns...)
	ib.Values(item.ID, item.ProductID, item.UPC, item.ProductName, item.Category, item.Manufacturer,
		string(item.Status), item.MatchConfidence, string(item.MatchType), item.SuggestedCanonicalID,
		item.LinkedCanonicalID, item.Attempts, item.LastError, item.CreatedAt, item.UpdatedAt)

	query, args := ib.Build()
	query += ` ON CONFLICT (product_id) DO UPDATE SET
		upc = EXCLUDED.upc,
		product_name = EXCLUDED.product_name,
		category = EXCLUDED.category,
		manufacturer = EXCLUDED.manufacturer,
		status = EXCLUDED.status,
		match_confidence = EXCLUDED.match_confidence,
		match_type = EXCLUDED.match_type,
		suggested_canonical_id = EXCLUDED.suggested_canonical_id,
		linked_canonical_id = EXCLUDED.linked_canonical_id,
		attempts = EXCLUDED.attempts,
		last_error = EXCLUDED.last_error,
		updated_at = EXCLUDED.updated_at
	WHERE match_queue.status = 'failed'
		OR (match_queue.upc, match_queue.product_name, match_queue.category, match_queue.manufacturer)
			IS DISTINCT FROM (EXCLUDED.upc, EXCLUDED.product_name, EXCLUDED.category, EXCLUDED.manufacturer)
	RETURNING ` + strings.Join(matchQueueColumns, ", ")

	var row matchQueueRow
	err := s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		// conflict with an unchanged item: nothing was written
		return s.getByProduct(ctx, item.ProductID)
	}
	if err != nil {
		return nil, fmt.Errorf("enqueue product %s: %w", item.ProductID, err)
	}
	return row.toDomain(), nil
}

func (s *MatchQueueStore) getByProduct(ctx context.Context, productID string) (*domain.MatchQueueItem, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(matchQueueColumns...)
	sb.From("match_queue")
	sb.Where(sb.Equal("product_id", productID))

	query, args := sb.Build()
	var row matchQueueRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		return nil, fmt.Errorf("get queued product %s: %w", productID, err)
	}
	return row.toDomain(), nil
}

// Get retrieves a queue item by ID
func (s *MatchQueueStore) Get(ctx context.Context, id string) (*domain.MatchQueueItem, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(matchQueueColumns...)
	sb.From("match_queue")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var row matchQueueRow
	err := s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return row.toDomain(), nil
}

// ListByStatus returns up to limit items in status, oldest first
func (s *MatchQueueStore) ListByStatus(ctx context.Context, status domain.MatchStatus, limit int) ([]*domain.MatchQueueItem, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(matchQueueColumns...)
	sb.From("match_queue")
	sb.Where(sb.Equal("status", string(status)))
	sb.OrderBy("created_at", "id")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	var rows []matchQueueRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}

	items := make([]*domain.MatchQueueItem, 0, len(rows))
	for i := range rows {
		items = append(items, rows[i].toDomain())
	}
	return items, nil
}

// Update writes the mutable fields of an existing item
func (s *MatchQueueStore) Update(ctx context.Context, item *domain.MatchQueueItem) error {
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("match_queue")
	ub.Set(
		ub.Assign("status", string(item.Status)),
		ub.Assign("match_confidence", item.MatchConfidence),
		ub.Assign("match_type", string(item.MatchType)),
		ub.Assign("suggested_canonical_id", item.SuggestedCanonicalID),
		ub.Assign("linked_canonical_id", item.LinkedCanonicalID),
		ub.Assign("attempts", item.Attempts),
		ub.Assign("last_error", item.LastError),
		ub.Assign("updated_at", item.UpdatedAt),
	)
	ub.Where(ub.Equal("id", item.ID))

	query, args := ub.Build()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update queue item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update queue item: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ProductLinker implements driven.ProductLinker using the product_links table
type ProductLinker struct {
	db  *DB
	now func() time.Time
}

// NewProductLinker creates a new ProductLinker
func NewProductLinker(db *DB) *ProductLinker {
	return &ProductLinker{db: db, now: time.Now}
}

// LinkCanonical points productID at canonicalID, replacing any previous link
func (l *ProductLinker) LinkCanonical(ctx context.Context, productID, canonicalID string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO product_links (product_id, canonical_product_id, linked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_id) DO UPDATE SET
			canonical_product_id = EXCLUDED.canonical_product_id,
			linked_at = EXCLUDED.linked_at
	`, productID, canonicalID, l.now().UTC())
	if err != nil {
		return fmt.Errorf("link product %s: %w", productID, err)
	}
	return nil
}

// LinkedTo returns the canonical product a listing points at, or "" when unlinked
func (l *ProductLinker) LinkedTo(ctx context.Context, productID string) (string, error) {
	var canonicalID string
	err := l.db.GetContext(ctx, &canonicalID,
		`SELECT canonical_product_id FROM product_links WHERE product_id = $1`, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get product link: %w", err)
	}
	return canonicalID, nil
}
