package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/custodia-labs/posbridge/internal/core/domain"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.CatalogStore = (*CatalogStore)(nil)

var canonicalColumns = []string{
	"id", "upc", "name", "normalized_name", "category", "manufacturer",
	"model_year", "image_count", "created_at", "updated_at",
}

// canonicalRow mirrors canonical_products; Similarity is only set by searches
type canonicalRow struct {
	ID             string        `db:"id"`
	UPC            string        `db:"upc"`
	Name           string        `db:"name"`
	NormalizedName string        `db:"normalized_name"`
	Category       string        `db:"category"`
	Manufacturer   string        `db:"manufacturer"`
	ModelYear      sql.NullInt64 `db:"model_year"`
	ImageCount     int           `db:"image_count"`
	CreatedAt      time.Time     `db:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at"`
	Similarity     float64       `db:"similarity"`
}

func (r *canonicalRow) toDomain() *domain.CanonicalProduct {
	p := &domain.CanonicalProduct{
		ID:             r.ID,
		UPC:            r.UPC,
		Name:           r.Name,
		NormalizedName: r.NormalizedName,
		Category:       r.Category,
		Manufacturer:   r.Manufacturer,
		ImageCount:     r.ImageCount,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.ModelYear.Valid {
		year := int(r.ModelYear.Int64)
		p.ModelYear = &year
	}
	return p
}

// CatalogStore implements driven.CatalogStore using PostgreSQL.
// Name search ranks by pg_trgm similarity() on normalized_name.
type CatalogStore struct {
	db *DB
}

// NewCatalogStore creates a new CatalogStore
func NewCatalogStore(db *DB) *CatalogStore {
	return &CatalogStore{db: db}
}

func (s *CatalogStore) getOne(ctx context.Context, column, value string) (*domain.CanonicalProduct, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(canonicalColumns...)
	sb.From("canonical_products")
	sb.Where(sb.Equal(column, value))
	sb.Limit(1)

	query, args := sb.Build()
	var row canonicalRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

// Get retrieves a canonical product by ID
func (s *CatalogStore) Get(ctx context.Context, id string) (*domain.CanonicalProduct, error) {
	p, err := s.getOne(ctx, "id", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get canonical product: %w", err)
	}
	return p, nil
}

// FindByUPC returns the product with the normalized UPC, or nil when absent
func (s *CatalogStore) FindByUPC(ctx context.Context, upc string) (*domain.CanonicalProduct, error) {
	if upc == "" {
		return nil, nil
	}
	p, err := s.getOne(ctx, "upc", upc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find canonical product by upc: %w", err)
	}
	return p, nil
}

// SearchByName returns trigram candidates at or above the similarity floor
func (s *CatalogStore) SearchByName(ctx context.Context, q domain.CatalogQuery) ([]*domain.MatchCandidate, error) {
	if strings.TrimSpace(q.NormalizedName) == "" {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = domain.MaxMatchCandidates
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	name := sb.Var(q.NormalizedName)
	// truncated, and filtered and ranked on the value that is reported
	score := fmt.Sprintf("trunc((similarity(normalized_name, %s) * 100)::numeric, 2)::float8", name)

	sb.Select(append(append([]string{}, canonicalColumns...), score+" AS similarity")...)
	sb.From("canonical_products")
	where := []string{fmt.Sprintf("%s >= %s", score, sb.Var(q.MinSimilarity))}
	if q.Category != "" {
		where = append(where, sb.Equal("lower(category)", strings.ToLower(q.Category)))
	}
	if q.Manufacturer != "" {
		where = append(where, sb.Equal("lower(manufacturer)", strings.ToLower(q.Manufacturer)))
	}
	sb.Where(where...)
	sb.OrderBy("similarity DESC", "id")
	sb.Limit(limit)

	query, args := sb.Build()
	var rows []canonicalRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("search canonical products: %w", err)
	}

	candidates := make([]*domain.MatchCandidate, 0, len(rows))
	for i := range rows {
		candidates = append(candidates, &domain.MatchCandidate{
			Product:    rows[i].toDomain(),
			Similarity: rows[i].Similarity,
		})
	}
	return candidates, nil
}

// Create stores a new canonical product. A duplicate UPC is a conflict.
func (s *CatalogStore) Create(ctx context.Context, p *domain.CanonicalProduct) error {
	var modelYear sql.NullInt64
	if p.ModelYear != nil {
		modelYear = sql.NullInt64{Int64: int64(*p.ModelYear), Valid: true}
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("canonical_products")
	ib.Cols(canonicalColumns...)
	ib.Values(p.ID, p.UPC, p.Name, p.NormalizedName, p.Category, p.Manufacturer,
		modelYear, p.ImageCount, p.CreatedAt, p.UpdatedAt)

	query, args := ib.Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("create canonical product: %w", domain.ErrConflict)
		}
		return fmt.Errorf("create canonical product: %w", err)
	}
	return nil
}
