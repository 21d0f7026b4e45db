package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/posbridge/internal/core/domain"
)

// ConnectionStore persists one POS connection row per user.
// It carries no business rules; the token manager owns the semantics.
type ConnectionStore interface {
	// Get returns the connection or domain.ErrNotFound.
	Get(ctx context.Context, userID string) (*domain.Connection, error)

	// Upsert applies the patch, creating the row if needed, and returns the
	// stored result. With update.IfVersion set, a version mismatch returns
	// domain.ErrConflict and nothing is written.
	Upsert(ctx context.Context, userID string, update *domain.ConnectionUpdate) (*domain.Connection, error)

	// ClearTokens nulls both encrypted tokens and the expiry if the row is
	// still at ifVersion. It returns domain.ErrConflict when the row moved on
	// and domain.ErrNotFound when there is none.
	ClearTokens(ctx context.Context, userID string, ifVersion int64) error

	// ListExpiring returns users whose connected tokens expire before the
	// given instant, soonest first.
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]string, error)
}
