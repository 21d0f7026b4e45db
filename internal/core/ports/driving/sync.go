package driving

import (
	"context"

	"github.com/custodia-labs/posbridge/internal/core/domain"
)

// SyncService pulls a bounded batch of POS data for a user
type SyncService interface {
	// PerformSync fetches every resource family independently and stamps
	// the connection's last sync time when at least one succeeded.
	// domain.ErrUnauthenticated aborts the run.
	PerformSync(ctx context.Context, userID string, opts domain.SyncOptions) (*domain.SyncReport, error)
}
