package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/custodia-labs/posbridge/internal/core/domain"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ConnectionStore = (*ConnectionStore)(nil)

// maxUpsertAttempts bounds retries of unconditional writes that lost an insert race
const maxUpsertAttempts = 3

// errLostRace means the row changed between the locked read and the write
var errLostRace = errors.New("connection row changed concurrently")

const connectionColumns = `user_id, status, access_token_enc, refresh_token_enc, token_expires_at,
	account_id, account_name, oauth_state, oauth_state_expires_at, last_error, error_count,
	last_sync_at, disconnected_at, version, created_at, updated_at`

// connectionRow mirrors pos_connections
type connectionRow struct {
	UserID              string              `db:"user_id"`
	Status              string              `db:"status"`
	AccessTokenEnc      sql.Null[string]    `db:"access_token_enc"`
	RefreshTokenEnc     sql.Null[string]    `db:"refresh_token_enc"`
	TokenExpiresAt      sql.Null[time.Time] `db:"token_expires_at"`
	AccountID           string              `db:"account_id"`
	AccountName         string              `db:"account_name"`
	OAuthState          sql.Null[string]    `db:"oauth_state"`
	OAuthStateExpiresAt sql.Null[time.Time] `db:"oauth_state_expires_at"`
	LastError           sql.Null[string]    `db:"last_error"`
	ErrorCount          int                 `db:"error_count"`
	LastSyncAt          sql.Null[time.Time] `db:"last_sync_at"`
	DisconnectedAt      sql.Null[time.Time] `db:"disconnected_at"`
	Version             int64               `db:"version"`
	CreatedAt           time.Time           `db:"created_at"`
	UpdatedAt           time.Time           `db:"updated_at"`
}

func (r *connectionRow) toDomain() *domain.Connection {
	return &domain.Connection{
		UserID:              r.UserID,
		Status:              domain.ConnectionStatus(r.Status),
		AccessTokenEnc:      ptr(r.AccessTokenEnc),
		RefreshTokenEnc:     ptr(r.RefreshTokenEnc),
		TokenExpiresAt:      ptr(r.TokenExpiresAt),
		AccountID:           r.AccountID,
		AccountName:         r.AccountName,
		OAuthState:          ptr(r.OAuthState),
		OAuthStateExpiresAt: ptr(r.OAuthStateExpiresAt),
		LastError:           ptr(r.LastError),
		ErrorCount:          r.ErrorCount,
		LastSyncAt:          ptr(r.LastSyncAt),
		DisconnectedAt:      ptr(r.DisconnectedAt),
		Version:             r.Version,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func connectionArgs(c *domain.Connection) []any {
	return []any{
		c.UserID,
		string(c.Status),
		nullable(c.AccessTokenEnc),
		nullable(c.RefreshTokenEnc),
		nullable(c.TokenExpiresAt),
		c.AccountID,
		c.AccountName,
		nullable(c.OAuthState),
		nullable(c.OAuthStateExpiresAt),
		nullable(c.LastError),
		c.ErrorCount,
		nullable(c.LastSyncAt),
		nullable(c.DisconnectedAt),
		c.Version,
		c.CreatedAt,
		c.UpdatedAt,
	}
}

// ConnectionStore implements driven.ConnectionStore using PostgreSQL.
// Writes are version guarded: the row is read FOR UPDATE, patched, and
// written back only if its version is still the one that was read.
type ConnectionStore struct {
	db  *DB
	now func() time.Time
}

// NewConnectionStore creates a new ConnectionStore
func NewConnectionStore(db *DB) *ConnectionStore {
	return &ConnectionStore{db: db, now: time.Now}
}

// Get retrieves the connection for userID
func (s *ConnectionStore) Get(ctx context.Context, userID string) (*domain.Connection, error) {
	var row connectionRow
	err := s.db.GetContext(ctx, &row, `SELECT `+connectionColumns+` FROM pos_connections WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return row.toDomain(), nil
}

// Upsert applies the patch, creating the row when absent
func (s *ConnectionStore) Upsert(ctx context.Context, userID string, update *domain.ConnectionUpdate) (*domain.Connection, error) {
	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		conn, err := s.upsertOnce(ctx, userID, update)
		if !errors.Is(err, errLostRace) {
			return conn, err
		}
		if update.IfVersion != nil {
			return nil, domain.ErrConflict
		}
	}
	return nil, domain.ErrConflict
}

const upsertConnectionQuery = `
	INSERT INTO pos_connections (` + connectionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (user_id) DO UPDATE SET
		status = EXCLUDED.status,
		access_token_enc = EXCLUDED.access_token_enc,
		refresh_token_enc = EXCLUDED.refresh_token_enc,
		token_expires_at = EXCLUDED.token_expires_at,
		account_id = EXCLUDED.account_id,
		account_name = EXCLUDED.account_name,
		oauth_state = EXCLUDED.oauth_state,
		oauth_state_expires_at = EXCLUDED.oauth_state_expires_at,
		last_error = EXCLUDED.last_error,
		error_count = EXCLUDED.error_count,
		last_sync_at = EXCLUDED.last_sync_at,
		disconnected_at = EXCLUDED.disconnected_at,
		version = EXCLUDED.version,
		updated_at = EXCLUDED.updated_at
	WHERE pos_connections.version = $17
	RETURNING version
`

func (s *ConnectionStore) upsertOnce(ctx context.Context, userID string, update *domain.ConnectionUpdate) (*domain.Connection, error) {
	var result *domain.Connection
	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var row connectionRow
		err := tx.GetContext(ctx, &row,
			`SELECT `+connectionColumns+` FROM pos_connections WHERE user_id = $1 FOR UPDATE`, userID)

		var current *domain.Connection
		switch {
		case errors.Is(err, sql.ErrNoRows):
			current = &domain.Connection{UserID: userID}
		case err != nil:
			return fmt.Errorf("lock connection: %w", err)
		default:
			current = row.toDomain()
		}

		if update.IfVersion != nil && *update.IfVersion != current.Version {
			return domain.ErrConflict
		}

		readVersion := current.Version
		update.Apply(current, s.now().UTC())

		var written int64
		err = tx.QueryRowxContext(ctx, upsertConnectionQuery, append(connectionArgs(current), readVersion)...).Scan(&written)
		if errors.Is(err, sql.ErrNoRows) {
			return errLostRace
		}
		if err != nil {
			return fmt.Errorf("upsert connection: %w", err)
		}
		result = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ClearTokens nulls both encrypted tokens and the expiry of a row still at ifVersion
func (s *ConnectionStore) ClearTokens(ctx context.Context, userID string, ifVersion int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pos_connections
		SET access_token_enc = NULL,
			refresh_token_enc = NULL,
			token_expires_at = NULL,
			version = version + 1,
			updated_at = $2
		WHERE user_id = $1 AND version = $3
	`, userID, s.now().UTC(), ifVersion)
	if err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM pos_connections WHERE user_id = $1)`, userID); err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

// ListExpiring returns connected users whose tokens expire before the given instant
func (s *ConnectionStore) ListExpiring(ctx context.Context, before time.Time, limit int) ([]string, error) {
	var userIDs []string
	err := s.db.SelectContext(ctx, &userIDs, `
		SELECT user_id
		FROM pos_connections
		WHERE status = 'connected'
		  AND refresh_token_enc IS NOT NULL
		  AND token_expires_at < $1
		ORDER BY token_expires_at ASC
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list expiring connections: %w", err)
	}
	return userIDs, nil
}
