package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/posbridge/internal/core/domain"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
	"github.com/custodia-labs/posbridge/internal/core/ports/driving"
	"github.com/custodia-labs/posbridge/internal/metrics"
)

const (
	// RefreshBuffer is how long before expiry a token is refreshed
	RefreshBuffer = 5 * time.Minute

	// OAuthStateTTL is how long a generated state is accepted
	OAuthStateTTL = 10 * time.Minute

	oauthStateBytes = 32

	defaultKeepAliveConcurrency = 4
	keepAliveBatchLimit         = 500

	// refreshTimeout bounds a shared refresh once its callers have gone
	refreshTimeout = 30 * time.Second

	// refreshStoreAttempts bounds re-applying a refreshed pair after
	// version conflicts
	refreshStoreAttempts = 3
)

var (
	_ driving.TokenManager = (*tokenManager)(nil)
	_ driven.TokenProvider = (*tokenManager)(nil)
)

// TokenManagerConfig holds dependencies for the token manager.
type TokenManagerConfig struct {
	Store    driven.ConnectionStore
	Cipher   driven.TokenCipher
	Provider driven.OAuthProvider
	Logger   *slog.Logger

	// KeepAliveConcurrency bounds parallel refreshes in RefreshExpiring
	KeepAliveConcurrency int

	// Now overrides the clock in tests
	Now func() time.Time
}

type tokenManager struct {
	store       driven.ConnectionStore
	cipher      driven.TokenCipher
	provider    driven.OAuthProvider
	logger      *slog.Logger
	concurrency int
	now         func() time.Time

	// refreshes collapses concurrent refreshes of one user
	refreshes singleflight.Group
}

// NewTokenManager creates the token manager.
func NewTokenManager(cfg TokenManagerConfig) driving.TokenManager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	concurrency := cfg.KeepAliveConcurrency
	if concurrency <= 0 {
		concurrency = defaultKeepAliveConcurrency
	}

	return &tokenManager{
		store:       cfg.Store,
		cipher:      cfg.Cipher,
		provider:    cfg.Provider,
		logger:      logger,
		concurrency: concurrency,
		now:         now,
	}
}

// StoreTokens encrypts and stores a token pair.
func (m *tokenManager) StoreTokens(ctx context.Context, userID string, grant driving.TokenGrant) error {
	_, err := m.storeTokens(ctx, userID, grant, nil)
	return err
}

func (m *tokenManager) storeTokens(ctx context.Context, userID string, grant driving.TokenGrant, ifVersion *int64) (*domain.Connection, error) {
	if userID == "" || grant.AccessToken == "" || grant.RefreshToken == "" {
		return nil, fmt.Errorf("store tokens: %w", domain.ErrInvalidInput)
	}

	accessEnc, err := m.cipher.Encrypt(grant.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	refreshEnc, err := m.cipher.Encrypt(grant.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt refresh token: %w", err)
	}

	expiresAt := m.now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	conn, err := m.store.Upsert(ctx, userID, &domain.ConnectionUpdate{
		Status: domain.StatusPtr(domain.ConnectionStatusConnected),
		Tokens: &domain.EncryptedTokens{
			AccessToken:  accessEnc,
			RefreshToken: refreshEnc,
			ExpiresAt:    expiresAt,
		},
		AccountID:       grant.AccountID,
		AccountName:     grant.AccountName,
		ClearError:      true,
		ClearOAuthState: true,
		IfVersion:       ifVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("store tokens: %w", err)
	}
	return conn, nil
}

// GetValidAccessToken returns a usable access token or ok=false.
func (m *tokenManager) GetValidAccessToken(ctx context.Context, userID string) (string, bool) {
	conn, err := m.store.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			m.logger.Warn("failed to load connection", "user_id", userID, "error", err)
		}
		return "", false
	}
	if !conn.HasTokens() {
		return "", false
	}

	if conn.NeedsRefresh(m.now(), RefreshBuffer) {
		refreshed, err := m.refresh(ctx, conn)
		if err != nil {
			return "", false
		}
		return refreshed.AccessToken, true
	}

	token, err := m.cipher.Decrypt(*conn.AccessTokenEnc)
	if err != nil {
		m.discardCorrupt(ctx, conn, fmt.Errorf("decrypt access token: %w", err))
		return "", false
	}
	return token, true
}

// RefreshAccessToken exchanges the stored refresh token once.
func (m *tokenManager) RefreshAccessToken(ctx context.Context, userID string) (*driving.RefreshedToken, error) {
	conn, err := m.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthenticated
		}
		return nil, fmt.Errorf("load connection: %w", err)
	}
	if !conn.HasTokens() {
		return nil, domain.ErrUnauthenticated
	}
	return m.refresh(ctx, conn)
}

// refresh exchanges the refresh token, sharing one provider call between
// concurrent callers for the same user. The provider rotates refresh tokens,
// so a second parallel call with the same token would be rejected.
func (m *tokenManager) refresh(ctx context.Context, seen *domain.Connection) (*driving.RefreshedToken, error) {
	ch := m.refreshes.DoChan(seen.UserID, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.refreshOnce(fctx, seen)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*driving.RefreshedToken), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *tokenManager) refreshOnce(ctx context.Context, seen *domain.Connection) (*driving.RefreshedToken, error) {
	log := m.logger.With("user_id", seen.UserID)

	conn, err := m.store.Get(ctx, seen.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("load connection: %w", err)
	}
	if !conn.HasTokens() {
		return nil, domain.ErrUnauthenticated
	}
	// refreshed by a call that finished after the caller read the row
	if conn.Version != seen.Version && conn.Status == domain.ConnectionStatusConnected &&
		!conn.NeedsRefresh(m.now(), RefreshBuffer) {
		return m.currentToken(ctx, conn.UserID)
	}

	refreshToken, err := m.cipher.Decrypt(*conn.RefreshTokenEnc)
	if err != nil {
		err = fmt.Errorf("decrypt refresh token: %w", err)
		m.discardCorrupt(ctx, conn, err)
		metrics.TokenRefreshesTotal.WithLabelValues("failure").Inc()
		return nil, err
	}

	token, err := m.provider.RefreshToken(ctx, refreshToken)
	if err != nil {
		err = fmt.Errorf("refresh token: %w", err)
		metrics.TokenRefreshesTotal.WithLabelValues("failure").Inc()
		if m.recordFailure(ctx, conn, domain.ConnectionStatusExpired, err) == nil {
			// another replica refreshed first and rotated the token we sent
			if current, cerr := m.currentToken(ctx, conn.UserID); cerr == nil {
				return current, nil
			}
		}
		return nil, err
	}

	// Some providers only rotate the access token
	newRefresh := token.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}
	grant := driving.TokenGrant{
		AccessToken:  token.AccessToken,
		RefreshToken: newRefresh,
		ExpiresIn:    token.ExpiresIn,
	}

	stored, err := m.storeRefreshed(ctx, conn, grant)
	if errors.Is(err, domain.ErrConflict) {
		metrics.TokenRefreshesTotal.WithLabelValues("conflict").Inc()
		log.Info("connection replaced during refresh, dropping refreshed tokens")
		return m.currentToken(ctx, conn.UserID)
	}
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("failure").Inc()
		log.Error("failed to store refreshed tokens", "error", err)
		return nil, err
	}

	metrics.TokenRefreshesTotal.WithLabelValues("success").Inc()
	log.Debug("refreshed access token", "expires_at", stored.TokenExpiresAt)
	return &driving.RefreshedToken{
		AccessToken: token.AccessToken,
		ExpiresAt:   *stored.TokenExpiresAt,
	}, nil
}

// storeRefreshed writes a pair the provider already rotated. Writes that
// left the tokens in place, such as a failure recorded by a racing refresh,
// do not stop it: the old refresh token is dead at the provider. A
// disconnect or a new authorization replaced the tokens and wins, reported
// as ErrConflict.
func (m *tokenManager) storeRefreshed(ctx context.Context, conn *domain.Connection, grant driving.TokenGrant) (*domain.Connection, error) {
	version := conn.Version
	for attempt := 1; ; attempt++ {
		stored, err := m.storeTokens(ctx, conn.UserID, grant, &version)
		if !errors.Is(err, domain.ErrConflict) || attempt == refreshStoreAttempts {
			return stored, err
		}

		latest, gerr := m.store.Get(ctx, conn.UserID)
		if gerr != nil {
			return nil, fmt.Errorf("reload connection: %w", gerr)
		}
		if latest.Status == domain.ConnectionStatusDisconnected || !sameTokens(latest, conn) {
			return nil, err
		}
		version = latest.Version
	}
}

func sameTokens(a, b *domain.Connection) bool {
	return a.HasTokens() && b.HasTokens() &&
		*a.AccessTokenEnc == *b.AccessTokenEnc && *a.RefreshTokenEnc == *b.RefreshTokenEnc
}

// currentToken returns the stored token after a lost refresh race. A
// concurrent refresh leaves a usable token; a disconnect leaves none.
func (m *tokenManager) currentToken(ctx context.Context, userID string) (*driving.RefreshedToken, error) {
	conn, err := m.store.Get(ctx, userID)
	if err != nil || conn.Status != domain.ConnectionStatusConnected || !conn.HasTokens() ||
		conn.NeedsRefresh(m.now(), RefreshBuffer) {
		return nil, domain.ErrUnauthenticated
	}
	token, err := m.cipher.Decrypt(*conn.AccessTokenEnc)
	if err != nil {
		return nil, domain.ErrUnauthenticated
	}
	return &driving.RefreshedToken{AccessToken: token, ExpiresAt: *conn.TokenExpiresAt}, nil
}

// recordFailure marks the connection and records the error. It is guarded
// by the version read earlier so a concurrent write is not overwritten, and
// returns the updated row, or nil when the failure was not recorded.
func (m *tokenManager) recordFailure(ctx context.Context, conn *domain.Connection, status domain.ConnectionStatus, cause error) *domain.Connection {
	m.logger.Warn("pos token unusable", "user_id", conn.UserID, "status", status, "error", cause)

	msg := cause.Error()
	version := conn.Version
	updated, err := m.store.Upsert(ctx, conn.UserID, &domain.ConnectionUpdate{
		Status:          domain.StatusPtr(status),
		LastError:       &msg,
		IncrementErrors: true,
		IfVersion:       &version,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			m.logger.Error("failed to record token failure", "user_id", conn.UserID, "error", err)
		}
		return nil
	}
	return updated
}

// discardCorrupt records a token that no longer decrypts and drops both
// ciphertexts, so the user has to authorize again.
func (m *tokenManager) discardCorrupt(ctx context.Context, conn *domain.Connection, cause error) {
	updated := m.recordFailure(ctx, conn, domain.ConnectionStatusError, cause)
	if updated == nil {
		return
	}
	if err := m.store.ClearTokens(ctx, conn.UserID, updated.Version); err != nil && !errors.Is(err, domain.ErrConflict) {
		m.logger.Error("failed to clear corrupt tokens", "user_id", conn.UserID, "error", err)
	}
}

// GenerateOAuthState creates a new single-use state for the user.
func (m *tokenManager) GenerateOAuthState(ctx context.Context, userID string) (*domain.OAuthStateValue, error) {
	if userID == "" {
		return nil, fmt.Errorf("generate oauth state: %w", domain.ErrInvalidInput)
	}

	value, err := randomHex(oauthStateBytes)
	if err != nil {
		return nil, fmt.Errorf("generate oauth state: %w", err)
	}
	state := &domain.OAuthStateValue{
		Value:     value,
		ExpiresAt: m.now().Add(OAuthStateTTL),
	}

	if _, err := m.store.Upsert(ctx, userID, &domain.ConnectionUpdate{OAuthState: state}); err != nil {
		return nil, fmt.Errorf("save oauth state: %w", err)
	}
	return state, nil
}

// ValidateOAuthState checks and consumes the user's state.
func (m *tokenManager) ValidateOAuthState(ctx context.Context, userID, candidate string) bool {
	valid := m.validateOAuthState(ctx, userID, candidate)
	if valid {
		metrics.OAuthStateValidations.WithLabelValues("valid").Inc()
	} else {
		metrics.OAuthStateValidations.WithLabelValues("invalid").Inc()
	}
	return valid
}

func (m *tokenManager) validateOAuthState(ctx context.Context, userID, candidate string) bool {
	if candidate == "" {
		return false
	}

	conn, err := m.store.Get(ctx, userID)
	if err != nil {
		return false
	}
	stored, live := conn.LiveOAuthState(m.now())
	if !live {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) != 1 {
		return false
	}

	// Consume before reporting success; a concurrent validation of the
	// same state loses on the version check.
	version := conn.Version
	if _, err := m.store.Upsert(ctx, userID, &domain.ConnectionUpdate{
		ClearOAuthState: true,
		IfVersion:       &version,
	}); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			m.logger.Error("failed to consume oauth state", "user_id", userID, "error", err)
		}
		return false
	}
	return true
}

// DisconnectUser drops the tokens and marks the connection disconnected.
func (m *tokenManager) DisconnectUser(ctx context.Context, userID string) error {
	now := m.now()
	_, err := m.store.Upsert(ctx, userID, &domain.ConnectionUpdate{
		Status:         domain.StatusPtr(domain.ConnectionStatusDisconnected),
		ClearTokens:    true,
		DisconnectedAt: &now,
	})
	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	m.logger.Info("pos connection disconnected", "user_id", userID)
	return nil
}

// Status returns the token-free connection view.
func (m *tokenManager) Status(ctx context.Context, userID string) (*domain.ConnectionSummary, error) {
	conn, err := m.store.Get(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.ConnectionSummary{UserID: userID, Status: domain.ConnectionStatusDisconnected}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load connection: %w", err)
	}
	return conn.ToSummary(), nil
}

// RefreshExpiring refreshes every connection expiring within window.
func (m *tokenManager) RefreshExpiring(ctx context.Context, window time.Duration) (int, int, error) {
	userIDs, err := m.store.ListExpiring(ctx, m.now().Add(window), keepAliveBatchLimit)
	if err != nil {
		return 0, 0, fmt.Errorf("list expiring connections: %w", err)
	}

	var refreshed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, userID := range userIDs {
		g.Go(func() error {
			if _, err := m.RefreshAccessToken(gctx, userID); err != nil {
				failed.Add(1)
				return nil
			}
			refreshed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return int(refreshed.Load()), int(failed.Load()), nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
