package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/posbridge/internal/core/domain"
)

// TokenGrant is a freshly issued token pair to store.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string

	// ExpiresIn is the access token lifetime in seconds
	ExpiresIn int

	AccountID   *string
	AccountName *string
}

// RefreshedToken is the result of a successful refresh.
type RefreshedToken struct {
	AccessToken string
	ExpiresAt   time.Time
}

// TokenManager owns the POS token lifecycle of every user.
type TokenManager interface {
	// StoreTokens encrypts and stores a token pair, marks the connection
	// connected and clears error and OAuth state.
	StoreTokens(ctx context.Context, userID string, grant TokenGrant) error

	// GetValidAccessToken returns a usable access token. It refreshes first
	// when expiry is within the refresh buffer. ok is false when the user
	// has to re-authorize; failures are recorded, never returned.
	GetValidAccessToken(ctx context.Context, userID string) (token string, ok bool)

	// RefreshAccessToken exchanges the stored refresh token once. On failure
	// the connection is marked expired and the error recorded.
	RefreshAccessToken(ctx context.Context, userID string) (*RefreshedToken, error)

	// GenerateOAuthState creates a single-use CSRF state, replacing any
	// previous one for the user.
	GenerateOAuthState(ctx context.Context, userID string) (*domain.OAuthStateValue, error)

	// ValidateOAuthState reports whether candidate is the user's live state
	// and consumes it on a match. Fails closed.
	ValidateOAuthState(ctx context.Context, userID, candidate string) bool

	// DisconnectUser drops the tokens and marks the connection disconnected.
	DisconnectUser(ctx context.Context, userID string) error

	// Status returns the token-free connection view. Users that never
	// connected get a disconnected summary.
	Status(ctx context.Context, userID string) (*domain.ConnectionSummary, error)

	// RefreshExpiring refreshes connections whose tokens expire within
	// window. Returns how many refreshed and how many failed.
	RefreshExpiring(ctx context.Context, window time.Duration) (refreshed, failed int, err error)
}
