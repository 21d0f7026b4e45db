package driven

import "context"

// TokenProvider hands out valid POS access tokens for a user.
// It is implemented by the token manager and consumed by API clients.
type TokenProvider interface {
	// GetValidAccessToken returns the access token, refreshing it first
	// when it is close to expiry. ok is false when the user has to
	// re-authorize. This may perform a full refresh round trip.
	GetValidAccessToken(ctx context.Context, userID string) (token string, ok bool)
}
