package driven

import "context"

// OAuthToken is the token endpoint response.
type OAuthToken struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresIn    int
}

// OAuthProvider talks to the POS provider's OAuth endpoints.
type OAuthProvider interface {
	// AuthorizationURL builds the redirect URL for the given CSRF state.
	AuthorizationURL(state string) string

	// ExchangeCode trades an authorization code for tokens.
	ExchangeCode(ctx context.Context, code string) (*OAuthToken, error)

	// RefreshToken trades a refresh token for a new pair. The old refresh
	// token is invalid afterwards.
	RefreshToken(ctx context.Context, refreshToken string) (*OAuthToken, error)
}
