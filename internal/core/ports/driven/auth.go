package driven

import "github.com/custodia-labs/posbridge/internal/core/domain"

// AuthAdapter verifies marketplace-issued bearer tokens.
// posbridge never stores marketplace sessions; it only checks signatures.
type AuthAdapter interface {
	// GenerateToken signs claims. Used by tooling and tests.
	GenerateToken(claims *domain.TokenClaims) (string, error)

	// ParseToken verifies a token and returns its claims.
	ParseToken(token string) (*domain.TokenClaims, error)
}
