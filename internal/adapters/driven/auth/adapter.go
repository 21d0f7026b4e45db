package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/posbridge/internal/core/domain"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
)

// Ensure Adapter implements AuthAdapter
var _ driven.AuthAdapter = (*Adapter)(nil)

// jwtClaims is the wire form of domain.TokenClaims
type jwtClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Adapter verifies marketplace-issued HS256 JWTs. GenerateToken exists for
// local tooling and tests; the marketplace is the real issuer.
type Adapter struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithIssuer requires the iss claim to match.
func WithIssuer(issuer string) Option {
	return func(a *Adapter) { a.issuer = issuer }
}

// WithLeeway tolerates clock skew when checking exp and iat.
func WithLeeway(d time.Duration) Option {
	return func(a *Adapter) { a.leeway = d }
}

// NewAdapter creates an adapter with the shared signing secret.
func NewAdapter(secret string, opts ...Option) *Adapter {
	a := &Adapter{secret: []byte(secret)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GenerateToken signs claims with HS256.
func (a *Adapter) GenerateToken(claims *domain.TokenClaims) (string, error) {
	if claims == nil || claims.UserID == "" {
		return "", fmt.Errorf("%w: user_id is required", domain.ErrInvalidInput)
	}
	jc := jwtClaims{
		UserID: claims.UserID,
		Email:  claims.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(time.Unix(claims.IssuedAt, 0)),
			ExpiresAt: jwt.NewNumericDate(time.Unix(claims.ExpiresAt, 0)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jc).SignedString(a.secret)
}

// ParseToken verifies the signature, expiry and issuer. Every failure wraps
// domain.ErrUnauthorized.
func (a *Adapter) ParseToken(tokenString string) (*domain.TokenClaims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.leeway),
	}
	if a.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &jwtClaims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", domain.ErrUnauthorized, domain.ErrTokenExpired)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*jwtClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", domain.ErrUnauthorized)
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: token has no user", domain.ErrUnauthorized)
	}

	out := &domain.TokenClaims{UserID: userID, Email: claims.Email}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Unix()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return out, nil
}
