package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/posbridge/internal/core/domain"
)

func validClaims() *domain.TokenClaims {
	now := time.Now()
	return &domain.TokenClaims{
		UserID:    "user-123",
		Email:     "seller@example.com",
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(time.Hour).Unix(),
	}
}

func TestGenerateAndParseToken(t *testing.T) {
	adapter := NewAdapter("test-secret")
	claims := validClaims()

	token, err := adapter.GenerateToken(claims)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("expected a three part JWT, got %q", token)
	}

	parsed, err := adapter.ParseToken(token)
	if err != nil {
		t.Fatalf("failed to parse token: %v", err)
	}
	if parsed.UserID != claims.UserID {
		t.Errorf("expected user ID %s, got %s", claims.UserID, parsed.UserID)
	}
	if parsed.Email != claims.Email {
		t.Errorf("expected email %s, got %s", claims.Email, parsed.Email)
	}
	if parsed.ExpiresAt != claims.ExpiresAt {
		t.Errorf("expected exp %d, got %d", claims.ExpiresAt, parsed.ExpiresAt)
	}
}

func TestGenerateToken_RequiresUser(t *testing.T) {
	adapter := NewAdapter("test-secret")
	if _, err := adapter.GenerateToken(&domain.TokenClaims{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestParseToken_Rejections(t *testing.T) {
	adapter := NewAdapter("test-secret")
	good, _ := adapter.GenerateToken(validClaims())

	expiredClaims := validClaims()
	expiredClaims.IssuedAt = time.Now().Add(-2 * time.Hour).Unix()
	expiredClaims.ExpiresAt = time.Now().Add(-time.Hour).Unix()
	expired, _ := adapter.GenerateToken(expiredClaims)

	otherSecret, _ := NewAdapter("other-secret").GenerateToken(validClaims())

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"user_id": "user-123",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "user-123",
	}).SignedString([]byte("test-secret"))

	noUser, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))

	tests := map[string]string{
		"empty":          "",
		"garbage":        "not.a.jwt",
		"tampered":       good[:len(good)-2] + "xx",
		"expired":        expired,
		"wrong secret":   otherSecret,
		"alg none":       none,
		"missing exp":    noExp,
		"missing user":   noUser,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := adapter.ParseToken(token); !errors.Is(err, domain.ErrUnauthorized) {
				t.Errorf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestParseToken_ExpiredIsDistinguishable(t *testing.T) {
	adapter := NewAdapter("test-secret")
	claims := validClaims()
	claims.ExpiresAt = time.Now().Add(-time.Hour).Unix()
	token, _ := adapter.GenerateToken(claims)

	_, err := adapter.ParseToken(token)
	if !errors.Is(err, domain.ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestParseToken_SubjectFallback(t *testing.T) {
	adapter := NewAdapter("test-secret")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-456",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := adapter.ParseToken(token)
	if err != nil {
		t.Fatalf("failed to parse token: %v", err)
	}
	if claims.UserID != "user-456" {
		t.Errorf("expected user-456, got %s", claims.UserID)
	}
}

func TestParseToken_Issuer(t *testing.T) {
	marketplace := NewAdapter("test-secret", WithIssuer("marketplace"))
	other := NewAdapter("test-secret", WithIssuer("someone-else"))

	token, _ := other.GenerateToken(validClaims())
	if _, err := marketplace.ParseToken(token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected issuer mismatch to be rejected, got %v", err)
	}

	token, _ = marketplace.GenerateToken(validClaims())
	if _, err := marketplace.ParseToken(token); err != nil {
		t.Errorf("expected matching issuer to pass, got %v", err)
	}
}

func TestParseToken_Leeway(t *testing.T) {
	claims := validClaims()
	claims.ExpiresAt = time.Now().Add(-5 * time.Second).Unix()

	strict := NewAdapter("test-secret")
	lenient := NewAdapter("test-secret", WithLeeway(time.Minute))
	token, _ := strict.GenerateToken(claims)

	if _, err := strict.ParseToken(token); err == nil {
		t.Error("expected expired token to be rejected without leeway")
	}
	if _, err := lenient.ParseToken(token); err != nil {
		t.Errorf("expected leeway to accept token, got %v", err)
	}
}
