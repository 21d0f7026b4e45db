package domain

import "testing"

func TestTokenClaims_ToAuthContext(t *testing.T) {
	claims := &TokenClaims{UserID: "user-1", Email: "seller@example.com", IssuedAt: 1, ExpiresAt: 2}

	ctx := claims.ToAuthContext()
	if ctx.UserID != "user-1" {
		t.Errorf("expected user-1, got %s", ctx.UserID)
	}
	if ctx.Email != "seller@example.com" {
		t.Errorf("expected email to carry over, got %s", ctx.Email)
	}
}
