package domain

// AuthContext identifies the marketplace user behind a request
type AuthContext struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// TokenClaims is the payload of a marketplace-issued JWT
type TokenClaims struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// ToAuthContext converts verified claims into request identity.
func (c *TokenClaims) ToAuthContext() *AuthContext {
	return &AuthContext{UserID: c.UserID, Email: c.Email}
}
