package domain

import "time"

// ConnectionStatus is the lifecycle state of a user's POS connection
type ConnectionStatus string

const (
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	ConnectionStatusError        ConnectionStatus = "error"
	ConnectionStatusExpired      ConnectionStatus = "expired"
)

// IsValid reports whether s is a known status.
func (s ConnectionStatus) IsValid() bool {
	switch s {
	case ConnectionStatusConnected, ConnectionStatusDisconnected,
		ConnectionStatusError, ConnectionStatusExpired:
		return true
	}
	return false
}

// Connection is the persisted POS connection of one marketplace user.
// Token fields hold cipher envelopes, never plaintext.
type Connection struct {
	UserID string           `json:"user_id"`
	Status ConnectionStatus `json:"status"`

	// Encrypted tokens and expiry are set together or all nil
	AccessTokenEnc  *string    `json:"-"`
	RefreshTokenEnc *string    `json:"-"`
	TokenExpiresAt  *time.Time `json:"token_expires_at,omitempty"`

	AccountID   string `json:"account_id,omitempty"`
	AccountName string `json:"account_name,omitempty"`

	OAuthState          *string    `json:"-"`
	OAuthStateExpiresAt *time.Time `json:"-"`

	LastError  *string `json:"last_error,omitempty"`
	ErrorCount int     `json:"error_count"`

	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`

	// Version increments on every write; used for conditional updates
	Version   int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasTokens reports whether both encrypted tokens and the expiry are present.
func (c *Connection) HasTokens() bool {
	return c.AccessTokenEnc != nil && c.RefreshTokenEnc != nil && c.TokenExpiresAt != nil
}

// NeedsRefresh reports whether the access token expires within buffer of now.
func (c *Connection) NeedsRefresh(now time.Time, buffer time.Duration) bool {
	if c.TokenExpiresAt == nil {
		return false
	}
	return !c.TokenExpiresAt.After(now.Add(buffer))
}

// LiveOAuthState returns the stored state if it has not expired.
func (c *Connection) LiveOAuthState(now time.Time) (string, bool) {
	if c.OAuthState == nil || c.OAuthStateExpiresAt == nil {
		return "", false
	}
	if !now.Before(*c.OAuthStateExpiresAt) {
		return "", false
	}
	return *c.OAuthState, true
}

// ToSummary returns a view that is safe to hand to callers.
func (c *Connection) ToSummary() *ConnectionSummary {
	return &ConnectionSummary{
		UserID:         c.UserID,
		Status:         c.Status,
		Connected:      c.Status == ConnectionStatusConnected && c.HasTokens(),
		AccountID:      c.AccountID,
		AccountName:    c.AccountName,
		TokenExpiresAt: c.TokenExpiresAt,
		LastError:      c.LastError,
		ErrorCount:     c.ErrorCount,
		LastSyncAt:     c.LastSyncAt,
	}
}

// ConnectionSummary is the token-free view of a Connection
type ConnectionSummary struct {
	UserID         string           `json:"user_id"`
	Status         ConnectionStatus `json:"status"`
	Connected      bool             `json:"connected"`
	AccountID      string           `json:"account_id,omitempty"`
	AccountName    string           `json:"account_name,omitempty"`
	TokenExpiresAt *time.Time       `json:"token_expires_at,omitempty"`
	LastError      *string          `json:"last_error,omitempty"`
	ErrorCount     int              `json:"error_count"`
	LastSyncAt     *time.Time       `json:"last_sync_at,omitempty"`
}

// EncryptedTokens groups the fields that must be written together.
type EncryptedTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// OAuthStateValue is a single-use CSRF state with its deadline.
type OAuthStateValue struct {
	Value     string
	ExpiresAt time.Time
}

// ConnectionUpdate is a patch applied by ConnectionStore.Upsert.
// Nil fields are left untouched.
type ConnectionUpdate struct {
	Status *ConnectionStatus

	Tokens      *EncryptedTokens
	ClearTokens bool

	AccountID   *string
	AccountName *string

	OAuthState      *OAuthStateValue
	ClearOAuthState bool

	LastError       *string
	ClearError      bool
	IncrementErrors bool

	LastSyncAt     *time.Time
	DisconnectedAt *time.Time

	// IfVersion makes the write conditional on the stored version.
	// A missing row has version 0.
	IfVersion *int64
}

// Apply mutates c according to the patch and bumps its version.
func (u *ConnectionUpdate) Apply(c *Connection, now time.Time) {
	if u.Status != nil {
		c.Status = *u.Status
	}
	if u.ClearTokens {
		c.AccessTokenEnc = nil
		c.RefreshTokenEnc = nil
		c.TokenExpiresAt = nil
	}
	if u.Tokens != nil {
		access := u.Tokens.AccessToken
		refresh := u.Tokens.RefreshToken
		expires := u.Tokens.ExpiresAt
		c.AccessTokenEnc = &access
		c.RefreshTokenEnc = &refresh
		c.TokenExpiresAt = &expires
	}
	if u.AccountID != nil {
		c.AccountID = *u.AccountID
	}
	if u.AccountName != nil {
		c.AccountName = *u.AccountName
	}
	if u.ClearOAuthState {
		c.OAuthState = nil
		c.OAuthStateExpiresAt = nil
	}
	if u.OAuthState != nil {
		value := u.OAuthState.Value
		expires := u.OAuthState.ExpiresAt
		c.OAuthState = &value
		c.OAuthStateExpiresAt = &expires
	}
	if u.ClearError {
		c.LastError = nil
		c.ErrorCount = 0
	}
	if u.LastError != nil {
		msg := *u.LastError
		c.LastError = &msg
	}
	if u.IncrementErrors {
		c.ErrorCount++
	}
	if u.LastSyncAt != nil {
		t := *u.LastSyncAt
		c.LastSyncAt = &t
	}
	if u.DisconnectedAt != nil {
		t := *u.DisconnectedAt
		c.DisconnectedAt = &t
	}

	if c.Status == "" {
		c.Status = ConnectionStatusDisconnected
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.Version++
}

// StatusPtr is a small helper for building updates.
func StatusPtr(s ConnectionStatus) *ConnectionStatus {
	return &s
}
