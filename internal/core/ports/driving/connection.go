package driving

import (
	"context"

	"github.com/custodia-labs/posbridge/internal/core/domain"
)

// ConnectionService drives the OAuth connection flow for the HTTP API.
type ConnectionService interface {
	// Authorize starts an OAuth flow and returns the provider URL.
	Authorize(ctx context.Context, userID string) (*AuthorizeResponse, error)

	// Callback validates the state, exchanges the code, resolves the
	// remote account and stores the tokens.
	Callback(ctx context.Context, userID string, req CallbackRequest) (*domain.ConnectionSummary, error)

	// Status returns the connection summary.
	Status(ctx context.Context, userID string) (*domain.ConnectionSummary, error)

	// Disconnect drops the user's tokens.
	Disconnect(ctx context.Context, userID string) error
}

// AuthorizeResponse contains the authorization URL and state.
// @Description Response containing the POS authorization URL
type AuthorizeResponse struct {
	// AuthorizationURL is where the browser is sent to grant access.
	AuthorizationURL string `json:"authorization_url" example:"https://cloud.lightspeedapp.com/oauth/authorize.php?response_type=code&client_id=..."`

	// State is the CSRF token the provider echoes back.
	State string `json:"state" example:"9f86d081884c7d659a2feaa0c55ad015"`

	// ExpiresAt is when the state stops being accepted.
	ExpiresAt string `json:"expires_at" example:"2024-01-15T10:10:00Z"`
}

// CallbackRequest carries the provider redirect parameters.
// @Description OAuth callback parameters from the provider redirect
type CallbackRequest struct {
	Code  string `json:"code" validate:"required_without=Error" example:"abc123"`
	State string `json:"state" validate:"required_without=Error" example:"9f86d081884c7d659a2feaa0c55ad015"`

	// Error is set when the user denied access at the provider.
	Error            string `json:"error,omitempty" example:"access_denied"`
	ErrorDescription string `json:"error_description,omitempty" example:"The user denied access"`
}

// OAuthError is returned when the provider reports an error in the callback.
type OAuthError struct {
	Code        string `json:"error" example:"access_denied"`
	Description string `json:"error_description" example:"The user denied access"`
}

func (e *OAuthError) Error() string {
	if e.Description != "" {
		return e.Code + ": " + e.Description
	}
	return e.Code
}
