package domain

import (
	"errors"
	"fmt"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates a conditional write lost against a concurrent writer
	ErrConflict = errors.New("concurrent modification")

	// ErrConfiguration indicates missing or malformed process configuration.
	// Fatal at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnauthenticated indicates no valid POS access token is available.
	// The user has to run the OAuth flow again.
	ErrUnauthenticated = errors.New("pos connection requires re-authorization")

	// ErrUnauthorized indicates the caller's marketplace credentials are missing or invalid
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenExpired indicates a marketplace token past its exp claim.
	// Always wrapped together with ErrUnauthorized.
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidFormat indicates a token envelope that could not be parsed
	ErrInvalidFormat = errors.New("invalid ciphertext format")

	// ErrAuthenticationFailed indicates an envelope whose AEAD tag did not verify
	ErrAuthenticationFailed = errors.New("ciphertext authentication failed")

	// ErrInvalidState indicates an OAuth state that is unknown, expired or already used
	ErrInvalidState = errors.New("invalid oauth state")

	// ErrRateLimited indicates the provider kept answering 429 after all retries
	ErrRateLimited = errors.New("rate limited by provider")

	// ErrServerError indicates the provider kept answering 5xx after all retries
	ErrServerError = errors.New("provider server error")

	// ErrRequestFailed indicates a non-retryable provider response
	ErrRequestFailed = errors.New("provider request failed")

	// ErrMatchNotFound indicates no canonical candidate reached the review floor
	ErrMatchNotFound = errors.New("no canonical product match")
)

// APIError carries the provider response that ended a request.
type APIError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pos api %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Unwrap maps the status code onto the error taxonomy.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == 429:
		return ErrRateLimited
	case e.StatusCode >= 500:
		return ErrServerError
	default:
		return ErrRequestFailed
	}
}

// Retryable reports whether the status is worth another attempt.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
