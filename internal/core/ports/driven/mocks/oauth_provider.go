package mocks

import (
	"context"
	"net/url"
	"strconv"
	"sync"

	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
)

var _ driven.OAuthProvider = (*MockOAuthProvider)(nil)

// MockOAuthProvider records calls and returns canned tokens.
type MockOAuthProvider struct {
	mu sync.Mutex

	ExchangeFn func(code string) (*driven.OAuthToken, error)
	RefreshFn  func(refreshToken string) (*driven.OAuthToken, error)

	ExchangeCalls []string
	RefreshCalls  []string
}

// NewMockOAuthProvider creates a new MockOAuthProvider
func NewMockOAuthProvider() *MockOAuthProvider {
	return &MockOAuthProvider{}
}

func (m *MockOAuthProvider) AuthorizationURL(state string) string {
	return "https://pos.example.com/oauth/authorize?state=" + url.QueryEscape(state)
}

func (m *MockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*driven.OAuthToken, error) {
	m.mu.Lock()
	m.ExchangeCalls = append(m.ExchangeCalls, code)
	m.mu.Unlock()

	if m.ExchangeFn != nil {
		return m.ExchangeFn(code)
	}
	return &driven.OAuthToken{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		TokenType:    "bearer",
		ExpiresIn:    3600,
	}, nil
}

func (m *MockOAuthProvider) RefreshToken(ctx context.Context, refreshToken string) (*driven.OAuthToken, error) {
	m.mu.Lock()
	m.RefreshCalls = append(m.RefreshCalls, refreshToken)
	n := len(m.RefreshCalls)
	m.mu.Unlock()

	if m.RefreshFn != nil {
		return m.RefreshFn(refreshToken)
	}
	suffix := strconv.Itoa(n)
	return &driven.OAuthToken{
		AccessToken:  "refreshed-access-" + suffix,
		RefreshToken: "refreshed-refresh-" + suffix,
		TokenType:    "bearer",
		ExpiresIn:    3600,
	}, nil
}

// RefreshCount returns the number of refresh calls.
func (m *MockOAuthProvider) RefreshCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RefreshCalls)
}
