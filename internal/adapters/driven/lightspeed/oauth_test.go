package lightspeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/posbridge/internal/core/domain"
)

func TestOAuthProvider_AuthorizationURL(t *testing.T) {
	p := NewOAuthProvider(OAuthConfig{
		ClientID:    "client-1",
		RedirectURI: "https://market.example.com/pos/callback",
	})

	u, err := url.Parse(p.AuthorizationURL("abc123"))
	require.NoError(t, err)
	assert.Equal(t, "cloud.lightspeedapp.com", u.Host)

	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, DefaultScope, q.Get("scope"))
	assert.Equal(t, "abc123", q.Get("state"))
	assert.Equal(t, "https://market.example.com/pos/callback", q.Get("redirect_uri"))
}

func newTokenServer(t *testing.T, handler func(w http.ResponseWriter, form url.Values)) (*httptest.Server, *OAuthProvider) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		handler(w, r.PostForm)
	}))
	t.Cleanup(srv.Close)

	p := NewOAuthProvider(OAuthConfig{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURI:  "https://market.example.com/pos/callback",
		TokenURL:     srv.URL,
		HTTPClient:   srv.Client(),
	})
	return srv, p
}

func TestOAuthProvider_ExchangeCode(t *testing.T) {
	_, p := newTokenServer(t, func(w http.ResponseWriter, form url.Values) {
		assert.Equal(t, "authorization_code", form.Get("grant_type"))
		assert.Equal(t, "code-1", form.Get("code"))
		assert.Equal(t, "client-1", form.Get("client_id"))
		assert.Equal(t, "secret-1", form.Get("client_secret"))
		assert.Equal(t, "https://market.example.com/pos/callback", form.Get("redirect_uri"))
		writeJSON(w, map[string]any{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"token_type":    "bearer",
			"expires_in":    3600,
		})
	})

	tok, err := p.ExchangeCode(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok.AccessToken)
	assert.Equal(t, "rt-1", tok.RefreshToken)
	assert.Equal(t, 3600, tok.ExpiresIn)
}

func TestOAuthProvider_RefreshToken(t *testing.T) {
	_, p := newTokenServer(t, func(w http.ResponseWriter, form url.Values) {
		assert.Equal(t, "refresh_token", form.Get("grant_type"))
		assert.Equal(t, "rt-1", form.Get("refresh_token"))
		writeJSON(w, map[string]any{"access_token": "at-2", "refresh_token": "rt-2", "expires_in": 1800})
	})

	tok, err := p.RefreshToken(context.Background(), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "at-2", tok.AccessToken)
	assert.Equal(t, "rt-2", tok.RefreshToken)
}

func TestOAuthProvider_Errors(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		_, p := newTokenServer(t, func(w http.ResponseWriter, _ url.Values) {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
		})
		_, err := p.RefreshToken(context.Background(), "rt-1")
		assert.ErrorIs(t, err, domain.ErrRequestFailed)
		assert.ErrorContains(t, err, "invalid_grant")
	})

	t.Run("error body", func(t *testing.T) {
		_, p := newTokenServer(t, func(w http.ResponseWriter, _ url.Values) {
			writeJSON(w, map[string]string{"error": "invalid_client", "error_description": "bad secret"})
		})
		_, err := p.ExchangeCode(context.Background(), "code-1")
		assert.ErrorIs(t, err, domain.ErrRequestFailed)
		assert.ErrorContains(t, err, "bad secret")
	})

	t.Run("missing access token", func(t *testing.T) {
		_, p := newTokenServer(t, func(w http.ResponseWriter, _ url.Values) {
			writeJSON(w, map[string]string{"token_type": "bearer"})
		})
		_, err := p.ExchangeCode(context.Background(), "code-1")
		assert.ErrorIs(t, err, domain.ErrRequestFailed)
	})
}
