package lightspeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/custodia-labs/posbridge/internal/core/domain"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
)

const (
	DefaultAuthURL  = "https://cloud.lightspeedapp.com/oauth/authorize.php"
	DefaultTokenURL = "https://cloud.lightspeedapp.com/oauth/access_token.php"
	DefaultScope    = "employee:all"
)

// Ensure OAuthProvider implements the port
var _ driven.OAuthProvider = (*OAuthProvider)(nil)

// OAuthConfig holds the registered application credentials.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	Scope        string
	HTTPClient   *http.Client
}

// OAuthProvider talks to the authorization server.
type OAuthProvider struct {
	cfg        OAuthConfig
	httpClient *http.Client
}

// NewOAuthProvider creates a provider with defaults for unset URLs and scope.
func NewOAuthProvider(cfg OAuthConfig) *OAuthProvider {
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Scope == "" {
		cfg.Scope = DefaultScope
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuthProvider{cfg: cfg, httpClient: httpClient}
}

// AuthorizationURL builds the consent redirect.
func (p *OAuthProvider) AuthorizationURL(state string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {p.cfg.ClientID},
		"scope":         {p.cfg.Scope},
		"state":         {state},
		"redirect_uri":  {p.cfg.RedirectURI},
	}
	sep := "?"
	if strings.Contains(p.cfg.AuthURL, "?") {
		sep = "&"
	}
	return p.cfg.AuthURL + sep + params.Encode()
}

// ExchangeCode trades an authorization code for tokens.
func (p *OAuthProvider) ExchangeCode(ctx context.Context, code string) (*driven.OAuthToken, error) {
	return p.token(ctx, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {p.cfg.RedirectURI},
	})
}

// RefreshToken trades a refresh token for a new pair.
func (p *OAuthProvider) RefreshToken(ctx context.Context, refreshToken string) (*driven.OAuthToken, error) {
	return p.token(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int    `json:"expires_in"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

func (p *OAuthProvider) token(ctx context.Context, params url.Values) (*driven.OAuthToken, error) {
	params.Set("client_id", p.cfg.ClientID)
	params.Set("client_secret", p.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.APIError{StatusCode: resp.StatusCode, Endpoint: "oauth token", Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tr.Error != "" {
		return nil, fmt.Errorf("%w: oauth error %s: %s", domain.ErrRequestFailed, tr.Error, tr.ErrorDesc)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response without access_token", domain.ErrRequestFailed)
	}

	return &driven.OAuthToken{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
		Scope:        tr.Scope,
		ExpiresIn:    tr.ExpiresIn,
	}, nil
}
