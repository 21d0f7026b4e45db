package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/custodia-labs/posbridge/internal/core/domain"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
	"github.com/custodia-labs/posbridge/internal/core/ports/driving"
)

// Ensure connectionService implements ConnectionService
var _ driving.ConnectionService = (*connectionService)(nil)

// ConnectionServiceConfig holds dependencies for the connection service.
type ConnectionServiceConfig struct {
	Tokens   driving.TokenManager
	Store    driven.ConnectionStore
	Provider driven.OAuthProvider

	// Clients resolves the remote account after the code exchange
	Clients driven.POSClientFactory
	Logger  *slog.Logger
}

type connectionService struct {
	tokens   driving.TokenManager
	store    driven.ConnectionStore
	provider driven.OAuthProvider
	clients  driven.POSClientFactory
	logger   *slog.Logger
}

// NewConnectionService creates a new connection service.
func NewConnectionService(cfg ConnectionServiceConfig) driving.ConnectionService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &connectionService{
		tokens:   cfg.Tokens,
		store:    cfg.Store,
		provider: cfg.Provider,
		clients:  cfg.Clients,
		logger:   logger,
	}
}

// Authorize starts an OAuth authorization flow.
func (s *connectionService) Authorize(ctx context.Context, userID string) (*driving.AuthorizeResponse, error) {
	state, err := s.tokens.GenerateOAuthState(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &driving.AuthorizeResponse{
		AuthorizationURL: s.provider.AuthorizationURL(state.Value),
		State:            state.Value,
		ExpiresAt:        state.ExpiresAt.UTC().Format(time.RFC3339),
	}, nil
}

// Callback completes the OAuth flow.
func (s *connectionService) Callback(ctx context.Context, userID string, req driving.CallbackRequest) (*domain.ConnectionSummary, error) {
	log := s.logger.With("user_id", userID)

	// Check for error from provider
	if req.Error != "" {
		return nil, &driving.OAuthError{Code: req.Error, Description: req.ErrorDescription}
	}

	// The state is consumed here even if the exchange below fails
	if !s.tokens.ValidateOAuthState(ctx, userID, req.State) {
		log.Warn("rejected oauth callback with invalid state")
		return nil, domain.ErrInvalidState
	}

	token, err := s.provider.ExchangeCode(ctx, req.Code)
	if err != nil {
		log.Error("oauth code exchange failed", "error", err)
		return nil, &driving.OAuthError{Code: "exchange_failed", Description: err.Error()}
	}

	if err := s.tokens.StoreTokens(ctx, userID, driving.TokenGrant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    token.ExpiresIn,
	}); err != nil {
		return nil, err
	}

	// A missing account name is cosmetic; the connection is already usable
	if s.clients != nil {
		if account, err := s.clients.ForUser(userID).GetAccount(ctx); err != nil {
			log.Warn("failed to resolve pos account", "error", err)
		} else if account != nil {
			if _, err := s.store.Upsert(ctx, userID, &domain.ConnectionUpdate{
				AccountID:   &account.AccountID,
				AccountName: &account.Name,
			}); err != nil {
				log.Warn("failed to store pos account", "error", err)
			}
		}
	}

	log.Info("pos connection established")
	return s.tokens.Status(ctx, userID)
}

// Status returns the connection summary.
func (s *connectionService) Status(ctx context.Context, userID string) (*domain.ConnectionSummary, error) {
	return s.tokens.Status(ctx, userID)
}

// Disconnect drops the user's tokens.
func (s *connectionService) Disconnect(ctx context.Context, userID string) error {
	return s.tokens.DisconnectUser(ctx, userID)
}
