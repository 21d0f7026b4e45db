package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
	"github.com/custodia-labs/posbridge/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	handler    http.Handler
	version    string
	logger     *slog.Logger
	validate   *validator.Validate

	// Services
	auth        driven.AuthAdapter
	connections driving.ConnectionService
	syncs       driving.SyncService
	matcher     driving.ProductMatcher

	// Infrastructure
	db          Pinger // PostgreSQL health check (optional)
	redisClient Pinger // Redis health check (optional)
}

// Config holds server configuration
type Config struct {
	Host           string
	Port           int
	Version        string
	AllowedOrigins []string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:    "0.0.0.0",
		Port:    8080,
		Version: "dev",
	}
}

// Services groups the driving ports the API exposes.
type Services struct {
	Connections driving.ConnectionService
	Sync        driving.SyncService
	Matcher     driving.ProductMatcher
}

// NewServer creates a new HTTP server. db and redisClient may be nil.
func NewServer(
	cfg Config,
	auth driven.AuthAdapter,
	services Services,
	db Pinger,
	redisClient Pinger,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:      http.NewServeMux(),
		version:     cfg.Version,
		logger:      logger,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		auth:        auth,
		connections: services.Connections,
		syncs:       services.Sync,
		matcher:     services.Matcher,
		db:          db,
		redisClient: redisClient,
	}

	s.setupRoutes()

	s.handler = NewRecoveryMiddleware(logger).Handler(
		NewLoggingMiddleware(logger).Handler(
			NewCORSMiddleware(cfg.AllowedOrigins).Handler(s.router)))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		// A sync can run for several paced POS calls
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	authMiddleware := NewAuthMiddleware(s.auth)
	protected := func(h http.HandlerFunc) http.Handler {
		return authMiddleware.Authenticate(h)
	}

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)
	s.router.Handle("GET /metrics", promhttp.Handler())
	s.router.HandleFunc("GET /swagger/doc.json", s.handleSwaggerDoc)

	// POS connection endpoints
	s.router.Handle("POST /api/v1/pos/authorize", protected(s.handleAuthorize))
	s.router.Handle("POST /api/v1/pos/callback", protected(s.handleCallback))
	s.router.Handle("GET /api/v1/pos/connection", protected(s.handleGetConnection))
	s.router.Handle("DELETE /api/v1/pos/connection", protected(s.handleDisconnect))
	s.router.Handle("POST /api/v1/pos/sync", protected(s.handleSync))

	// Matching endpoints
	s.router.Handle("POST /api/v1/matching/match", protected(s.handleFindMatch))
	s.router.Handle("GET /api/v1/matching/review", protected(s.handleListReview))
	s.router.Handle("POST /api/v1/matching/queue", protected(s.handleEnqueue))
	s.router.Handle("POST /api/v1/matching/queue/{id}/process", protected(s.handleProcessItem))
	s.router.Handle("POST /api/v1/matching/queue/{id}/confirm", protected(s.handleConfirmMatch))
	s.router.Handle("POST /api/v1/matching/queue/{id}/reject", protected(s.handleRejectMatch))
	s.router.Handle("POST /api/v1/matching/process", protected(s.handleProcessPending))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("http server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
