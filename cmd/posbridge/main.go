package main

// @title           posbridge API
// @version         1.0
// @description     POS integration service. Connects marketplace sellers to their point-of-sale account, syncs POS data and matches products against the canonical catalog.

// @host      localhost:8080
// @BasePath  /api/v1
// @schemes   http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Marketplace-issued JWT. Format: "Bearer {token}"

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	_ "github.com/custodia-labs/posbridge/docs"
	"github.com/custodia-labs/posbridge/internal/adapters/driven/auth"
	"github.com/custodia-labs/posbridge/internal/adapters/driven/crypto"
	"github.com/custodia-labs/posbridge/internal/adapters/driven/lightspeed"
	"github.com/custodia-labs/posbridge/internal/adapters/driven/postgres"
	"github.com/custodia-labs/posbridge/internal/adapters/driven/ratelimit"
	redisadapter "github.com/custodia-labs/posbridge/internal/adapters/driven/redis"
	"github.com/custodia-labs/posbridge/internal/adapters/driving/http"
	"github.com/custodia-labs/posbridge/internal/config"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
	"github.com/custodia-labs/posbridge/internal/core/services"
	"github.com/custodia-labs/posbridge/internal/worker"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if len(os.Args) > 1 {
		cfg.RunMode = os.Args[1]
		if err := cfg.Validate(); err != nil {
			slog.Error("invalid run mode", "mode", os.Args[1], "error", err)
			os.Exit(1)
		}
	}
	if cfg.Version == "dev" {
		cfg.Version = version
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("posbridge starting", "version", cfg.Version, "mode", cfg.RunMode)

	if cfg.UsesDevJWTSecret() {
		logger.Warn("JWT_SECRET is not set, using the development secret")
	}

	// Graceful shutdown on SIGINT / SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("posbridge stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("posbridge stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// ===== Initialize PostgreSQL =====
	logger.Info("connecting to postgres")
	db, err := postgres.Connect(ctx, postgres.Config{
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: time.Minute,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	// Schema is idempotent
	if err := db.InitSchema(ctx); err != nil {
		return err
	}
	logger.Info("postgres connected and schema initialized")

	// ===== Initialize Redis (optional) =====
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		defer redisClient.Close()
		logger.Info("redis connected")
	}

	// ===== Driven adapters =====
	cipher, err := crypto.NewTokenCipherFromHex(cfg.TokenEncryptionKey, crypto.Algorithm(cfg.TokenCipher))
	if err != nil {
		return err
	}

	connectionStore := postgres.NewConnectionStore(db)
	catalogStore := postgres.NewCatalogStore(db)
	queueStore := postgres.NewMatchQueueStore(db)
	linker := postgres.NewProductLinker(db)

	oauthProvider := lightspeed.NewOAuthProvider(lightspeed.OAuthConfig{
		ClientID:     cfg.POS.ClientID,
		ClientSecret: cfg.POS.ClientSecret,
		RedirectURI:  cfg.POS.RedirectURI,
		AuthURL:      cfg.POS.AuthURL,
		TokenURL:     cfg.POS.TokenURL,
		Scope:        cfg.POS.Scope,
	})

	// Rate limiter and distributed lock (Redis if available, otherwise in-process / advisory locks)
	var (
		newLimiter lightspeed.LimiterFunc
		lock       driven.DistributedLock
		redisPing  http.Pinger
	)
	if redisClient != nil {
		newLimiter = func(userID string) driven.RateLimiter {
			return redisadapter.NewRateLimiter(redisClient, redisadapter.RateLimiterConfig{
				Key:    userID,
				Limit:  cfg.POS.RequestsPerSecond,
				Window: ratelimit.DefaultWindow,
			})
		}
		redisLock := redisadapter.NewLock(redisClient, redisadapter.DefaultLockPrefix)
		lock, redisPing = redisLock, redisLock
		logger.Info("using redis rate limiter and distributed lock")
	} else {
		newLimiter = func(string) driven.RateLimiter {
			return ratelimit.NewSlidingWindow(cfg.POS.RequestsPerSecond, ratelimit.DefaultWindow)
		}
		lock = postgres.NewAdvisoryLock(db)
		logger.Info("using in-process rate limiter and postgres advisory lock")
	}

	// ===== Services =====
	tokenManager := services.NewTokenManager(services.TokenManagerConfig{
		Store:                connectionStore,
		Cipher:               cipher,
		Provider:             oauthProvider,
		Logger:               logger,
		KeepAliveConcurrency: cfg.Worker.KeepAliveConcurrency,
	})

	clients := lightspeed.NewFactory(tokenManager, newLimiter, lightspeed.Options{
		BaseURL:          cfg.POS.APIBaseURL,
		OperationTimeout: cfg.POS.OperationTimeout,
		Logger:           logger,
	})

	matcher := services.NewProductMatcher(services.ProductMatcherConfig{
		Catalog: catalogStore,
		Queue:   queueStore,
		Linker:  linker,
		Logger:  logger,
	})

	connections := services.NewConnectionService(services.ConnectionServiceConfig{
		Tokens:   tokenManager,
		Store:    connectionStore,
		Provider: oauthProvider,
		Clients:  clients,
		Logger:   logger,
	})

	syncs := services.NewSyncService(services.SyncServiceConfig{
		Clients: clients,
		Store:   connectionStore,
		Matcher: matcher,
		Logger:  logger,
	})

	// A failing component stops the others
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		errs = make(chan error, 1)
	)

	if cfg.RunsWorker() {
		w, err := worker.NewWorker(worker.WorkerConfig{
			Queue:             matcher,
			Tokens:            tokenManager,
			Lock:              lock,
			Logger:            logger,
			MatchSchedule:     cfg.Worker.MatchSchedule,
			MatchBatch:        cfg.Worker.MatchBatch,
			KeepAliveSchedule: cfg.Worker.KeepAliveSchedule,
			KeepAliveWindow:   cfg.Worker.KeepAliveWindow,
			LockTTL:           cfg.Worker.LockTTL,
		})
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			w.Stop()
		}()
	}

	if cfg.RunsAPI() {
		server := http.NewServer(http.Config{
			Host:           cfg.Host,
			Port:           cfg.Port,
			Version:        cfg.Version,
			AllowedOrigins: cfg.AllowedOrigins,
		},
			auth.NewAdapter(cfg.JWTSecret, auth.WithIssuer(cfg.JWTIssuer), auth.WithLeeway(30*time.Second)),
			http.Services{Connections: connections, Sync: syncs, Matcher: matcher},
			db, redisPing, logger,
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Start(ctx); err != nil {
				errs <- err
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errs)
	return <-errs
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
