/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the lease billing server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (config.toml, .env, LEASEBILL_* environment)
  2. Apply command-line overrides
  3. Build the zap logger
  4. Open the SQLite store and the idempotency backend
  5. Create API handler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Config file path (default: ./config.toml when present)
  -port    HTTP server port, overrides app.port
  -db      SQLite database path, overrides database.path
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (http.shutdown_timeout)
  3. Close the idempotency backend and the database
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/billing.db"

  # Run in production with Redis-backed idempotency
  LEASEBILL_APP_ENV=production LEASEBILL_AUTH_SECRET=... \
  LEASEBILL_IDEMPOTENCY_BACKEND=redis ./server

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/warp/lease-billing/api"
	"github.com/warp/lease-billing/authz"
	"github.com/warp/lease-billing/config"
	"github.com/warp/lease-billing/idempotency"
	"github.com/warp/lease-billing/logger"
	"github.com/warp/lease-billing/store/sqlite"
)

type idempotencyBackend interface {
	idempotency.Store
	Close() error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configPath := flag.String("config", "", "Config file path")
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *port != 0 {
		cfg.App.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()
	log = log.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	idem, err := openIdempotency(cfg)
	if err != nil {
		return err
	}
	defer idem.Close()

	var tokens *authz.Tokens
	if cfg.Auth.Secret != "" {
		tokens = authz.NewTokens(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	} else {
		log.Warn("auth.secret is empty; requests are not authenticated")
	}

	handler := api.NewHandler(store, api.Options{
		Billing: cfg.BuilderConfig(),
		Logger:  log,
		Tokens:  tokens,
	})
	router := api.NewRouter(handler, api.RouterConfig{
		Logger:           log.Named("http"),
		Tokens:           tokens,
		Idempotency:      idem,
		IdempotencyTTL:   cfg.Idempotency.TTL,
		MaxBodySize:      cfg.HTTP.MaxBodySize,
		CORSAllowOrigins: cfg.HTTP.CORSAllowOrigins,
		EnableScenarios:  !cfg.IsProduction(),
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("database", cfg.Database.Path),
			zap.String("idempotency", cfg.Idempotency.Backend),
			zap.String("utility_price_as_of", cfg.Billing.UtilityPriceAsOf))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

func openIdempotency(cfg *config.Config) (idempotencyBackend, error) {
	switch cfg.Idempotency.Backend {
	case "redis":
		r, err := idempotency.NewRedis(idempotency.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize idempotency store: %w", err)
		}
		return r, nil
	default:
		return idempotency.NewMemory(), nil
	}
}
