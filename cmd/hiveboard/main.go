// HiveBoard server: ingests agent telemetry over HTTP, derives fleet
// state at read time, streams updates over WebSocket and runs the
// retention and alerting loops.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/loophive/hiveboard/pkg/alerting"
	"github.com/loophive/hiveboard/pkg/api"
	"github.com/loophive/hiveboard/pkg/auth"
	"github.com/loophive/hiveboard/pkg/config"
	"github.com/loophive/hiveboard/pkg/ingest"
	"github.com/loophive/hiveboard/pkg/model"
	"github.com/loophive/hiveboard/pkg/pricing"
	"github.com/loophive/hiveboard/pkg/query"
	"github.com/loophive/hiveboard/pkg/retention"
	"github.com/loophive/hiveboard/pkg/storage"
	"github.com/loophive/hiveboard/pkg/storage/filestore"
	"github.com/loophive/hiveboard/pkg/storage/postgres"
	"github.com/loophive/hiveboard/pkg/stream"
	"github.com/loophive/hiveboard/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	configPath := flag.String("config",
		getEnv("HIVEBOARD_CONFIG", "./hiveboard.yaml"),
		"Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}

	// 1. Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("Starting HiveBoard",
		"version", version.Full(),
		"listen_addr", cfg.ListenAddr,
		"storage_backend", cfg.Storage.Backend)

	ctx := context.Background()

	// 2. Open storage
	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Error closing storage", "error", err)
		}
	}()

	// 3. Pricing engine
	pricingEng, err := pricing.New(cfg.PricingPath)
	if err != nil {
		logger.Error("Failed to load pricing table", "error", err)
		os.Exit(1)
	}

	// 4. Development-tenant bootstrap
	if err := bootstrapDevTenant(ctx, store, logger); err != nil {
		logger.Error("Failed to bootstrap development tenant", "error", err)
		os.Exit(1)
	}

	// 5. Streaming fan-out (ping loop starts here)
	streams := stream.NewManager(cfg.Stream.PingInterval, logger)
	streams.Start(ctx)

	// 6. Alerting, ingestion and query services
	alerts := alerting.New(store, logger)
	pipeline := ingest.New(store, pricingEng, streams, alerts, logger)
	querySvc := query.New(store, logger)

	// 7. Retention loop
	retentionSvc := retention.New(store, cfg.Retention.Interval, logger)
	retentionSvc.Start(ctx)

	// 8. HTTP server (non-blocking)
	authenticator := auth.NewAuthenticator(store, auth.NewRateLimiter(), logger)
	httpServer := api.NewServer(store, pipeline, querySvc, streams, pricingEng, authenticator, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("HiveBoard started successfully")

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		logger.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: retention first, then fan-out, then HTTP drain
	retentionSvc.Stop()
	logger.Info("Retention service stopped")

	streams.Stop()
	logger.Info("Stream manager stopped")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("Shutdown complete")
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		pgCfg, err := postgres.LoadConfigFromEnv()
		if err != nil {
			return nil, err
		}
		return postgres.Open(ctx, pgCfg)
	default:
		return filestore.Open(cfg.Storage.DataDir)
	}
}

// bootstrapDevTenant creates, idempotently, a dev tenant with its
// default project and an API key whose raw value is HIVEBOARD_DEV_KEY.
// Only active when the variable is set.
func bootstrapDevTenant(ctx context.Context, store storage.Store, logger *slog.Logger) error {
	rawKey := os.Getenv("HIVEBOARD_DEV_KEY")
	if rawKey == "" {
		return nil
	}
	if !strings.HasPrefix(rawKey, auth.KeyPrefix) {
		logger.Warn("HIVEBOARD_DEV_KEY ignored: keys must start with hb_")
		return nil
	}

	now := time.Now().UTC()

	tenant, err := store.GetTenantBySlug(ctx, "dev")
	if errors.Is(err, storage.ErrNotFound) {
		tenant = &model.Tenant{
			ID: uuid.NewString(), Name: "Development", Slug: "dev",
			Plan: model.PlanFree, CreatedAt: now, UpdatedAt: now,
		}
		if err := store.CreateTenant(ctx, tenant); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if _, err := store.GetProjectBySlug(ctx, tenant.ID, model.DefaultProjectSlug); errors.Is(err, storage.ErrNotFound) {
		project := &model.Project{
			ID: uuid.NewString(), TenantID: tenant.ID, Name: "default",
			Slug: model.DefaultProjectSlug, CreatedAt: now, UpdatedAt: now,
		}
		if err := store.CreateProject(ctx, project); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if _, err := store.GetAPIKeyByHash(ctx, auth.HashKey(rawKey)); errors.Is(err, storage.ErrNotFound) {
		key := &model.APIKey{
			ID: uuid.NewString(), TenantID: tenant.ID,
			KeyHash: auth.HashKey(rawKey), KeyPrefix: auth.DisplayPrefix(rawKey),
			Type: model.KeyTypeLive, Label: "dev bootstrap", Active: true, CreatedAt: now,
		}
		if err := store.CreateAPIKey(ctx, key); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	logger.Warn("Development key bootstrap enabled", "tenant_id", tenant.ID)
	return nil
}
