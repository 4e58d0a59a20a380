// Package app provides the main application struct for centralized dependency
// management and lifecycle control of the repolens server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"repolens/config"
	"repolens/internal/catalog"
	"repolens/internal/indexhub"
	"repolens/internal/payloadcache"
	"repolens/internal/search"
	"repolens/internal/server"
	"repolens/internal/storage"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config   *config.Config
	storage  storage.Storage
	payloads *payloadcache.Cache
	catalog  *catalog.Catalog
	hub      *indexhub.Hub
	search   *search.Service
	server   *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	app := &App{config: cfg}

	store, err := storage.New(ctx, storage.Config{
		Type: cfg.Storage.Type,
		SQLite: storage.SQLiteConfig{
			Path: cfg.Storage.SQLite.Path,
		},
		PostgreSQL: storage.PostgreSQLConfig{
			URL:      cfg.Storage.PostgreSQL.URL,
			MaxConns: cfg.Storage.PostgreSQL.MaxConns,
		},
		MongoDB: storage.MongoDBConfig{
			URL:      cfg.Storage.MongoDB.URL,
			Database: cfg.Storage.MongoDB.Database,
		},
		Redis: storage.RedisConfig{
			URL: cfg.Storage.Redis.URL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.storage = store

	payloadStore, err := payloadcache.NewStore(store)
	if err != nil {
		return nil, app.failInit("failed to create payload store", err)
	}

	payloads, err := payloadcache.New(payloadStore, payloadcache.Config{
		PreviewSizeChars:  cfg.PayloadCache.PreviewSizeChars,
		MaxFetchSizeChars: cfg.PayloadCache.MaxFetchSizeChars,
		TTL:               cfg.PayloadCache.TTL(),
		CleanupInterval:   cfg.PayloadCache.CleanupInterval(),
	})
	if err != nil {
		return nil, app.failInit("failed to create payload cache", err)
	}
	if err := payloads.Initialize(ctx); err != nil {
		return nil, app.failInit("failed to initialize payload cache", err)
	}
	if err := payloads.StartBackgroundCleanup(); err != nil {
		return nil, app.failInit("failed to start payload cleanup", err)
	}
	app.payloads = payloads

	cat, err := catalog.Load(cfg.CatalogPath, cfg.DataDir)
	if err != nil {
		return nil, app.failInit("failed to load repository catalog", err)
	}
	app.catalog = cat

	hub, err := indexhub.New(cat, indexhub.Config{
		VectorTTL:              cfg.Index.Vector.TTL(),
		VectorBudgetMB:         cfg.Index.Vector.MaxCacheSizeMB,
		VectorReloadOnAccess:   cfg.Index.Vector.ReloadOnAccess,
		FullTextTTL:            cfg.Index.FullText.TTL(),
		FullTextBudgetMB:       cfg.Index.FullText.MaxCacheSizeMB,
		FullTextReloadOnAccess: cfg.Index.FullText.ReloadOnAccess,
		WarmupConcurrency:      cfg.Warmup.Concurrency,
	})
	if err != nil {
		return nil, app.failInit("failed to create index hub", err)
	}
	app.hub = hub

	if cfg.Warmup.Enabled {
		names := make([]string, 0, len(cat.List()))
		for _, repo := range cat.List() {
			names = append(names, repo.Name)
		}
		if err := hub.Warm(ctx, names); err != nil {
			return nil, app.failInit("index warmup aborted", err)
		}
	}

	app.search = search.New(hub, payloads)

	app.logStartupInfo()

	handler := server.NewHandler(app.search, payloads, cat, hub)
	app.server = server.New(handler, &server.Config{
		MasterKey:       cfg.Server.MasterKey,
		MetricsEnabled:  cfg.Server.MetricsEnabled,
		MetricsEndpoint: cfg.Server.MetricsEndpoint,
		BodySizeLimit:   cfg.Server.BodySizeLimit,
	})

	return app, nil
}

// failInit tears down whatever New already built and wraps the causing error.
func (a *App) failInit(msg string, err error) error {
	var closeErrs []error
	if a.payloads != nil {
		closeErrs = append(closeErrs, a.payloads.StopBackgroundCleanup())
	}
	if a.storage != nil {
		closeErrs = append(closeErrs, a.storage.Close())
	}
	if closeErr := errors.Join(closeErrs...); closeErr != nil {
		return fmt.Errorf("%s: %w (also: close error: %v)", msg, err, closeErr)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order:
// HTTP server first (stop accepting requests), then the payload cache's
// background reclaimer, then the storage connection.
//
// Shutdown is idempotent and safe for repeated calls; after the first call,
// subsequent calls are no-ops. It attempts every close step, aggregates
// failures, and returns a joined error if any step fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.payloads != nil {
		if err := a.payloads.StopBackgroundCleanup(); err != nil {
			slog.Error("payload cleanup stop error", "error", err)
			errs = append(errs, fmt.Errorf("payload cleanup stop: %w", err))
		}
	}

	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			slog.Error("storage close error", "error", err)
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	if cfg.Server.MasterKey == "" {
		slog.Warn("SECURITY WARNING: no master key set - server running in UNSAFE MODE",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set REPOLENS_SERVER_MASTER_KEY to secure this server")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	if cfg.Server.MetricsEnabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Server.MetricsEndpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	slog.Info("storage configured", "type", cfg.Storage.Type)
	slog.Info("repository catalog loaded",
		"path", cfg.CatalogPath,
		"repos", len(a.catalog.List()),
	)
	slog.Info("index caches configured",
		"vector_budget_mb", cfg.Index.Vector.MaxCacheSizeMB,
		"vector_ttl", cfg.Index.Vector.TTL(),
		"fulltext_budget_mb", cfg.Index.FullText.MaxCacheSizeMB,
		"fulltext_ttl", cfg.Index.FullText.TTL(),
		"warmup", cfg.Warmup.Enabled,
	)
	slog.Info("payload cache configured",
		"preview_size_chars", cfg.PayloadCache.PreviewSizeChars,
		"max_fetch_size_chars", cfg.PayloadCache.MaxFetchSizeChars,
		"ttl", cfg.PayloadCache.TTL(),
		"cleanup_interval", cfg.PayloadCache.CleanupInterval(),
	)
}
