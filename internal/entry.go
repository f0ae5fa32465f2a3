// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/munin/internal/api"
	"github.com/starford/munin/internal/docservice"
	"github.com/starford/munin/internal/graph"
	"github.com/starford/munin/internal/index"
	"github.com/starford/munin/internal/mcpserver"
	"github.com/starford/munin/internal/metaindex"
	"github.com/starford/munin/internal/rollback"
	"github.com/starford/munin/internal/sse"
	"github.com/starford/munin/internal/storage"
	"github.com/starford/munin/internal/transclude"
	"github.com/starford/munin/internal/versions"
)

// components holds the wired application core shared by the HTTP and MCP
// entrypoints.
type components struct {
	store   storage.Provider
	db      *index.DB
	meta    *metaindex.Index
	builder *graph.Builder
	svc     *docservice.Service
}

// initComponents builds the storage, index, and service layers from the
// configuration. The caller owns c.db and must close it.
func initComponents(cfg *Config, logger *slog.Logger) (*components, error) {
	if err := os.MkdirAll(cfg.Bank.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create bank dir: %w", err)
	}
	if err := os.MkdirAll(cfg.Store.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Bank.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	meta := metaindex.Load(filepath.Join(cfg.Store.Path, "index.json"), store, logger)
	if meta.NeedsRescan() {
		if err := meta.Rescan(); err != nil {
			logger.Warn("metadata rescan failed", slog.String("error", err.Error()))
		}
	}

	vers := versions.NewStore(filepath.Join(cfg.Store.Path, "versions"), store, meta, logger)
	rollbacks := rollback.NewManager(filepath.Join(cfg.Store.Path, "rollbacks.jsonl"), vers, meta, logger)

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	builder := graph.NewBuilder(store, logger)

	// Run initial sync so search and backlinks reflect the bank on disk.
	if err := index.Sync(db, store, builder, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	resolver := transclude.NewResolver(store, builder, logger)
	svc := docservice.NewService(store, db, meta, vers, builder, resolver, rollbacks, logger)

	return &components{
		store:   store,
		db:      db,
		meta:    meta,
		builder: builder,
		svc:     svc,
	}, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("bank_path", cfg.Bank.Path),
		slog.String("store_path", cfg.Store.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c, err := initComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer c.db.Close()

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	// Build API router; the broker serves /api/events behind the same auth.
	apiRouter := api.NewRouter(c.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher with SSE callback.
	g.Go(func() error {
		err := index.Watch(gCtx, c.db, c.store, c.meta, c.builder, cfg.Bank.Path, logger, func(kind, path string) {
			broker.PublishDocumentEvent(kind, path)
		})
		if err != nil {
			// A broken watcher degrades live updates only; keep serving.
			logger.Warn("file watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the MCP server on stdin/stdout with the given options.
//
// Logs go to stderr so they cannot corrupt the protocol stream on stdout.
// Shutdown is handled by the stdio transport when stdin closes or a
// termination signal arrives.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	c, err := initComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer c.db.Close()

	logger.Info("MCP server starting on stdio",
		slog.String("bank_path", cfg.Bank.Path),
		slog.String("store_path", cfg.Store.Path))

	srv := mcpserver.New(c.svc)
	return srv.ServeStdio()
}
