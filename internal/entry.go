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
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/starford/docintake/internal/api"
	"github.com/starford/docintake/internal/auth"
	"github.com/starford/docintake/internal/index"
	"github.com/starford/docintake/internal/intake"
	"github.com/starford/docintake/internal/naming"
	"github.com/starford/docintake/internal/sse"
	"github.com/starford/docintake/internal/storage"
)

// components are the collaborators every command shares.
type components struct {
	logger  *slog.Logger
	store   storage.Provider
	fs      *storage.FS // nil unless the fs driver is active
	idx     index.Index
	engine  *naming.Engine
	indexer *index.Indexer
}

func (c *components) Close() {
	if err := c.idx.Close(); err != nil {
		c.logger.Warn("close index", slog.String("error", err.Error()))
	}
}

func (app *application) setup(ctx context.Context) (*components, error) {
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.String("index_driver", cfg.Index.Driver),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.String("scheme", string(cfg.Naming.Scheme)),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c := &components{logger: logger}

	// Initialize object store.
	switch cfg.Storage.Driver {
	case StorageDriverSupabase:
		c.store = storage.NewSupabase(cfg.Storage.Supabase.URL, cfg.Storage.Supabase.ServiceKey)
	default:
		// Ensure store directory exists.
		if err := os.MkdirAll(cfg.Storage.FS.Root, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		tokens, err := storage.NewTokenSigner(cfg.Storage.SigningSecret)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		fs, err := storage.NewFS(cfg.Storage.FS.Root, cfg.App.PublicURL, tokens)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		c.store, c.fs = fs, fs
	}

	// Initialize index.
	switch cfg.Index.Driver {
	case IndexDriverPostgres:
		pg, err := index.OpenPostgres(ctx, cfg.Index.Postgres.DSN, cfg.Index.Postgres.TablePrefix)
		if err != nil {
			return nil, fmt.Errorf("init index: %w", err)
		}
		c.idx = pg
	default:
		db, err := index.OpenSQLite(cfg.Index.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("init index: %w", err)
		}
		c.idx = db
	}

	if cfg.Index.SeedFile != "" {
		if err := seedFile(ctx, c.idx, cfg.Index.SeedFile, logger); err != nil {
			c.Close()
			return nil, err
		}
	}

	engine, err := naming.New(cfg.Naming, c.idx, c.store,
		naming.WithBuckets(cfg.Storage.Buckets.Intake, cfg.Storage.Buckets.Misc),
		naming.WithUploadTTL(cfg.Storage.UploadTTL),
	)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("init naming engine: %w", err)
	}
	c.engine = engine
	return c, nil
}

func seedFile(ctx context.Context, idx index.Index, path string, logger *slog.Logger) error {
	seed, err := index.LoadSeed(path)
	if err != nil {
		return err
	}
	return seed.Apply(ctx, idx, logger)
}

func (app *application) verifier(ctx context.Context, logger *slog.Logger) (auth.Verifier, error) {
	a := app.config.Auth
	mode, err := auth.ParseMode(a.Mode)
	if err != nil {
		return nil, err
	}
	switch mode {
	case auth.ModeToken:
		return auth.NewStaticToken(a.Token, a.TokenUser)
	case auth.ModeJWT:
		return auth.NewJWKSVerifier(ctx, a.JWKSURL, logger)
	}
	logger.Warn("Authentication is disabled; every request is anonymous")
	return nil, nil
}

func (app *application) service(c *components, extra ...intake.Option) *intake.Service {
	cfg := app.config
	opts := []intake.Option{
		intake.WithReadableBuckets(cfg.Storage.Buckets.Docs),
		intake.WithDownloadTTL(cfg.Storage.DownloadTTL),
	}
	if cfg.Auth.Supabase.Configured() {
		opts = append(opts, intake.WithAdmin(auth.NewAdminClient(cfg.Auth.Supabase.URL, cfg.Auth.Supabase.ServiceKey)))
	}
	return intake.NewService(c.engine, c.store, c.idx, c.logger, append(opts, extra...)...)
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	c, err := app.setup(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	cfg := app.config
	logger := c.logger

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	c.indexer = index.NewIndexer(c.idx, c.store, cfg.Naming, cfg.Storage.Buckets.Indexed(), logger, broker.PublishDocumentEvent)

	// Run initial sync.
	if stats, err := c.indexer.Sync(ctx); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	} else {
		logger.Info("initial sync done",
			slog.Int("indexed", stats.Indexed),
			slog.Int("unchanged", stats.Unchanged),
			slog.Int("removed", stats.Removed),
			slog.Int("failed", stats.Failed))
	}

	v, err := app.verifier(ctx, logger)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}
	if v != nil {
		defer v.Close()
	}

	// Build API service and router.
	svc := app.service(c, intake.WithEvents(broker))
	apiRouter := api.NewRouter(svc, api.RouterConfig{
		Verifier:    v,
		AdminEmails: cfg.Auth.AdminEmails,
		Events:      broker,
		Logger:      logger,
	})

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := svc.Ready(r.Context()); err != nil {
			logger.Warn("readiness check failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	// Signed blob endpoints of the fs driver. Access is token-gated.
	if c.fs != nil {
		r.Mount("/blob", api.NewBlobHandler(c.fs, logger).Routes())
	}

	var handler http.Handler = r
	if len(cfg.App.CORSOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins:   cfg.App.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Upsert"},
			AllowCredentials: true,
			MaxAge:           300,
		}).Handler(r)
	}

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher with SSE callback.
	if c.fs != nil && cfg.Index.Watch {
		g.Go(func() error {
			if err := c.indexer.Watch(gCtx, c.fs); err != nil {
				logger.Error("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

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
		defer signal.Stop(quit)

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

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")
