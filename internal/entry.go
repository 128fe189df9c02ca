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
	"golang.org/x/sync/errgroup"

	"github.com/ellingard/chartd/internal/api"
	"github.com/ellingard/chartd/internal/organize"
	"github.com/ellingard/chartd/internal/policy"
	"github.com/ellingard/chartd/internal/ratelimit"
	"github.com/ellingard/chartd/internal/remote"
	"github.com/ellingard/chartd/internal/sse"
	"github.com/ellingard/chartd/internal/state"
	"github.com/ellingard/chartd/internal/syncer"
	"github.com/ellingard/chartd/internal/syncservice"
)

// Run starts the application with the given options.
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
		slog.String("remote_endpoint", cfg.Remote.Endpoint),
		slog.String("bucket", cfg.Remote.Bucket),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("policy_path", cfg.Policy.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Initialize SQLite state store.
	db, err := state.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init state store: %w", err)
	}
	defer db.Close()

	// Load the role policy table.
	policies, err := policy.NewProvider(cfg.Policy.Path)
	if err != nil {
		return fmt.Errorf("load policy table: %w", err)
	}

	// Remote store behind the shared rate limiter.
	limiter := ratelimit.New(cfg.RateLimit.ReadCalls, cfg.RateLimit.WriteCalls, cfg.RateLimit.Window())
	store, err := remote.NewMinioStore(remote.Options{
		Endpoint:     cfg.Remote.Endpoint,
		AccessKey:    cfg.Remote.AccessKey,
		SecretKey:    cfg.Remote.SecretKey,
		UseSSL:       cfg.Remote.UseSSL,
		Bucket:       cfg.Remote.Bucket,
		SourcePrefix: cfg.Remote.SourcePrefix,
		BatchCeiling: cfg.Remote.BatchCeiling,
		PageSize:     cfg.Remote.PageSize,
		ListCacheTTL: cfg.Remote.CacheTTL(),
	}, limiter, logger)
	if err != nil {
		return fmt.Errorf("init remote store: %w", err)
	}

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)

	// Organizer and synchronizer.
	org := organize.New(store, db, cfg.Remote.UserPrefix, logger)
	sc := syncer.New(db, store, policies, org, broker, logger, syncer.Config{
		Workers:          cfg.Sync.Workers,
		RunTimeout:       cfg.Sync.RunTimeout(),
		FailureThreshold: cfg.Sync.FailureThreshold,
	})

	// Run an initial full pass so state catches up with the remote.
	if _, err := sc.RunFullSync(ctx); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	// Build API service and router.
	svc := syncservice.NewService(db, sc, policies)
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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

	// Consume remote change notifications, debounced.
	g.Go(func() error {
		for {
			events := store.WatchSource(gCtx)
			if err := sc.Listen(gCtx, events, cfg.Sync.Debounce()); err != nil {
				return nil // context ended
			}
			// Notification stream closed; back off and reattach.
			select {
			case <-gCtx.Done():
				return nil
			case <-time.After(5 * time.Second):
				logger.Warn("notification stream closed, reconnecting")
			}
		}
	})

	// Periodic full sync as a drift safety net.
	g.Go(func() error {
		_ = sc.RunPeriodic(gCtx, cfg.Sync.Interval())
		return nil
	})

	// Hot-reload the policy table on file changes.
	if cfg.Policy.Watch {
		g.Go(func() error {
			return policy.Watch(gCtx, policies, logger, func() {
				logger.Info("policy table reloaded, scheduling full sync")
				if _, err := sc.RunFullSync(gCtx); err != nil {
					logger.Error("post-reload sync failed", slog.String("error", err.Error()))
				}
			})
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

		broker.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
