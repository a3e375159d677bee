// Fluia lead magnet - conversational form server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/fluia/leadmagnet/internal/api"
	"github.com/fluia/leadmagnet/internal/config"
	"github.com/fluia/leadmagnet/internal/identity"
	"github.com/fluia/leadmagnet/internal/middleware"
	"github.com/fluia/leadmagnet/internal/script"
	"github.com/fluia/leadmagnet/internal/session"
	"github.com/fluia/leadmagnet/internal/store"
	"github.com/fluia/leadmagnet/internal/sweeper"
	"github.com/fluia/leadmagnet/internal/webhook"
	"github.com/fluia/leadmagnet/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"variant", cfg.Flow.Variant,
		"store", cfg.Store.Backend,
	)

	// Initialize dependencies.
	repo, err := store.Open(ctx, cfg.Store.ToStore(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		return err
	}
	slog.Info("Session store connected", "backend", cfg.Store.Backend)

	sc, err := script.Load(cfg.Flow.ScriptPath)
	if err != nil {
		return err
	}
	slog.Info("Question script loaded", "questions", sc.Len(), "path", cfg.Flow.ScriptPath)

	remote, err := webhook.New(webhook.Config{
		URL:        cfg.Webhook.URL,
		Timeout:    cfg.Webhook.Timeout,
		RetryDelay: cfg.Webhook.RetryDelay,
	}, logger)
	if err != nil {
		return err
	}

	sessions, err := session.NewManager(session.Options{
		Variant:         session.Variant(cfg.Flow.Variant),
		Script:          sc,
		Remote:          remote,
		Store:           repo,
		Logger:          logger,
		Source:          cfg.Webhook.Source,
		TotalSteps:      cfg.Flow.TotalSteps,
		StepPercent:     cfg.Flow.StepPercent,
		ErrorClearDelay: cfg.Flow.ErrorClearDelay,
	})
	if err != nil {
		return err
	}
	defer sessions.Close()

	// Initialize handlers.
	handler := api.NewHandler(sessions, repo, api.Config{
		SecureCookies: !cfg.IsDevelopment(),
		WatchOrigins:  cfg.CORSOrigins,
	}, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(identity.Middleware())

	r.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(r, middleware.RateLimit(middleware.RateLimitConfig{
		RequestLimit: cfg.RateLimitRequests,
		WindowSize:   cfg.RateLimitWindow,
	}))

	// Serve the prebuilt frontend (SPA catch-all).
	if cfg.StaticDir != "" {
		r.Handle("/*", web.SPAHandler(os.DirFS(cfg.StaticDir)))
		slog.Info("Serving static frontend", "dir", cfg.StaticDir)
	}

	// Create server.
	// Watch streams are long-lived websockets, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	sweep := sweeper.New(repo, sessions, sweeper.Config{
		TTL:         cfg.SessionTTL,
		IdleTimeout: cfg.IdleTimeout,
		Interval:    cfg.SweepInterval,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sweep.Run(gctx)
	})

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Wait for shutdown signal.
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	})

	return g.Wait()
}
