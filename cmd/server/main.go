// Avatar Relay - conversational avatar server
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

	"github.com/compai/avatar-relay/internal/api"
	"github.com/compai/avatar-relay/internal/avatar"
	"github.com/compai/avatar-relay/internal/billing"
	"github.com/compai/avatar-relay/internal/completion"
	"github.com/compai/avatar-relay/internal/config"
	"github.com/compai/avatar-relay/internal/conversation"
	"github.com/compai/avatar-relay/internal/lifecycle"
	"github.com/compai/avatar-relay/internal/metrics"
	"github.com/compai/avatar-relay/internal/middleware"
	"github.com/compai/avatar-relay/internal/orchestrator"
	"github.com/compai/avatar-relay/internal/rpa"
	"github.com/compai/avatar-relay/internal/session"
	"github.com/compai/avatar-relay/internal/store"
	"github.com/compai/avatar-relay/internal/transcription"
	"github.com/compai/avatar-relay/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"
)

const serviceName = "Avatar Relay"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "origins", cfg.AllowedOrigins)

	// Trigger journal.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	// Metrics.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// Provider gateways.
	providerHTTP := &http.Client{Timeout: cfg.ProviderTimeout}
	avatarClient, err := avatar.NewClient(cfg.Avatar.APIKey,
		avatar.WithBaseURL(cfg.Avatar.BaseURL),
		avatar.WithHTTPClient(providerHTTP),
	)
	if err != nil {
		slog.Error("Failed to initialize avatar client", "error", err)
		os.Exit(1)
	}

	completer := completion.New(completion.Settings{
		APIKey:          cfg.Completion.APIKey,
		BaseURL:         cfg.Completion.BaseURL,
		Model:           cfg.Completion.Model,
		SystemMessage:   cfg.Completion.SystemMessage,
		MaxOutputTokens: int64(cfg.Completion.MaxOutputTokens),
	}, cfg.ProviderTimeout)
	if cfg.Completion.APIKey == "" {
		slog.Warn("OPENAI_API_KEY not set, completions disabled until configured through the admin API")
	}

	stt := transcription.NewClient(cfg.Transcription.APIKey, cfg.Transcription.BaseURL, cfg.Transcription.Model, cfg.ProviderTimeout)
	if !stt.Configured() {
		slog.Warn("DEEPGRAM_API_KEY not set, transcription disabled")
	}

	var orch rpa.Orchestrator
	if cfg.Orchestrator.Enabled() {
		oc, err := orchestrator.NewClient(orchestrator.Config{
			BaseURL:            cfg.Orchestrator.BaseURL,
			Organization:       cfg.Orchestrator.Organization,
			Tenant:             cfg.Orchestrator.Tenant,
			PAT:                cfg.Orchestrator.PAT,
			OrganizationUnitID: cfg.Orchestrator.OrganizationUnitID,
			Timeout:            cfg.ProviderTimeout,
		})
		if err != nil {
			slog.Error("Failed to initialize orchestrator client", "error", err)
			os.Exit(1)
		}
		orch = oc
		slog.Info("Orchestrator client initialized", "process", cfg.Orchestrator.ProcessName)
	} else {
		slog.Warn("UiPath not configured, billing workflows will report an error")
	}

	// Services.
	mgr := lifecycle.NewManager(avatarClient, session.NewRegistry(), cfg.Session, collector)
	coordinator := rpa.NewCoordinator(orch, cfg.Orchestrator.ProcessName, repo, collector)
	convo := conversation.NewService(mgr, billing.Default(), completer, coordinator, collector)
	tracker := conversation.NewTracker()

	// Handlers.
	baseHandler := api.NewHandler(mgr, tracker)
	healthHandler := api.NewHealthHandler(baseHandler, serviceName, repo, 5*time.Second)
	sessionHandler := api.NewSessionHandler(baseHandler)
	emailHandler := api.NewEmailHandler(api.NewEmailValidations())
	mediaHandler := api.NewMediaHandler(stt)
	rpaHandler := api.NewRPAHandler(baseHandler, coordinator)
	adminHandler := api.NewAdminHandler(completer, cfg.AdminToken)
	wsHandler := conversation.NewWebSocketHandler(convo, tracker, cfg.AllowedOrigins, collector)

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:            rate.Limit(cfg.RateLimit.RPS),
		Burst:           cfg.RateLimit.Burst,
		CleanupInterval: 5 * time.Minute,
	})
	defer limiter.Stop()

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", metrics.Handler(registry))

	// API routes share the per-client rate limit.
	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware())
		sessionHandler.RegisterRoutes(r)
		emailHandler.RegisterRoutes(r)
		mediaHandler.RegisterRoutes(r)
		rpaHandler.RegisterRoutes(r)
		adminHandler.RegisterRoutes(r)
	})

	// WebSocket endpoint.
	r.Get("/ws/{session_id}", wsHandler.ServeHTTP)

	// Serve the embedded avatar page.
	r.Handle("/*", web.Handler())

	// WriteTimeout stays 0: websocket channels are long-lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lifecycle.StartSweeper(ctx, mgr, lifecycle.SweepConfig{
		MaxAge:   cfg.Sweep.MaxAge,
		Interval: cfg.Sweep.Interval,
	})

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Websocket connections are hijacked and not closed by Shutdown.
	for _, s := range mgr.Registry().List() {
		tracker.CloseSession(s.ID)
		mgr.Evict(shutdownCtx, s.ID)
	}

	slog.Info("Server stopped successfully")
}
