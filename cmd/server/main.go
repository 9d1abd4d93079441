// LAN chat server: gated group chat over websockets.
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

	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/api"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/chat"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/config"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/identity"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/middleware"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/store"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/transport"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/web"
	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
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
	level.Set(cfg.LogLevel)

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"store", cfg.Store.Driver,
		"upload_limit", humanize.Bytes(cfg.Upload.MaxSize))

	credential, err := identity.NewAdminCredential(cfg.Admin.Password, cfg.Admin.PasswordHash)
	if err != nil {
		slog.Error("Failed to configure admin credential", "error", err)
		os.Exit(1)
	}

	// Initialize dependencies.
	repo, err := store.Open(cfg.Store.Driver, cfg.StorePath())
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Store connected", "path", cfg.StorePath())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ending the chat from the admin UI shuts the process down.
	ctx, endSession := context.WithCancel(ctx)
	defer endSession()

	hub, err := chat.NewHub(ctx, repo, chat.Options{
		AdminName:       cfg.Admin.Name,
		Credential:      credential,
		ConflictTimeout: cfg.Admin.ConflictTimeout,
		ShutdownGrace:   cfg.ShutdownGrace,
		Logger:          logger,
		Metrics:         chat.NewMetrics(prometheus.DefaultRegisterer),
		OnShutdown: func(choice string) {
			slog.Info("Admin ended the session", "choice", choice)
			endSession()
		},
	})
	if err != nil {
		slog.Error("Failed to initialize chat hub", "error", err)
		os.Exit(1)
	}

	hub.StartPendingSweeper(ctx, cfg.PendingSweepInterval, cfg.PendingTTL)

	// Initialize handlers.
	registry := transport.NewRegistry()
	wsHandler := transport.NewWebSocketHandler(hub, registry, transport.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		QueueSize:      cfg.SendQueueSize,
		IsDev:          cfg.IsDevelopment(),
	})
	healthHandler := api.NewHealthHandler(repo)
	uploadHandler := api.NewUploadHandler(cfg.Upload.Dir, cfg.Upload.MaxSize)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	healthHandler.RegisterHealth(r)
	uploadHandler.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler())

	// WebSocket endpoint.
	r.Get("/ws", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Websockets are long-lived, so there is no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal or end of session.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")
	registry.CloseAll("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
