package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/gameprobe/internal/api"
	"github.com/shehryarbajwa/gameprobe/internal/app"
	"github.com/shehryarbajwa/gameprobe/internal/catalog"
	"github.com/shehryarbajwa/gameprobe/internal/config"
	"github.com/shehryarbajwa/gameprobe/internal/proxy"
	"github.com/shehryarbajwa/gameprobe/internal/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := app.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting gameprobe server...", zap.String("target", cfg.BaseURL))

	// Pulling the browser image may take a while
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	probe, err := app.New(ctx, cfg, app.Options{Catalog: catalog.DefaultOptions()}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer func() {
		if err := probe.Close(); err != nil {
			logger.Warn("Failed to release browser sessions", zap.Error(err))
		}
	}()

	// Initialize WebSocket proxy
	proxyServer := proxy.NewServer(probe.Sessions, logger)
	logger.Info("✓ WebSocket proxy initialized")

	rateLimiter := ratelimit.NewLimiter(cfg.API.RequestsPerHour, cfg.API.Burst)
	logger.Info("✓ Rate limiter initialized",
		zap.Int("requestsPerHour", cfg.API.RequestsPerHour),
		zap.Int("burst", cfg.API.Burst))

	handler := api.NewHandler(api.Deps{
		Runner:    probe.Runner,
		Suites:    probe.Suites,
		Sessions:  probe.Sessions,
		Artifacts: probe.Artifacts,
		Hub:       probe.Hub,
		Metrics:   probe.Metrics,
		RunTTL:    cfg.API.RunTTL,
		Archive:   cfg.Artifacts.Archive,
	}, logger)

	router := handler.SetupRoutes(proxyServer, rateLimiter, cfg.API.RequestsPerHour)
	logger.Info("✓ HTTP routes configured")

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.API.Listen,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("🚀 Server starting", zap.String("addr", cfg.API.Listen))
		logger.Info("📍 API endpoints available at /v1, metrics at /metrics")
		logger.Info("🔍 Live run events at /v1/runs/{id}/events, DevTools relay at /v1/sessions/{id}/ws")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("⏳ Shutting down server gracefully...")

	// Shutdown with timeout
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := handler.Shutdown(ctx); err != nil {
		logger.Error("Runs did not stop in time", zap.Error(err))
	}

	logger.Info("✅ Server stopped cleanly")
}
