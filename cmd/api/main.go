// Command api is the circulation notices service: scheduled notice sweeps,
// lifecycle event intake, and the fee/fine balance-change consumer.
//
// Usage:
//
//	noticesvc-api
//	API_PORT=8080 noticesvc-api

// @title Circulation Notices Service
// @version 1.0.0
// @description Scheduled patron notice engine: computes notice fire times against circulation anchors, sweeps due notices in bounded batches, and cancels notices invalidated by later circulation events.
// @host localhost:8000
// @BasePath /
// @schemes http https
// @license.name MIT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/opencirc/noticesvc/internal/api"
	"github.com/opencirc/noticesvc/internal/cache"
	"github.com/opencirc/noticesvc/internal/config"
	"github.com/opencirc/noticesvc/internal/db"
	"github.com/opencirc/noticesvc/internal/listener"
	"github.com/opencirc/noticesvc/internal/notices"
	"github.com/opencirc/noticesvc/internal/settings"
	"github.com/opencirc/noticesvc/internal/sweeper"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Connect to database
	logger.Info("Connecting to database...")
	pool, err := db.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("Database connected",
		"min_conns", cfg.DBPoolMinConns,
		"max_conns", cfg.DBPoolMaxConns)

	// Wire the notice engine
	appCache := cache.New(cfg.CacheEnabled)
	tenantSettings := settings.New(pool.Pool, appCache, logger)
	repo := notices.NewPgStore(pool.Pool)
	scheduler := notices.NewScheduler(repo, logger)
	resolver := notices.NewPgResolver(pool.Pool, appCache)
	gateway := notices.NewHTTPGateway(cfg.DispatchBaseURL, cfg.DispatchTimeout, logger)
	emitter := notices.NewPgEmitter(pool.Pool)
	processor := notices.NewProcessor(repo, resolver, gateway, emitter,
		tenantSettings, cfg.SweepWorkers, logger)

	if gateway == nil {
		logger.Info("Notice transport not configured, dispatches will be logged only")
	}

	// Periodic per-flavor sweeps
	if cfg.SweepEnabled {
		go sweeper.Start(ctx, processor, cfg, logger)
	} else {
		logger.Info("Periodic sweeps disabled (SWEEP_ENABLED=false)")
	}

	// Fee/fine balance-change consumer
	if cfg.ListenerEnabled {
		go listener.Start(ctx, cfg.DatabaseURL, scheduler, logger)
	} else {
		logger.Info("Fee/fine listener disabled (FEE_FINE_LISTENER_ENABLED=false)")
	}

	// Create router
	router := api.NewRouter(pool, processor, scheduler, repo, cfg, logger)

	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Circulation Notices Service",
			"addr", addr,
			"environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
