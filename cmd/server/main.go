package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/labelflow/internal/config"
	"github.com/JonMunkholm/labelflow/internal/core"
	"github.com/JonMunkholm/labelflow/internal/logging"
	"github.com/JonMunkholm/labelflow/internal/store/postgres"
	"github.com/JonMunkholm/labelflow/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"max_concurrent_jobs", cfg.Import.MaxConcurrent,
		"export_dir", cfg.Export.Dir,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()
	pool, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		slog.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	service := core.NewService(postgres.New(pool), core.Options{
		ExportDir:         cfg.Export.Dir,
		MaxConcurrentJobs: cfg.Import.MaxConcurrent,
		MaxWait:           cfg.Import.MaxWaitTime,
		JobTimeout:        cfg.Import.Timeout,
		BatchSize:         cfg.Import.BatchSize,
		MaxFileSize:       int64(cfg.Import.MaxFileSize),
		DefaultEncoding:   cfg.Import.DefaultEncoding,
		ResultTTL:         cfg.Import.ResultTTL,
		Logger:            slog.Default(),
	})

	server := web.NewServer(service, cfg)

	// Background jobs stop when cancelJobs is called
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartExportCleanup(jobCtx, core.CleanupConfig{
		Retention:     cfg.Export.Retention,
		CheckInterval: cfg.Export.CleanupInterval,
	})

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop taking requests first, then let running jobs finish
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		if status := service.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for jobs to complete", "active", status.Active)
		}
		if err := service.Shutdown(shutdownCtx); err != nil {
			slog.Warn("jobs did not complete in time and were cancelled", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-done
}
