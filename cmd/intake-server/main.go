package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/intake/internal/config"
	"github.com/JonMunkholm/intake/internal/intake"
	"github.com/JonMunkholm/intake/internal/logging"
	"github.com/JonMunkholm/intake/internal/storage"
	"github.com/JonMunkholm/intake/internal/web"
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
		"storage", cfg.Storage.Backend,
		"max_files", cfg.Intake.MaxFiles,
		"max_concurrent_runs", cfg.Intake.MaxConcurrent,
		"rate_limit", cfg.Server.RateLimit,
	)

	ctx := context.Background()
	sink, err := newSink(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to create storage sink", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(web.Options{
		Constraints: cfg.Intake.Constraints(),
		EngineOptions: []intake.Option{
			intake.WithProgress(cfg.Intake.ProgressStep, cfg.Intake.ProgressInterval),
			intake.WithAbortOnError(cfg.Intake.AbortOnError),
		},
		Upload:          storage.UploadFunc(sink),
		BatchUpload:     storage.BatchUploadFunc(sink),
		Limiter:         intake.NewRunLimiter(cfg.Intake.MaxConcurrent, cfg.Intake.MaxWaitTime),
		SessionTTL:      cfg.Intake.SessionTTL,
		MaxRequestBytes: cfg.Server.MaxRequestBytes,
		RateLimit:       cfg.Server.RateLimit,
		TrustedProxies:  cfg.Server.TrustedProxies,
	})

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(cfg.Server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}

	// Start returns as soon as Shutdown begins; wait for running uploads.
	<-shutdownDone
	slog.Info("server stopped")
}

// newSink builds the storage backend named in cfg. config.Load lowercases
// the backend name.
func newSink(ctx context.Context, cfg config.StorageConfig) (storage.Sink, error) {
	switch cfg.Backend {
	case "fs":
		slog.Info("storing uploads on disk", "dir", cfg.DataDir)
		return storage.NewFSSink(cfg.DataDir, cfg.PublicBaseURL), nil
	case "s3":
		slog.Info("storing uploads in s3", "bucket", cfg.S3.Bucket, "region", cfg.S3.Region)
		sink, err := storage.NewS3Sink(ctx, storage.S3Options{
			Bucket:        cfg.S3.Bucket,
			Region:        cfg.S3.Region,
			Endpoint:      cfg.S3.Endpoint,
			AccessKey:     cfg.S3.AccessKey,
			SecretKey:     cfg.S3.SecretKey,
			PublicBaseURL: cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
