package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"agency-ops/internal/archive"
	"agency-ops/internal/config"
	"agency-ops/internal/queue"
	"agency-ops/internal/store"
	"agency-ops/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := telemetry.NewLogger(os.Stdout, cfg.IsDev(), cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RedisAddr == "" {
		fatal(logger, "REDIS_ADDR must be set for the archive worker", nil)
	}

	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		fatal(logger, "connect postgres", err)
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		fatal(logger, "ping postgres", err)
	}

	if cfg.RunMigrations {
		if err := st.RunMigrations(ctx); err != nil {
			fatal(logger, "migrations", err)
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	uploader, err := archive.NewUploader(ctx, cfg)
	if err != nil {
		fatal(logger, "init uploader", err)
	}

	q := queue.NewArchiveQueue(rdb, cfg.ArchiveQueuePrefix, cfg.ArchiveLease)
	processor := archive.NewProcessor(cfg, q, st, uploader, logger)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", slog.Any("error", err))
		}
	}()

	logger.Info("archive worker started",
		slog.Duration("lease", cfg.ArchiveLease),
		slog.Int("max_attempts", cfg.ArchiveMaxAttempts),
		slog.String("bucket", cfg.ArchiveS3Bucket),
	)
	if err := processor.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("worker stopped", slog.Any("error", err))
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.Any("error", err))
	os.Exit(1)
}
