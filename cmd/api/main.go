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

	"github.com/redis/go-redis/v9"

	"agency-ops/internal/api"
	"agency-ops/internal/auth"
	"agency-ops/internal/config"
	"agency-ops/internal/lifecycle"
	"agency-ops/internal/queue"
	"agency-ops/internal/ratelimit"
	"agency-ops/internal/store"
	"agency-ops/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := telemetry.NewLogger(os.Stdout, cfg.IsDev(), cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.JWTSecret == "" {
		fatal(logger, "JWT_SECRET must be set", nil)
	}

	var st lifecycle.Store
	switch cfg.StoreBackend {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		st = store.NewMemory()
	default:
		pg, err := store.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			fatal(logger, "connect postgres", err)
		}
		defer pg.Close()
		if err := pg.Ping(ctx); err != nil {
			fatal(logger, "ping postgres", err)
		}
		if cfg.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				fatal(logger, "migrations", err)
			}
		}
		st = pg
	}

	var (
		limiter  api.Limiter
		archiver api.Archiver
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		limiter = ratelimit.NewTokenBucket(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, cfg.RateLimitTTL)
		if cfg.ArchiveEnabled {
			archiver = queue.NewArchiveQueue(rdb, cfg.ArchiveQueuePrefix, cfg.ArchiveLease)
		}
	} else {
		logger.Warn("REDIS_ADDR not set; rate limiting and archiving disabled")
	}

	engine := lifecycle.New(st, logger)
	server := api.New(cfg, engine, auth.NewVerifier(cfg.JWTSecret, cfg.JWTCookie), limiter, archiver, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("api listening", slog.String("port", cfg.HTTPPort), slog.String("store", cfg.StoreBackend))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "listen", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.Any("error", err))
	os.Exit(1)
}
