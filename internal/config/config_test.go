package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("LOG_LEVEL", "")
	cfg := Load()

	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.Equal(t, "access_token", cfg.JWTCookie)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.ArchiveLease)
	assert.True(t, cfg.RunMigrations)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RATE_LIMIT_REFILL_PER_SEC", "2.5")
	t.Setenv("ARCHIVE_ENABLED", "true")
	t.Setenv("ARCHIVE_LEASE", "1m")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()
	assert.False(t, cfg.IsDev())
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 2.5, cfg.RateLimitRefill)
	assert.True(t, cfg.ArchiveEnabled)
	assert.Equal(t, time.Minute, cfg.ArchiveLease)
	assert.Equal(t, 0, cfg.RedisDB)
}
