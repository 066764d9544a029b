package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MIGRATION_LOCK_KEY", "")
	t.Setenv("MIGRATION_LOCK_TIMEOUT", "")

	cfg := Load()
	assert.Equal(t, DefaultMigrationLockKey, cfg.MigrationLockKey)
	assert.Equal(t, DefaultModeratorLockBaseKey, cfg.ModeratorLockBaseKey)
	assert.Equal(t, 60*time.Second, cfg.MigrationLockTimeout)
	assert.Equal(t, time.Second, cfg.MigrationLockPollInterval)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MIGRATION_LOCK_KEY", "0x10")
	t.Setenv("MODERATOR_LOCK_BASE_KEY", "42")
	t.Setenv("MIGRATION_LOCK_TIMEOUT", "5s")
	t.Setenv("DATABASE_POOL_MAX_SIZE", "25")
	t.Setenv("RATE_LIMIT_REFILL_PER_SEC", "0.5")

	cfg := Load()
	assert.Equal(t, int64(16), cfg.MigrationLockKey)
	assert.Equal(t, int64(42), cfg.ModeratorLockBaseKey)
	assert.Equal(t, 5*time.Second, cfg.MigrationLockTimeout)
	assert.Equal(t, 25, cfg.PoolMaxConns)
	assert.InDelta(t, 0.5, cfg.RateLimitRefill, 1e-9)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("MIGRATION_LOCK_KEY", "not-a-number")
	t.Setenv("STATS_REFRESH_INTERVAL", "soon")

	cfg := Load()
	assert.Equal(t, DefaultMigrationLockKey, cfg.MigrationLockKey)
	assert.Equal(t, 15*time.Second, cfg.StatsRefreshInterval)
}
