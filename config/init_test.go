package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VAULT_MASTER_KEY", "unit-test-master-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Address)
	assert.Equal(t, "8080", cfg.Server.HTTPPort)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 10*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 30*time.Second, cfg.Sync.ConnectTimeout)
	assert.InDelta(t, 10.0, cfg.Sync.RequestsPerSecond, 1e-9)
	assert.Equal(t, time.Minute, cfg.Collector.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Collector.Window)
	assert.Equal(t, 90*24*time.Hour, cfg.Collector.Retention)
}

func TestLoadRejectsPlaceholderMasterKey(t *testing.T) {
	t.Setenv("VAULT_MASTER_KEY", "CHANGE_ME")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault.master_key")
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("VAULT_MASTER_KEY", "unit-test-master-key")
	t.Setenv("SYNC_INTERVAL", "0")
	t.Setenv("DATABASE_DRIVER", "postgres")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.Sync.Interval)
	assert.Equal(t, "postgres", cfg.Database.Driver)
}
