package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "orders.db", cfg.Store.DatabasePath)
	assert.Equal(t, 10000, cfg.Store.MaxHeldOrders)
	assert.Equal(t, time.Minute, cfg.Store.CleanupInterval())
	assert.Equal(t, 5*time.Minute, cfg.Tracker.CompetitionWindow())
	assert.True(t, cfg.Tracker.MonitorFailures)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[server]
port = "9090"

[store]
database_path = ""
max_held_orders = 50

[tracker]
competition_window_seconds = 10
monitor_failures = false
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Empty(t, cfg.Store.DatabasePath)
	assert.Equal(t, 50, cfg.Store.MaxHeldOrders)
	assert.Equal(t, 10*time.Second, cfg.Tracker.CompetitionWindow())
	assert.False(t, cfg.Tracker.MonitorFailures)

	// Sections absent from the file keep their defaults.
	assert.Equal(t, 60, cfg.Store.CleanupIntervalSeconds)
	assert.Equal(t, "intent-settlement-secret", cfg.Server.JWTSecret)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("not [valid toml"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
