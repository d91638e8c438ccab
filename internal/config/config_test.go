package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "127.0.0.1:7070", cfg.Server.Addr)

	assert.Equal(t, 32, cfg.Mux.MaxSessions)
	assert.Equal(t, 16, cfg.Mux.SignalQueueDepth)
	assert.Equal(t, 1<<20, cfg.Mux.ScrollbackBytes)

	assert.Equal(t, 80, cfg.Shell.Cols)
	assert.Equal(t, 24, cfg.Shell.Rows)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Equal(t, 50, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 100, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadOrDefault(t *testing.T) {
	// Should return default when no env vars set
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "127.0.0.1:7070", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"SHMUX_ADDR":         "127.0.0.1:9090",
		"SHMUX_MAX_SESSIONS": "4",
		"SHMUX_COLS":         "132",
		"SHMUX_LOG_LEVEL":    "debug",
		"SHMUX_LOG_DEV":      "true",
	}
	for k, v := range envVars {
		os.Setenv(k, v)
	}
	defer func() {
		for k := range envVars {
			os.Unsetenv(k)
		}
	}()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, 4, cfg.Mux.MaxSessions)
	assert.Equal(t, 132, cfg.Shell.Cols)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
}
