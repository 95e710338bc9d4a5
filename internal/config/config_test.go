package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, uint32(50_000), cfg.NumBuckets)
	assert.Equal(t, uint64(75), cfg.WindowSeconds)
	assert.Equal(t, uint64(65), cfg.MaxStaleSeconds)
}

func TestLoadEnvOverrides(t *testing.T) {
	cfg, err := Load(envMap(map[string]string{
		"GUARD_LISTEN":              ":9999",
		"GUARD_NUM_BUCKETS":         "128",
		"GUARD_PREALLOCATE_BUCKETS": "16",
		"GUARD_WINDOW_SECONDS":      "60",
		"GUARD_MAX_STALE_SECONDS":   "50",
		"GUARD_CHECKPOINT_PATH":     "/tmp/nonces.db",
		"GUARD_CHECKPOINT_INTERVAL": "5s",
		"GUARD_LOG_LEVEL":           "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Listen)
	assert.Equal(t, uint32(128), cfg.NumBuckets)
	assert.Equal(t, uint32(16), cfg.PreallocateBuckets)
	assert.Equal(t, uint64(60), cfg.WindowSeconds)
	assert.Equal(t, uint64(50), cfg.MaxStaleSeconds)
	assert.Equal(t, "/tmp/nonces.db", cfg.CheckpointPath)
	assert.Equal(t, 5*time.Second, cfg.CheckpointInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":7000"
num_buckets: 1024
checkpoint_path: nonces.db
checkpoint_interval: 1m
log_level: warn
`), 0o600))

	t.Run("file values", func(t *testing.T) {
		cfg, err := Load(envMap(map[string]string{"GUARD_CONFIG": path}))
		require.NoError(t, err)
		assert.Equal(t, ":7000", cfg.Listen)
		assert.Equal(t, uint32(1024), cfg.NumBuckets)
		assert.Equal(t, time.Minute, cfg.CheckpointInterval)
		assert.Equal(t, "warn", cfg.LogLevel)
		// untouched keys keep defaults
		assert.Equal(t, uint64(75), cfg.WindowSeconds)
	})

	t.Run("env beats file", func(t *testing.T) {
		cfg, err := Load(envMap(map[string]string{
			"GUARD_CONFIG": path,
			"GUARD_LISTEN": ":7001",
		}))
		require.NoError(t, err)
		assert.Equal(t, ":7001", cfg.Listen)
		assert.Equal(t, uint32(1024), cfg.NumBuckets)
	})
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad number", env: map[string]string{"GUARD_NUM_BUCKETS": "lots"}},
		{name: "zero buckets", env: map[string]string{"GUARD_NUM_BUCKETS": "0"}},
		{name: "stale beyond window", env: map[string]string{"GUARD_MAX_STALE_SECONDS": "90"}},
		{name: "bad interval", env: map[string]string{"GUARD_CHECKPOINT_INTERVAL": "soon"}},
		{name: "bad level", env: map[string]string{"GUARD_LOG_LEVEL": "chatty"}},
		{name: "missing file", env: map[string]string{"GUARD_CONFIG": "/nonexistent/guard.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(envMap(tt.env))
			assert.Error(t, err)
		})
	}

	_, err := Load(envMap(map[string]string{"GUARD_MAX_STALE_SECONDS": "90"}))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "error"} {
		cfg := Default()
		cfg.LogLevel = level
		logger, err := cfg.NewLogger()
		require.NoError(t, err, level)
		assert.NotNil(t, logger)
	}
}
