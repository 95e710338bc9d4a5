// Package config loads the nonce guard service configuration from an
// optional YAML file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/orderless/internal/replay"
	"github.com/dreamware/orderless/internal/txn"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid config")

// Config is the service configuration.
//
// Precedence, lowest to highest: defaults, YAML file, environment.
//
// Environment:
//   - GUARD_CONFIG: path of the YAML file (optional)
//   - GUARD_LISTEN: listen address (default ":8090")
//   - GUARD_NUM_BUCKETS, GUARD_WINDOW_SECONDS, GUARD_MAX_STALE_SECONDS
//   - GUARD_PREALLOCATE_BUCKETS
//   - GUARD_CHECKPOINT_PATH: SQLite file; empty disables checkpointing
//   - GUARD_CHECKPOINT_INTERVAL: e.g. "30s"
//   - GUARD_LOG_LEVEL: debug, info, warn, error
type Config struct {
	Listen             string        `yaml:"listen"`
	CheckpointPath     string        `yaml:"checkpoint_path"`
	LogLevel           string        `yaml:"log_level"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	WindowSeconds      uint64        `yaml:"window_seconds"`
	MaxStaleSeconds    uint64        `yaml:"max_stale_seconds"`
	NumBuckets         uint32        `yaml:"num_buckets"`
	PreallocateBuckets uint32        `yaml:"preallocate_buckets"`
}

// Default returns the production defaults
func Default() Config {
	return Config{
		Listen:             ":8090",
		LogLevel:           "info",
		CheckpointInterval: 30 * time.Second,
		WindowSeconds:      txn.DefaultWindow,
		MaxStaleSeconds:    txn.DefaultMaxStale,
		NumBuckets:         txn.DefaultNumBuckets,
	}
}

// FromEnv loads configuration using the process environment
func FromEnv() (Config, error) {
	return Load(os.Getenv)
}

// Load builds a Config from defaults, the file named by GUARD_CONFIG and
// the remaining GUARD_* variables, all read through getenv.
func Load(getenv func(string) string) (Config, error) {
	cfg := Default()

	if path := getenv("GUARD_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if v := getenv("GUARD_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := getenv("GUARD_CHECKPOINT_PATH"); v != "" {
		cfg.CheckpointPath = v
	}
	if v := getenv("GUARD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("GUARD_CHECKPOINT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: GUARD_CHECKPOINT_INTERVAL: %v", ErrInvalid, err)
		}
		cfg.CheckpointInterval = d
	}

	uints := []struct {
		env  string
		bits int
		set  func(uint64)
	}{
		{"GUARD_NUM_BUCKETS", 32, func(n uint64) { cfg.NumBuckets = uint32(n) }},
		{"GUARD_PREALLOCATE_BUCKETS", 32, func(n uint64) { cfg.PreallocateBuckets = uint32(n) }},
		{"GUARD_WINDOW_SECONDS", 64, func(n uint64) { cfg.WindowSeconds = n }},
		{"GUARD_MAX_STALE_SECONDS", 64, func(n uint64) { cfg.MaxStaleSeconds = n }},
	}
	for _, u := range uints {
		v := getenv(u.env)
		if v == "" {
			continue
		}
		n, err := strconv.ParseUint(v, 10, u.bits)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalid, u.env, err)
		}
		u.set(n)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%w: listen address is empty", ErrInvalid)
	}
	if c.CheckpointPath != "" && c.CheckpointInterval <= 0 {
		return fmt.Errorf("%w: checkpoint interval must be > 0", ErrInvalid)
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log level %q", ErrInvalid, c.LogLevel)
	}
	if err := c.History(nil, nil).Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// History returns the nonce history configuration
func (c Config) History(clock replay.Clock, logger *zap.Logger) replay.Config {
	return replay.Config{
		Clock:              clock,
		Logger:             logger,
		NumBuckets:         c.NumBuckets,
		PreallocateBuckets: c.PreallocateBuckets,
		Window:             c.WindowSeconds,
		MaxStale:           c.MaxStaleSeconds,
	}
}

// NewLogger builds a production zap logger at the configured level
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if level.Level() == zap.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
