package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/flowcore/internal/core/retry"
	"github.com/vietddude/flowcore/internal/core/scheduler"
	"github.com/vietddude/flowcore/internal/core/txn"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML after expanding environment variables, then applies
// defaults and validates.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *AppConfig {
	cfg := &AppConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *AppConfig) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Scheduler.Threads == 0 {
		c.Scheduler.Threads = 4
	}
	if c.Scheduler.Name == "" {
		c.Scheduler.Name = "flowcore"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMemory
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = txn.DefaultBackoff.InitialDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = txn.DefaultBackoff.MaxDelay
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = txn.DefaultBackoff.BackoffMultiple
	}
	if c.Retry.Jitter == nil {
		jitter := txn.DefaultBackoff.Jitter
		c.Retry.Jitter = &jitter
	}

	if c.Bench.Clients == 0 {
		c.Bench.Clients = 8
	}
	if c.Bench.Transactions == 0 {
		c.Bench.Transactions = 100
	}
	if c.Bench.Accounts == 0 {
		c.Bench.Accounts = 16
	}
	if c.Bench.InitialBalance == 0 {
		c.Bench.InitialBalance = 1000
	}
	if c.Bench.Mode == "" {
		c.Bench.Mode = string(retry.VariantStandard)
	}
}

// Validate rejects settings the runtime cannot honour.
func (c *AppConfig) Validate() error {
	if c.Scheduler.Threads < scheduler.MinThreads || c.Scheduler.Threads > scheduler.MaxThreads {
		return fmt.Errorf("%w: scheduler.threads %d outside [%d, %d]",
			ErrInvalidConfig, c.Scheduler.Threads, scheduler.MinThreads, scheduler.MaxThreads)
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("%w: database.url is required for the postgres backend", ErrInvalidConfig)
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("%w: redis.url is required for the redis backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage.backend %q", ErrInvalidConfig, c.Storage.Backend)
	}

	switch retry.Variant(c.Bench.Mode) {
	case retry.VariantStandard, retry.VariantDebug, retry.VariantFailIfLocked, retry.VariantNoRetry:
	default:
		return fmt.Errorf("%w: unknown bench.mode %q", ErrInvalidConfig, c.Bench.Mode)
	}

	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("%w: retry delays must not be negative", ErrInvalidConfig)
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("%w: retry.max_delay %v below retry.initial_delay %v",
			ErrInvalidConfig, c.Retry.MaxDelay, c.Retry.InitialDelay)
	}
	if c.Retry.Limit < 0 {
		return fmt.Errorf("%w: retry.limit must not be negative", ErrInvalidConfig)
	}
	if c.Bench.Accounts < 2 {
		return fmt.Errorf("%w: bench.accounts must be at least 2", ErrInvalidConfig)
	}
	return nil
}
