package config

import (
	"time"

	"github.com/vietddude/flowcore/internal/core/txn"
	redisclient "github.com/vietddude/flowcore/internal/infra/redis"
	"github.com/vietddude/flowcore/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Logging   LoggingConfig      `yaml:"logging"`
	Scheduler SchedulerConfig    `yaml:"scheduler"`
	Storage   StorageConfig      `yaml:"storage"`
	Database  postgres.Config    `yaml:"database"`
	Redis     redisclient.Config `yaml:"redis"`
	Retry     RetryConfig        `yaml:"retry"`
	Bench     BenchConfig        `yaml:"bench"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// SchedulerConfig sizes the worker pool.
type SchedulerConfig struct {
	Threads int    `yaml:"threads"`
	Name    string `yaml:"name"`
	// ReportInterval between scheduler stats log lines; 0 disables them.
	ReportInterval time.Duration `yaml:"report_interval"`
}

// RetryConfig is the backend retry policy as written in the file. Jitter is a
// pointer so an explicit false survives defaulting.
type RetryConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       *bool         `yaml:"jitter"`
	Limit        int           `yaml:"limit"` // 0 means unlimited
}

// Policy converts the section into the policy backends consume.
func (r RetryConfig) Policy() txn.RetryPolicy {
	return txn.RetryPolicy{
		Backoff: txn.Backoff{
			InitialDelay:    r.InitialDelay,
			MaxDelay:        r.MaxDelay,
			BackoffMultiple: r.Multiplier,
			Jitter:          r.Jitter != nil && *r.Jitter,
		},
		Limit: r.Limit,
	}
}

// StorageConfig selects the transaction backend.
type StorageConfig struct {
	Backend string `yaml:"backend"` // memory, postgres, redis
}

// BenchConfig drives the transfer workload.
type BenchConfig struct {
	Clients        int    `yaml:"clients"`
	Transactions   int    `yaml:"transactions"` // per client
	Accounts       int    `yaml:"accounts"`
	InitialBalance int64  `yaml:"initial_balance"`
	Mode           string `yaml:"mode"` // standard, debug, fail_if_locked, no_retry
}

// Storage backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)
