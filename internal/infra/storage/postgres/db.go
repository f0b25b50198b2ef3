package postgres

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers the "postgres" driver

	"github.com/vietddude/flowcore/internal/core/metrics"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL string `yaml:"url"`
	// Driver is the database/sql driver name: "pgx" (default) or "postgres".
	Driver   string `yaml:"driver"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
	// OpTimeout bounds every read and commit round trip.
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// DB wraps the PostgreSQL connection pool.
type DB struct {
	*sqlx.DB
}

// NewDB creates a new database connection.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "pgx"
	}

	db, err := sqlx.Open(driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set pool configuration
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else {
		db.SetMaxOpenConns(10)
	}

	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	} else {
		db.SetMaxIdleConns(2)
	}

	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// StartMetricsCollector starts a background goroutine to collect DB metrics.
func (db *DB) StartMetricsCollector(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := db.Stats()
				// MaxOpenConnections is 0 when unlimited
				if stats.MaxOpenConnections > 0 {
					usage := float64(stats.OpenConnections) / float64(stats.MaxOpenConnections) * 100
					metrics.DBConnectionPoolUsage.Set(usage)
				}
			}
		}
	}()
}

// Health checks if the database is healthy.
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}
