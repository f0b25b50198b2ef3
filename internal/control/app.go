// Package control wires the scheduler, a storage backend and the retry
// engine into the flowbench application.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vietddude/flowcore/internal/core/config"
	"github.com/vietddude/flowcore/internal/core/retry"
	"github.com/vietddude/flowcore/internal/core/scheduler"
	"github.com/vietddude/flowcore/internal/core/txn"
	"github.com/vietddude/flowcore/internal/core/worker"
	"github.com/vietddude/flowcore/internal/health"
	redisclient "github.com/vietddude/flowcore/internal/infra/redis"
	"github.com/vietddude/flowcore/internal/infra/storage"
	"github.com/vietddude/flowcore/internal/infra/storage/memory"
	"github.com/vietddude/flowcore/internal/infra/storage/postgres"
)

// App owns the runtime: one scheduler shared by every transaction loop, the
// backend those loops run against, and the health server.
type App struct {
	cfg          Config
	sched        *scheduler.Scheduler
	backend      storage.Backend
	db           *postgres.DB
	runner       *retry.Runner
	healthServer *health.Server
	log          *slog.Logger
}

// Config holds the application configuration.
type Config struct {
	// Port of the health server; 0 disables it.
	Port      int
	Scheduler config.SchedulerConfig
	Backend   string
	Database  postgres.Config
	Redis     redisclient.Config
	Retry     txn.RetryPolicy
	Bench     config.BenchConfig
}

// ConfigFrom maps the file configuration onto the application configuration.
func ConfigFrom(cfg *config.AppConfig) Config {
	return Config{
		Port:      cfg.Server.Port,
		Scheduler: cfg.Scheduler,
		Backend:   cfg.Storage.Backend,
		Database:  cfg.Database,
		Redis:     cfg.Redis,
		Retry:     cfg.Retry.Policy(),
		Bench:     cfg.Bench,
	}
}

// NewApp creates an App with all dependencies initialized. Nothing runs
// until Start.
func NewApp(ctx context.Context, cfg Config) (*App, error) {
	log := slog.Default().With("component", "flowbench")

	sched, err := scheduler.New(cfg.Scheduler.Threads,
		scheduler.WithName(cfg.Scheduler.Name),
		scheduler.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to init scheduler: %w", err)
	}

	backend, db, err := openBackend(ctx, cfg, sched, log)
	if err != nil {
		return nil, err
	}

	app := &App{
		cfg:     cfg,
		sched:   sched,
		backend: backend,
		db:      db,
		runner:  retry.NewRunner(sched, backend, retry.WithLogger(log)),
		log:     log,
	}
	if cfg.Port > 0 {
		app.healthServer = health.NewServer(health.NewMonitor(sched, backend), cfg.Port)
	}
	return app, nil
}

func openBackend(ctx context.Context, cfg Config, sched *scheduler.Scheduler, log *slog.Logger) (storage.Backend, *postgres.DB, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		log.Info("Using Memory storage")
		return memory.NewStorage(sched, memory.WithRetryPolicy(cfg.Retry), memory.WithLogger(log)), nil, nil

	case config.BackendPostgres:
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		log.Info("Using PostgreSQL storage", "driver", cfg.Database.Driver)
		st := postgres.NewStorage(db, sched,
			postgres.WithRetryPolicy(cfg.Retry),
			postgres.WithOpTimeout(cfg.Database.OpTimeout),
			postgres.WithLogger(log),
		)
		return st, db, nil

	case config.BackendRedis:
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init redis: %w", err)
		}
		log.Info("Using Redis storage", "prefix", cfg.Redis.Prefix)
		return redisclient.NewStorage(client, sched,
			redisclient.WithRetryPolicy(cfg.Retry),
			redisclient.WithLogger(log),
		), nil, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", storage.ErrUnknownBackend, cfg.Backend)
	}
}

// Runner returns the retry engine bound to the app's scheduler and backend.
func (a *App) Runner() *retry.Runner {
	return a.runner
}

// Scheduler returns the shared scheduler.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.sched
}

// Backend returns the storage backend.
func (a *App) Backend() storage.Backend {
	return a.backend
}

// Start launches the workers, the health server and the DB metrics collector.
func (a *App) Start(ctx context.Context) error {
	if err := a.sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	if a.healthServer != nil {
		go func() {
			if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("Health server failed", "error", err)
			}
		}()
	}

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	go worker.NewReporter(a.sched, a.cfg.Scheduler.ReportInterval, a.log).Start(ctx)

	a.log.Info("Started",
		"backend", a.backend.Name(),
		"threads", a.sched.NumThreads(),
		"port", a.cfg.Port,
	)
	return nil
}

// Stop drains the scheduler and releases the backend.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping...")

	var errs []error
	if a.healthServer != nil {
		if err := a.healthServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("health server: %w", err))
		}
	}
	if err := a.sched.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}
	if err := a.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("backend: %w", err))
	}
	return errors.Join(errs...)
}
