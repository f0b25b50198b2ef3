package cli

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/flowcore/internal/control"
	"github.com/vietddude/flowcore/internal/core/config"
)

var (
	cfgPath string
	isDebug bool
	backend string
	threads int
)

var rootCmd = &cobra.Command{
	Use:   "flowbench",
	Short: "Transactional retry engine benchmark",
	Long: `flowbench drives concurrent transfer transactions through a worker-pool scheduler
and a commit/retry loop against an in-memory, PostgreSQL or Redis backend.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "override storage.backend (memory, postgres, redis)")
	rootCmd.PersistentFlags().IntVar(&threads, "threads", 0, "override scheduler.threads")
}

// loadConfig reads the config file, falling back to defaults when it does not
// exist, applies flag overrides and installs the logger.
func loadConfig() *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			stylelog.InitDefault()
			slog.Error("Failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = config.Default()
	}

	if backend != "" {
		cfg.Storage.Backend = backend
	}
	if threads != 0 {
		cfg.Scheduler.Threads = threads
	}
	if err := cfg.Validate(); err != nil {
		stylelog.InitDefault()
		slog.Error("Invalid config", "error", err)
		os.Exit(1)
	}

	// Setup logging
	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
	return cfg
}

// startApp builds and starts the application from cfg. The caller must
// call stop.
func startApp(ctx context.Context, cfg *config.AppConfig, port int) (app *control.App, stop func()) {
	appCfg := control.ConfigFrom(cfg)
	appCfg.Port = port

	app, err := control.NewApp(ctx, appCfg)
	if err != nil {
		slog.Error("Failed to initialize flowbench", "error", err)
		os.Exit(1)
	}
	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start flowbench", "error", err)
		os.Exit(1)
	}

	return app, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := app.Stop(shutdownCtx); err != nil {
			slog.Error("Error during shutdown", "error", err)
		}
	}
}
