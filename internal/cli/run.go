package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	mode  string
	serve bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the transfer workload and print a report",
	Run:   runBench,
}

func init() {
	runCmd.Flags().StringVar(&mode, "mode", "", "override bench.mode (standard, debug, fail_if_locked, no_retry)")
	runCmd.Flags().BoolVar(&serve, "serve", false, "keep the health server up after the run until interrupted")
	rootCmd.AddCommand(runCmd)
}

func runBench(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if mode != "" {
		cfg.Bench.Mode = mode
		if err := cfg.Validate(); err != nil {
			slog.Error("Invalid mode", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, stop := startApp(ctx, cfg, cfg.Server.Port)
	defer stop()

	slog.Info("Bench started", "config", cfgPath, "backend", cfg.Storage.Backend, "mode", cfg.Bench.Mode)

	report, err := app.RunBench(ctx)
	if err != nil {
		slog.Error("Bench failed", "error", err)
		stop()
		os.Exit(1)
	}

	fmt.Printf("mode=%s clients=%d committed=%d failed=%d locked=%d moved=%d duration=%s tps=%.1f\n",
		report.Mode, report.Clients, report.Committed, report.Failed, report.Locked,
		report.Moved, report.Duration, report.Throughput())

	if serve {
		slog.Info("Serving health endpoints, press Ctrl+C to exit", "port", cfg.Server.Port)
		<-ctx.Done()
		slog.Info("Received signal, shutting down...")
	}
}
