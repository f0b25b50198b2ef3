package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the database lock state and scheduler counters",
	Run:   runStatus,
}

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Lock the database so only lock-aware transactions may commit",
	Run:   runLock,
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Clear the database lock",
	Run:   runUnlock,
}

func init() {
	rootCmd.AddCommand(statusCmd, lockCmd, unlockCmd)
}

func adminContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx, cancel := adminContext()
	defer cancel()

	app, stop := startApp(ctx, cfg, 0)
	defer stop()

	st, err := app.Status(ctx)
	if err != nil {
		slog.Error("Failed to read status", "error", err)
		stop()
		os.Exit(1)
	}
	stats := app.Scheduler().Stats()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "BACKEND\tLOCKED\tLOCK UID\tTHREADS\tEXECUTED")
	_, _ = fmt.Fprintf(w, "%s\t%t\t%s\t%d\t%d\n", st.Backend, st.Locked, st.LockUID, stats.Workers, stats.Executed)
	_ = w.Flush()
}

func runLock(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx, cancel := adminContext()
	defer cancel()

	app, stop := startApp(ctx, cfg, 0)
	defer stop()

	uid, err := app.Lock(ctx)
	if err != nil {
		slog.Error("Failed to lock database", "error", err)
		stop()
		os.Exit(1)
	}
	fmt.Println(uid)
}

func runUnlock(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx, cancel := adminContext()
	defer cancel()

	app, stop := startApp(ctx, cfg, 0)
	defer stop()

	if err := app.Unlock(ctx); err != nil {
		slog.Error("Failed to unlock database", "error", err)
		stop()
		os.Exit(1)
	}
}
