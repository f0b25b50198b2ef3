// Package worker holds background loops that run beside the scheduler.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/flowcore/internal/core/scheduler"
)

// StatsSource reports scheduler counters.
type StatsSource interface {
	Stats() scheduler.Stats
}

// Reporter periodically logs scheduler counters and the task rate since the
// previous report.
type Reporter struct {
	source   StatsSource
	interval time.Duration
	log      *slog.Logger

	lastExecuted int64
	lastAt       time.Time
}

// NewReporter creates a new Reporter worker.
func NewReporter(source StatsSource, interval time.Duration, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		source:   source,
		interval: interval,
		log:      logger,
	}
}

// Start runs the reporter loop until ctx is done.
func (r *Reporter) Start(ctx context.Context) {
	if r.interval <= 0 {
		return // Reporting disabled
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.lastAt = time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.report(now)
		}
	}
}

func (r *Reporter) report(now time.Time) scheduler.Stats {
	stats := r.source.Stats()

	rate := 0.0
	if elapsed := now.Sub(r.lastAt).Seconds(); elapsed > 0 {
		rate = float64(stats.Executed-r.lastExecuted) / elapsed
	}
	r.lastExecuted = stats.Executed
	r.lastAt = now

	r.log.Info("Scheduler stats",
		"scheduler", stats.Name,
		"queued", stats.Queued,
		"running", stats.Running,
		"timers", stats.PendingTimers,
		"executed", stats.Executed,
		"tasks_per_sec", int64(rate),
		"panics", stats.Panics,
		"dropped", stats.Dropped,
	)
	return stats
}
