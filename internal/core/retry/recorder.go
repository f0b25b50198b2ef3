package retry

import (
	"log/slog"
	"time"

	"github.com/vietddude/flowcore/internal/core/metrics"
)

// Event is the observability record emitted by the debug variant.
type Event struct {
	Name             string
	TransactionID    string
	CommittedVersion int64
	Attempts         int
	Duration         time.Duration
}

// Recorder receives debug events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(Event)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Event)

// Record implements Recorder.
func (f RecorderFunc) Record(e Event) {
	f(e)
}

// LogRecorder writes events to a slog logger and counts them.
type LogRecorder struct {
	Logger *slog.Logger
}

// Record implements Recorder.
func (r LogRecorder) Record(e Event) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.DebugEvents.WithLabelValues(e.Name).Inc()
	logger.Info("DebugRunTransaction",
		"function", e.Name,
		"commit_version", e.CommittedVersion,
		"attempts", e.Attempts,
		"duration", e.Duration,
		"txn", e.TransactionID,
	)
}
