package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/flowcore/internal/core/scheduler"
)

const (
	defaultCacheTTL   = 2 * time.Second
	pingTimeout       = 2 * time.Second
	queueDegradedSize = 10_000
)

// StatsSource reports scheduler counters.
type StatsSource interface {
	Stats() scheduler.Stats
}

// Pinger checks a backend is reachable.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// Monitor aggregates health status from the scheduler and storage backend.
type Monitor struct {
	sched    StatsSource
	backend  Pinger
	cacheTTL time.Duration

	lastCheck  time.Time
	lastReport map[string]ComponentHealth
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(sched StatsSource, backend Pinger) *Monitor {
	return &Monitor{
		sched:      sched,
		backend:    backend,
		cacheTTL:   defaultCacheTTL,
		lastReport: make(map[string]ComponentHealth),
	}
}

// CheckHealth checks every component. Results are cached briefly so probes
// do not hammer the backend.
func (m *Monitor) CheckHealth(ctx context.Context) map[string]ComponentHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < m.cacheTTL && len(m.lastReport) > 0 {
		return m.lastReport
	}

	report := make(map[string]ComponentHealth)
	report["scheduler"] = m.checkScheduler()
	if m.backend != nil {
		report["storage"] = m.checkBackend(ctx)
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

func (m *Monitor) checkScheduler() ComponentHealth {
	stats := m.sched.Stats()
	h := ComponentHealth{Name: stats.Name, Status: StatusHealthy, Detail: stats}

	switch {
	case stats.Exited == stats.Workers && stats.Workers > 0:
		h.Status = StatusCritical
		h.Error = "all workers exited"
	case stats.Stopped || stats.Queued > queueDegradedSize || stats.Panics > 0:
		h.Status = StatusDegraded
	}
	return h
}

func (m *Monitor) checkBackend(ctx context.Context) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	h := ComponentHealth{Name: m.backend.Name(), Status: StatusHealthy}
	if err := m.backend.Ping(ctx); err != nil {
		h.Status = StatusCritical
		h.Error = err.Error()
	}
	return h
}
