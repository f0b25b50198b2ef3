package worker

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/flowcore/internal/core/scheduler"
)

type stubStats struct {
	mu    sync.Mutex
	stats scheduler.Stats
}

func (s *stubStats) Stats() scheduler.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReporter_Rate(t *testing.T) {
	src := &stubStats{stats: scheduler.Stats{Name: "bench", Executed: 100}}
	r := NewReporter(src, time.Second, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	start := time.Now()
	r.lastAt = start
	r.report(start.Add(time.Second))
	if r.lastExecuted != 100 {
		t.Errorf("lastExecuted = %d, want 100", r.lastExecuted)
	}

	src.stats.Executed = 300
	stats := r.report(start.Add(3 * time.Second))
	if stats.Executed != 300 || r.lastExecuted != 300 {
		t.Errorf("report did not advance: %+v", stats)
	}
}

func TestReporter_LogsUntilCancelled(t *testing.T) {
	out := &syncBuffer{}
	src := &stubStats{stats: scheduler.Stats{Name: "bench"}}
	r := NewReporter(src, 10*time.Millisecond, slog.New(slog.NewTextHandler(out, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}

	if !strings.Contains(out.String(), "Scheduler stats") {
		t.Errorf("no report logged: %q", out.String())
	}
}

func TestReporter_Disabled(t *testing.T) {
	r := NewReporter(&stubStats{}, 0, nil)
	done := make(chan struct{})
	go func() {
		r.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled reporter should return immediately")
	}
}
