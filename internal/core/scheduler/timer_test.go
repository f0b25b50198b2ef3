package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTimer_FiresOnceAfterDelay(t *testing.T) {
	s := startScheduler(t, 2)

	var calls atomic.Int32
	firedAt := make(chan time.Time, 1)
	start := time.Now()
	timer := s.ScheduleWithDelay(30*time.Millisecond, func() {
		calls.Add(1)
		firedAt <- time.Now()
	})

	shutdown(t, s)

	if calls.Load() != 1 {
		t.Fatalf("timer task ran %d times, want 1", calls.Load())
	}
	if at := <-firedAt; at.Sub(start) < 30*time.Millisecond {
		t.Errorf("timer fired after %v, want >= 30ms", at.Sub(start))
	}
	if !timer.Fired() {
		t.Error("Fired() = false after the task ran")
	}
	if timer.Cancel() {
		t.Error("Cancel() after firing should be a no-op")
	}
	if timer.Canceled() {
		t.Error("Canceled() = true after firing")
	}
}

func TestTimer_CancelBeforeFire(t *testing.T) {
	s := startScheduler(t, 2)

	var ran atomic.Bool
	timer := s.ScheduleWithDelay(time.Hour, func() { ran.Store(true) })

	if !timer.Cancel() {
		t.Fatal("Cancel() on a pending timer returned false")
	}
	if timer.Cancel() {
		t.Error("second Cancel() returned true")
	}

	// A cancelled timer no longer holds the workers open.
	shutdown(t, s)

	if ran.Load() {
		t.Error("cancelled timer ran its task")
	}
	if stats := s.Stats(); stats.PendingTimers != 0 {
		t.Errorf("PendingTimers = %d, want 0", stats.PendingTimers)
	}
}

func TestTimer_ZeroDelayRunsASAP(t *testing.T) {
	s := startScheduler(t, 1)

	done := make(chan struct{})
	s.ScheduleWithDelayMs(0, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("zero-delay timer did not run")
	}
	shutdown(t, s)
}

func TestTimer_NegativeDelayClamped(t *testing.T) {
	s := startScheduler(t, 1)
	defer shutdown(t, s)

	before := time.Now()
	timer := s.ScheduleWithDelay(-time.Second, func() {})
	if timer.Deadline().Before(before) {
		t.Errorf("Deadline() = %v, want >= %v", timer.Deadline(), before)
	}
}

func TestTimer_CancelRace(t *testing.T) {
	s := startScheduler(t, 4)

	const n = 500
	var ran atomic.Int32
	var cancelled atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		timer := s.ScheduleWithDelay(time.Duration(i%3)*time.Millisecond, func() { ran.Add(1) })
		wg.Add(1)
		go func() {
			defer wg.Done()
			if timer.Cancel() {
				cancelled.Add(1)
			}
		}()
	}
	wg.Wait()
	shutdown(t, s)

	// Every timer has exactly one outcome.
	if got := ran.Load() + cancelled.Load(); got != n {
		t.Errorf("ran(%d) + cancelled(%d) = %d, want %d", ran.Load(), cancelled.Load(), got, n)
	}
}
