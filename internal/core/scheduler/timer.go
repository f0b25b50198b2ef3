package scheduler

import (
	"sync/atomic"
	"time"
)

type timerState int32

const (
	timerPending timerState = iota
	timerFired
	timerCanceled
)

// Timer is a single-shot handle for a delayed task.
//
// The state moves from pending to exactly one of fired or canceled by
// compare-and-swap, so a task either runs once or is suppressed for good.
type Timer struct {
	sched    *Scheduler
	timer    *time.Timer
	task     func()
	deadline time.Time
	state    atomic.Int32
}

// Cancel suppresses the task if it has not fired yet. It is safe to call from
// any goroutine, any number of times. Reports true only for the call that
// cancelled a pending timer; after firing it is a no-op returning false.
func (t *Timer) Cancel() bool {
	if !t.state.CompareAndSwap(int32(timerPending), int32(timerCanceled)) {
		return false
	}
	t.timer.Stop()
	t.task = nil
	t.sched.timerCanceled()
	return true
}

// Fired reports whether the task was handed to the workers.
func (t *Timer) Fired() bool {
	return timerState(t.state.Load()) == timerFired
}

// Canceled reports whether the task was suppressed.
func (t *Timer) Canceled() bool {
	return timerState(t.state.Load()) == timerCanceled
}

// Deadline returns the earliest time the task may run.
func (t *Timer) Deadline() time.Time {
	return t.deadline
}

func (t *Timer) fire() {
	if !t.state.CompareAndSwap(int32(timerPending), int32(timerFired)) {
		return
	}
	task := t.task
	t.task = nil
	t.sched.timerFired(task)
}
