// Package scheduler runs tasks and timers on a fixed pool of worker goroutines.
//
// Tasks are plain func() values executed to completion on whichever worker is
// free. Timers defer a task until a delay has elapsed and can be cancelled
// until the moment they fire. Stop lets workers exit once every queued task,
// running task and pending timer has been accounted for; Join waits for them.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/flowcore/internal/core/metrics"
)

const (
	// MinThreads is the smallest accepted worker count.
	MinThreads = 1
	// MaxThreads is the largest accepted worker count.
	MaxThreads = 1000

	defaultName = "default"
)

// Scheduler owns a fixed set of workers and a shared FIFO of ready tasks.
type Scheduler struct {
	numThreads int
	name       string
	log        *slog.Logger
	onPanic    func(any)

	mu            sync.Mutex
	cond          *sync.Cond
	queue         []func()
	running       int
	pendingTimers int
	started       bool
	stopped       bool
	exited        int
	wg            sync.WaitGroup

	executed atomic.Int64
	panics   atomic.Int64
	dropped  atomic.Int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used for task panics and dropped work.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.log = logger
	}
}

// WithName sets the metrics label for this scheduler.
func WithName(name string) Option {
	return func(s *Scheduler) {
		s.name = name
	}
}

// WithPanicHandler registers a callback invoked with the value of every
// recovered task panic.
func WithPanicHandler(fn func(any)) Option {
	return func(s *Scheduler) {
		s.onPanic = fn
	}
}

// New validates numThreads and returns an unstarted scheduler.
func New(numThreads int, opts ...Option) (*Scheduler, error) {
	if numThreads < MinThreads || numThreads > MaxThreads {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidThreadCount, numThreads, MinThreads, MaxThreads)
	}

	s := &Scheduler{
		numThreads: numThreads,
		name:       defaultName,
		log:        slog.Default(),
	}
	s.cond = sync.NewCond(&s.mu)

	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}

	return s, nil
}

// MustNew is like New but panics on an invalid thread count.
func MustNew(numThreads int, opts ...Option) *Scheduler {
	s, err := New(numThreads, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// NumThreads returns the fixed worker count.
func (s *Scheduler) NumThreads() int {
	return s.numThreads
}

// Start launches the workers. Tasks scheduled before Start run once it is called.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	for i := 0; i < s.numThreads; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.log.Debug("Scheduler started", "scheduler", s.name, "workers", s.numThreads)
	return nil
}

// Schedule enqueues task to run on any worker. It never blocks.
func (s *Scheduler) Schedule(task func()) {
	if task == nil {
		panic(ErrNilTask)
	}

	s.mu.Lock()
	if s.closedLocked() {
		s.mu.Unlock()
		s.drop("task")
		return
	}
	s.queue = append(s.queue, task)
	depth := len(s.queue)
	s.cond.Signal()
	s.mu.Unlock()

	metrics.TasksScheduled.WithLabelValues(s.name).Inc()
	metrics.QueueDepth.WithLabelValues(s.name).Set(float64(depth))
}

// ScheduleWithDelay runs task on a worker no earlier than delay from now.
// A non-positive delay fires as soon as possible, still through the timer path.
func (s *Scheduler) ScheduleWithDelay(delay time.Duration, task func()) *Timer {
	if task == nil {
		panic(ErrNilTask)
	}
	if delay < 0 {
		delay = 0
	}

	t := &Timer{
		sched:    s,
		task:     task,
		deadline: time.Now().Add(delay),
	}

	s.mu.Lock()
	if s.closedLocked() {
		s.mu.Unlock()
		t.state.Store(int32(timerCanceled))
		s.drop("timer")
		return t
	}
	s.pendingTimers++
	s.mu.Unlock()

	metrics.Timers.WithLabelValues(s.name, "scheduled").Inc()
	t.timer = time.AfterFunc(delay, t.fire)
	return t
}

// ScheduleWithDelayMs is ScheduleWithDelay expressed in milliseconds.
func (s *Scheduler) ScheduleWithDelayMs(delayMs int, task func()) *Timer {
	return s.ScheduleWithDelay(time.Duration(delayMs)*time.Millisecond, task)
}

// Stop signals that no further external work is expected. Workers exit once
// the queue is empty, no task is running and no timer is pending.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Join blocks until every worker has exited. Call Stop first.
func (s *Scheduler) Join() {
	s.wg.Wait()
}

// Shutdown stops the scheduler and waits for the workers, bounded by ctx.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.Stop()

	done := make(chan struct{})
	go func() {
		s.Join()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrShutdownTimeout, ctx.Err())
	}
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Name          string `json:"name"`
	Workers       int    `json:"workers"`
	Exited        int    `json:"exited"`
	Queued        int    `json:"queued"`
	Running       int    `json:"running"`
	PendingTimers int    `json:"pending_timers"`
	Executed      int64  `json:"executed"`
	Panics        int64  `json:"panics"`
	Dropped       int64  `json:"dropped"`
	Stopped       bool   `json:"stopped"`
}

// Stats returns current counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Name:          s.name,
		Workers:       s.numThreads,
		Exited:        s.exited,
		Queued:        len(s.queue),
		Running:       s.running,
		PendingTimers: s.pendingTimers,
		Executed:      s.executed.Load(),
		Panics:        s.panics.Load(),
		Dropped:       s.dropped.Load(),
		Stopped:       s.stopped,
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	s.mu.Lock()
	for {
		if len(s.queue) > 0 {
			task := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.running++
			depth := len(s.queue)
			s.mu.Unlock()

			metrics.QueueDepth.WithLabelValues(s.name).Set(float64(depth))
			s.run(id, task)

			s.mu.Lock()
			s.running--
			if s.drainedLocked() {
				s.cond.Broadcast()
			}
			continue
		}

		if s.drainedLocked() {
			s.exited++
			s.mu.Unlock()
			s.log.Debug("Scheduler worker exited", "scheduler", s.name, "worker", id)
			return
		}

		s.cond.Wait()
	}
}

func (s *Scheduler) run(worker int, task func()) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			s.panics.Add(1)
			metrics.TaskPanics.WithLabelValues(s.name).Inc()
			s.log.Error("Scheduler task panic",
				"scheduler", s.name,
				"worker", worker,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			if s.onPanic != nil {
				s.onPanic(rec)
			}
		}
		s.executed.Add(1)
		metrics.TasksExecuted.WithLabelValues(s.name).Inc()
		metrics.TaskDuration.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
	}()

	task()
}

// drainedLocked reports whether workers may exit.
func (s *Scheduler) drainedLocked() bool {
	return s.stopped && len(s.queue) == 0 && s.running == 0 && s.pendingTimers == 0
}

// closedLocked reports whether no worker is left to run new work.
func (s *Scheduler) closedLocked() bool {
	return s.started && s.exited == s.numThreads
}

func (s *Scheduler) drop(kind string) {
	s.dropped.Add(1)
	metrics.TasksDropped.WithLabelValues(s.name).Inc()
	s.log.Warn("Scheduler closed, dropping work", "scheduler", s.name, "kind", kind)
}

// timerFired moves a fired timer's task into the ready queue. The pending
// count and the queue change under one lock so workers never observe a gap.
func (s *Scheduler) timerFired(task func()) {
	s.mu.Lock()
	s.pendingTimers--
	s.queue = append(s.queue, task)
	depth := len(s.queue)
	s.cond.Signal()
	s.mu.Unlock()

	metrics.Timers.WithLabelValues(s.name, "fired").Inc()
	metrics.QueueDepth.WithLabelValues(s.name).Set(float64(depth))
}

func (s *Scheduler) timerCanceled() {
	s.mu.Lock()
	s.pendingTimers--
	if s.drainedLocked() {
		s.cond.Broadcast()
	}
	s.mu.Unlock()

	metrics.Timers.WithLabelValues(s.name, "canceled").Inc()
}
