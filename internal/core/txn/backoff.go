package txn

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/vietddude/flowcore/internal/core/future"
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Backoff defines the delay before each retry.
type Backoff struct {
	InitialDelay    time.Duration `yaml:"initial_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	BackoffMultiple float64       `yaml:"multiplier"`
	Jitter          bool          `yaml:"jitter"`
}

// DefaultBackoff starts at 10ms and doubles up to one second.
var DefaultBackoff = Backoff{
	InitialDelay:    10 * time.Millisecond,
	MaxDelay:        time.Second,
	BackoffMultiple: 2.0,
	Jitter:          true,
}

// Delay returns the wait before retry number retry (0-indexed):
// InitialDelay * BackoffMultiple^retry, capped at MaxDelay. With Jitter the
// result is drawn uniformly from [delay/2, delay].
func (b Backoff) Delay(retry int) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	multiple := b.BackoffMultiple
	if multiple < 1 {
		multiple = 1
	}

	delay := float64(b.InitialDelay) * math.Pow(multiple, float64(retry))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}

	// Uncapped growth saturates instead of overflowing into a negative delay.
	d := time.Duration(math.MaxInt64)
	if delay < float64(math.MaxInt64) {
		d = time.Duration(delay)
	}
	if b.Jitter && d > 1 {
		half := d / 2
		randMu.Lock()
		d = half + time.Duration(randSource.Int63n(int64(d-half)+1))
		randMu.Unlock()
	}
	return d
}

// RetryPolicy is the backend-side retry decision: how long to wait and how
// many retries a single logical transaction gets.
type RetryPolicy struct {
	Backoff Backoff `yaml:",inline"`
	// Limit caps retries per logical transaction; 0 means unlimited.
	Limit int `yaml:"limit"`
}

// DefaultRetryPolicy retries forever with DefaultBackoff.
var DefaultRetryPolicy = RetryPolicy{Backoff: DefaultBackoff}

// HandleError is the OnError implementation shared by backends. Fatal errors
// and errors past the retry limit are rejected unchanged. Otherwise the retry
// counter is incremented and the returned future resolves once the backoff
// timer fires on sched.
func HandleError(sched DelayScheduler, p RetryPolicy, retries *int, err error) *future.Future[struct{}] {
	if err == nil {
		return future.Ready(struct{}{})
	}
	if !IsRetryable(err) {
		return future.Failed[struct{}](err)
	}
	if p.Limit > 0 && *retries >= p.Limit {
		return future.Failed[struct{}](err)
	}

	delay := p.Backoff.Delay(*retries)
	*retries++

	promise := future.NewPromise[struct{}]()
	sched.ScheduleWithDelay(delay, func() {
		promise.Resolve(struct{}{})
	})
	return promise.Future()
}
