// Package retry runs user transaction logic in a commit/retry loop.
//
// Each invocation walks BEGIN → EXEC → COMMIT → SUCCESS, or on error asks the
// transaction handle to resolve it (OnError) and starts over with a fresh
// handle. Every step is re-entered through the Runner's executor, so a loop
// never blocks a worker and may resume on any of them.
//
// The user function may run several times before a commit succeeds. It must
// be idempotent with respect to effects outside the transaction; the engine
// does not check this.
package retry

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/vietddude/flowcore/internal/core/future"
	"github.com/vietddude/flowcore/internal/core/metrics"
	"github.com/vietddude/flowcore/internal/core/txn"
)

// Func is user transaction logic producing a value of type R.
type Func[R any] func(tr txn.Transaction) *future.Future[R]

// VoidFunc is user transaction logic without a result.
type VoidFunc func(tr txn.Transaction) *future.Future[struct{}]

// Runner binds the executor and database every loop runs against.
type Runner struct {
	exec     future.Executor
	db       txn.Database
	log      *slog.Logger
	recorder Recorder
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.log = logger
	}
}

// WithRecorder sets the default recorder for debug events.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) {
		r.recorder = rec
	}
}

// NewRunner constructs a Runner. Panics on a nil executor or database.
func NewRunner(exec future.Executor, db txn.Database, opts ...Option) *Runner {
	if exec == nil {
		panic("retry: nil Executor")
	}
	if db == nil {
		panic("retry: nil Database")
	}

	r := &Runner{
		exec: exec,
		db:   db,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.recorder == nil {
		r.recorder = LogRecorder{Logger: r.log}
	}

	return r
}

// RunTransaction retries fn until it commits or OnError gives up.
func RunTransaction[R any](r *Runner, fn Func[R]) *future.Future[R] {
	return Run(r, Standard(), fn)
}

// RunTransactionDebug is RunTransaction that records name and the committed
// version of the successful attempt.
func RunTransactionDebug[R any](r *Runner, name string, fn Func[R]) *future.Future[R] {
	return Run(r, Debug(name), fn)
}

// RunTransactionFailIfLocked is RunTransaction except that database_locked is
// returned at once without backoff.
func RunTransactionFailIfLocked[R any](r *Runner, fn Func[R]) *future.Future[R] {
	return Run(r, FailIfLocked(), fn)
}

// RunTransactionNoRetry runs fn and commits exactly once.
func RunTransactionNoRetry[R any](r *Runner, fn Func[R]) *future.Future[R] {
	return Run(r, NoRetry(), fn)
}

// RunTransactionVoid is RunTransaction for functions without a result.
func RunTransactionVoid(r *Runner, fn VoidFunc) *future.Future[struct{}] {
	return Run(r, Standard(), Func[struct{}](fn))
}

// Run drives fn through the loop described by p. The returned future carries
// either fn's value from the committed attempt or exactly one terminal error,
// unwrapped so its code stays visible to errors.Is.
func Run[R any](r *Runner, p Policy, fn Func[R]) *future.Future[R] {
	if p.Variant == "" {
		p.Variant = VariantStandard
	}
	l := &loop[R]{
		r:       r,
		policy:  p,
		fn:      fn,
		promise: future.NewPromise[R](),
		start:   time.Now(),
	}
	r.exec.Schedule(l.begin)
	return l.promise.Future()
}

// loop is the attempt state of one invocation. Only one continuation touches
// it at a time; each hand-off goes through the executor.
type loop[R any] struct {
	r       *Runner
	policy  Policy
	fn      Func[R]
	promise *future.Promise[R]

	tr       txn.Transaction
	attempts int
	lastErr  error
	start    time.Time
}

// begin replaces the handle and invokes the user function.
func (l *loop[R]) begin() {
	tr, err := l.r.db.CreateTransaction()
	if err != nil {
		l.fail(fmt.Errorf("create transaction: %w", err))
		return
	}
	if l.tr != nil {
		tr.SetRetryCount(l.tr.RetryCount())
		l.tr.Close()
	}
	l.tr = tr
	l.attempts++

	future.Then(l.r.exec, l.invoke(tr), func(v R, err error) {
		if err != nil {
			l.handle(err)
			return
		}
		l.commit(v)
	})
}

func (l *loop[R]) invoke(tr txn.Transaction) (f *future.Future[R]) {
	defer func() {
		if rec := recover(); rec != nil {
			f = future.Failed[R](fmt.Errorf("%w: %v", ErrFunctionPanic, rec))
		}
	}()

	f = l.fn(tr)
	if f == nil {
		return future.Failed[R](ErrNilFuture)
	}
	return f
}

func (l *loop[R]) commit(v R) {
	start := time.Now()
	future.Then(l.r.exec, l.tr.Commit(), func(_ struct{}, err error) {
		metrics.CommitLatency.WithLabelValues(string(l.policy.Variant)).Observe(time.Since(start).Seconds())
		if err != nil {
			l.handle(err)
			return
		}
		l.succeed(v)
	})
}

func (l *loop[R]) handle(err error) {
	l.lastErr = err

	if !l.policy.Retry {
		l.fail(err)
		return
	}
	if l.policy.FailIfLocked && txn.IsDatabaseLocked(err) {
		l.fail(err)
		return
	}

	l.r.log.Debug("Transaction attempt failed",
		"variant", l.policy.Variant,
		"txn", l.tr.ID(),
		"attempt", l.attempts,
		"class", txn.Classify(err).String(),
		"error", err,
	)

	future.Then(l.r.exec, l.tr.OnError(err), func(_ struct{}, onErr error) {
		if onErr != nil {
			l.fail(onErr)
			return
		}
		metrics.TransactionRetries.WithLabelValues(string(l.policy.Variant), codeLabel(err)).Inc()
		l.begin()
	})
}

func (l *loop[R]) succeed(v R) {
	if l.policy.Name != "" {
		l.record()
	}
	l.finish("success")
	l.promise.Resolve(v)
}

func (l *loop[R]) record() {
	version, err := l.tr.CommittedVersion()
	if err != nil {
		version = txn.InvalidVersion
	}
	rec := l.policy.Recorder
	if rec == nil {
		rec = l.r.recorder
	}
	rec.Record(Event{
		Name:             l.policy.Name,
		TransactionID:    l.tr.ID(),
		CommittedVersion: version,
		Attempts:         l.attempts,
		Duration:         time.Since(l.start),
	})
}

func (l *loop[R]) fail(err error) {
	l.lastErr = err
	l.finish("error")
	l.r.log.Debug("Transaction failed",
		"variant", l.policy.Variant,
		"attempts", l.attempts,
		"error", err,
	)
	l.promise.Reject(err)
}

func (l *loop[R]) finish(outcome string) {
	variant := string(l.policy.Variant)
	metrics.Transactions.WithLabelValues(variant, outcome).Inc()
	metrics.TransactionAttempts.WithLabelValues(variant).Observe(float64(l.attempts))
	if l.tr != nil {
		l.tr.Close()
	}
}

func codeLabel(err error) string {
	if code, ok := txn.CodeOf(err); ok {
		return strconv.Itoa(int(code))
	}
	return "none"
}
