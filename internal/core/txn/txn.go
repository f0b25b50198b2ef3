// Package txn defines the transaction handle contract consumed by the retry
// engine, the error taxonomy shared by every backend, and the backoff logic
// backends use to resolve retryable errors.
package txn

import (
	"time"

	"github.com/vietddude/flowcore/internal/core/future"
	"github.com/vietddude/flowcore/internal/core/scheduler"
)

// InvalidVersion is the committed version of a transaction that wrote nothing.
const InvalidVersion int64 = -1

// LockKey is the system key whose presence locks the database. Only
// lock-aware transactions may commit while it is set.
var LockKey = []byte("\xff/dbLocked")

// Transaction is a single attempt against the database. Reads are
// asynchronous; writes are buffered locally until Commit. A handle is used by
// one retry-loop continuation at a time and is discarded after its attempt.
type Transaction interface {
	// ID identifies the handle in logs.
	ID() string
	// Get reads key. A nil value means the key is absent. Reads observe the
	// transaction's own buffered writes.
	Get(key []byte) *future.Future[[]byte]
	// Set buffers a write of value to key.
	Set(key, value []byte)
	// Clear buffers a deletion of key.
	Clear(key []byte)
	// SetLockAware allows the transaction to commit while the database is locked.
	SetLockAware()
	// Commit makes the buffered writes durable.
	Commit() *future.Future[struct{}]
	// OnError resolves after the backend's suggested backoff when err is
	// retryable, and rejects with err otherwise.
	OnError(err error) *future.Future[struct{}]
	// CommittedVersion returns the version assigned by a successful commit.
	CommittedVersion() (int64, error)
	// RetryCount is the number of errors OnError has resolved so far.
	RetryCount() int
	// SetRetryCount carries the retry count over to a fresh handle.
	SetRetryCount(n int)
	// Close releases resources held by the handle.
	Close()
}

// Database creates transaction handles.
type Database interface {
	CreateTransaction() (Transaction, error)
}

// DelayScheduler defers a task; *scheduler.Scheduler implements it.
type DelayScheduler interface {
	ScheduleWithDelay(delay time.Duration, task func()) *scheduler.Timer
}

// LockDatabase marks tr lock-aware and writes uid to LockKey.
func LockDatabase(tr Transaction, uid string) {
	tr.SetLockAware()
	tr.Set(LockKey, []byte(uid))
}

// UnlockDatabase marks tr lock-aware and clears LockKey.
func UnlockDatabase(tr Transaction) {
	tr.SetLockAware()
	tr.Clear(LockKey)
}
