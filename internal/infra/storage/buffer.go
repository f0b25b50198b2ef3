package storage

import (
	"sync"

	"github.com/google/uuid"

	"github.com/vietddude/flowcore/internal/core/future"
	"github.com/vietddude/flowcore/internal/core/txn"
)

// Mutation is one buffered write. Clear deletes the key.
type Mutation struct {
	Key   []byte
	Value []byte
	Clear bool
}

type bufferState int

const (
	stateOpen bufferState = iota
	stateCommitting
	stateCommitted
	stateClosed
)

// Buffer is the client-side half of a transaction handle: identity, buffered
// writes, the lock-aware option, retry count, and commit bookkeeping.
// Backends embed it and supply Get and Commit.
type Buffer struct {
	mu        sync.Mutex
	id        string
	writes    map[string]Mutation
	order     []string
	lockAware bool
	retries   int
	state     bufferState
	version   int64
	err       error

	sched  txn.DelayScheduler
	policy txn.RetryPolicy
}

// NewBuffer creates an open buffer whose OnError backs off on sched.
func NewBuffer(sched txn.DelayScheduler, policy txn.RetryPolicy) *Buffer {
	return &Buffer{
		id:      uuid.NewString(),
		writes:  make(map[string]Mutation),
		version: txn.InvalidVersion,
		sched:   sched,
		policy:  policy,
	}
}

// ID returns the handle identifier.
func (b *Buffer) ID() string {
	return b.id
}

// Set buffers a write. Oversized keys or values fail the commit.
func (b *Buffer) Set(key, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	b.put(Mutation{Key: clone(key), Value: v})
}

// Clear buffers a deletion.
func (b *Buffer) Clear(key []byte) {
	b.put(Mutation{Key: clone(key), Clear: true})
}

func (b *Buffer) put(m Mutation) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.state == stateCommitting:
		b.setErrLocked(txn.NewError(txn.CodeUsedDuringCommit))
		return
	case b.state != stateOpen:
		return
	case len(m.Key) > MaxKeySize:
		b.setErrLocked(txn.NewError(txn.CodeKeyTooLarge))
		return
	case len(m.Value) > MaxValueSize:
		b.setErrLocked(txn.NewError(txn.CodeValueTooLarge))
		return
	}

	k := string(m.Key)
	if _, ok := b.writes[k]; !ok {
		b.order = append(b.order, k)
	}
	b.writes[k] = m
}

func (b *Buffer) setErrLocked(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Lookup returns the buffered write for key, if any. A found Clear means the
// key reads as absent.
func (b *Buffer) Lookup(key []byte) (Mutation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.writes[string(key)]
	return m, ok
}

// Mutations returns the buffered writes in first-write order.
func (b *Buffer) Mutations() []Mutation {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Mutation, 0, len(b.order))
	for _, k := range b.order {
		out = append(out, b.writes[k])
	}
	return out
}

// SetLockAware allows the commit to proceed while the database is locked.
func (b *Buffer) SetLockAware() {
	b.mu.Lock()
	b.lockAware = true
	b.mu.Unlock()
}

// LockAware reports whether SetLockAware was called.
func (b *Buffer) LockAware() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lockAware
}

// BeginCommit moves the buffer into the committing state. It fails if the
// handle was closed, is already committing, or recorded a write error.
func (b *Buffer) BeginCommit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateCommitting, stateCommitted:
		return txn.NewError(txn.CodeUsedDuringCommit)
	case stateClosed:
		return txn.NewError(txn.CodeTransactionCanceled)
	}
	if b.err != nil {
		return b.err
	}
	b.state = stateCommitting
	return nil
}

// FinishCommit records the commit outcome. version is ignored on error.
func (b *Buffer) FinishCommit(version int64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.state = stateOpen
		return
	}
	b.state = stateCommitted
	b.version = version
}

// CommittedVersion returns the version of a successful commit.
func (b *Buffer) CommittedVersion() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateCommitted {
		return txn.InvalidVersion, txn.ErrNotCommittedYet
	}
	return b.version, nil
}

// OnError backs off on the scheduler when err is retryable.
func (b *Buffer) OnError(err error) *future.Future[struct{}] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return txn.HandleError(b.sched, b.policy, &b.retries, err)
}

// RetryCount returns the number of retries granted so far.
func (b *Buffer) RetryCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retries
}

// SetRetryCount carries a retry count over from a previous handle.
func (b *Buffer) SetRetryCount(n int) {
	b.mu.Lock()
	b.retries = n
	b.mu.Unlock()
}

// Close discards buffered writes. A committed handle keeps its version.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateCommitted {
		return
	}
	b.state = stateClosed
	b.writes = make(map[string]Mutation)
	b.order = nil
}

func clone(p []byte) []byte {
	if p == nil {
		return nil
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out
}
