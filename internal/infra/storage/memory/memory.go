// Package memory is an in-process versioned key-value backend with
// optimistic concurrency control.
package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vietddude/flowcore/internal/core/future"
	"github.com/vietddude/flowcore/internal/core/metrics"
	"github.com/vietddude/flowcore/internal/core/txn"
	"github.com/vietddude/flowcore/internal/infra/storage"
)

const backendName = "memory"

type entry struct {
	value   []byte
	version int64
}

// Storage is the shared store. Each committed write bumps the global version
// and stamps the written keys with it.
type Storage struct {
	mu      sync.RWMutex
	data    map[string]entry
	tomb    map[string]int64
	version int64
	faults  []txn.Code
	closed  bool

	sched  txn.DelayScheduler
	policy txn.RetryPolicy
	log    *slog.Logger
}

// Option configures a Storage.
type Option func(*Storage)

// WithRetryPolicy sets the backoff used by OnError.
func WithRetryPolicy(p txn.RetryPolicy) Option {
	return func(s *Storage) {
		s.policy = p
	}
}

// WithLogger sets the storage logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Storage) {
		s.log = logger
	}
}

// NewStorage creates an empty store whose handles back off on sched.
func NewStorage(sched txn.DelayScheduler, opts ...Option) *Storage {
	s := &Storage{
		data:   make(map[string]entry),
		tomb:   make(map[string]int64),
		sched:  sched,
		policy: txn.DefaultRetryPolicy,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements storage.Backend.
func (s *Storage) Name() string {
	return backendName
}

// Ping implements storage.Backend.
func (s *Storage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	return nil
}

// Close implements storage.Backend.
func (s *Storage) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// CreateTransaction implements txn.Database.
func (s *Storage) CreateTransaction() (txn.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	return &Transaction{
		Buffer: storage.NewBuffer(s.sched, s.policy),
		store:  s,
		reads:  make(map[string]int64),
	}, nil
}

// Version returns the latest committed version.
func (s *Storage) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Len returns the number of live keys.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Lookup reads the committed value of key outside any transaction.
func (s *Storage) Lookup(key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[string(key)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), e.value...), true
}

// FailNextCommits makes the next n commits fail with code before validation.
func (s *Storage) FailNextCommits(n int, code txn.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.faults = append(s.faults, code)
	}
}

// keyVersionLocked is the version at which k last changed, 0 if never.
func (s *Storage) keyVersionLocked(k string) int64 {
	if e, ok := s.data[k]; ok {
		return e.version
	}
	return s.tomb[k]
}

func (s *Storage) get(key []byte) ([]byte, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k := string(key)
	if e, ok := s.data[k]; ok {
		return append([]byte(nil), e.value...), e.version
	}
	return nil, s.tomb[k]
}

func (s *Storage) commit(t *Transaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, txn.Wrap(txn.CodeInternalError, "commit", storage.ErrClosed)
	}
	if len(s.faults) > 0 {
		code := s.faults[0]
		s.faults = s.faults[1:]
		return 0, txn.Wrap(code, "commit", nil)
	}
	t.mu.Lock()
	for k, seen := range t.reads {
		if s.keyVersionLocked(k) != seen {
			t.mu.Unlock()
			return 0, txn.Wrap(txn.CodeNotCommitted, "commit", nil)
		}
	}
	t.mu.Unlock()

	muts := t.Mutations()
	if len(muts) == 0 {
		return txn.InvalidVersion, nil
	}
	if _, locked := s.data[string(txn.LockKey)]; locked && !t.LockAware() {
		return 0, txn.Wrap(txn.CodeDatabaseLocked, "commit", nil)
	}

	s.version++
	for _, m := range muts {
		k := string(m.Key)
		if m.Clear {
			delete(s.data, k)
			s.tomb[k] = s.version
			continue
		}
		s.data[k] = entry{value: m.Value, version: s.version}
		delete(s.tomb, k)
	}
	return s.version, nil
}

// Transaction is a handle on Storage. Reads record the version they saw;
// commit fails with not_committed if any of them changed since.
type Transaction struct {
	*storage.Buffer
	store *Storage

	mu    sync.Mutex
	reads map[string]int64
}

// Get implements txn.Transaction.
func (t *Transaction) Get(key []byte) *future.Future[[]byte] {
	if m, ok := t.Lookup(key); ok {
		if m.Clear {
			return future.Ready[[]byte](nil)
		}
		return future.Ready(append([]byte(nil), m.Value...))
	}

	value, version := t.store.get(key)
	k := string(key)
	t.mu.Lock()
	if _, seen := t.reads[k]; !seen {
		t.reads[k] = version
	}
	t.mu.Unlock()

	metrics.BackendOps.WithLabelValues(backendName, "get", "ok").Inc()
	return future.Ready(value)
}

// Commit implements txn.Transaction.
func (t *Transaction) Commit() *future.Future[struct{}] {
	if err := t.BeginCommit(); err != nil {
		return future.Failed[struct{}](err)
	}

	version, err := t.store.commit(t)
	t.FinishCommit(version, err)
	if err != nil {
		metrics.BackendOps.WithLabelValues(backendName, "commit", "error").Inc()
		t.store.log.Debug("Commit rejected", "txn", t.ID(), "error", err)
		return future.Failed[struct{}](err)
	}

	metrics.BackendOps.WithLabelValues(backendName, "commit", "ok").Inc()
	return future.Ready(struct{}{})
}

var _ storage.Backend = (*Storage)(nil)
