// Package postgres is a transaction backend on PostgreSQL. Reads go straight
// to the kv table; commits replay buffered writes in one SERIALIZABLE
// transaction after checking that every key read is unchanged.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/flowcore/internal/core/future"
	"github.com/vietddude/flowcore/internal/core/metrics"
	"github.com/vietddude/flowcore/internal/core/txn"
	"github.com/vietddude/flowcore/internal/infra/storage"
)

const (
	backendName      = "postgres"
	defaultOpTimeout = 5 * time.Second
)

const (
	selectRow    = `SELECT value, version FROM kv WHERE key = $1`
	lockRow      = `SELECT version FROM kv WHERE key = $1 FOR UPDATE NOWAIT`
	selectLock   = `SELECT value IS NOT NULL FROM kv WHERE key = $1 FOR SHARE`
	nextVersion  = `SELECT nextval('kv_version_seq')`
	upsertRow    = `INSERT INTO kv (key, value, version) VALUES ($1, $2, $3) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, version = EXCLUDED.version`
	selectMaxVer = `SELECT COALESCE(MAX(version), 0) FROM kv`
)

type row struct {
	Value   []byte `db:"value"`
	Version int64  `db:"version"`
}

// Storage drives transactions against a DB.
type Storage struct {
	db        *DB
	sched     txn.DelayScheduler
	policy    txn.RetryPolicy
	opTimeout time.Duration
	log       *slog.Logger
}

// Option configures a Storage.
type Option func(*Storage)

// WithRetryPolicy sets the backoff used by OnError.
func WithRetryPolicy(p txn.RetryPolicy) Option {
	return func(s *Storage) {
		s.policy = p
	}
}

// WithOpTimeout bounds each database round trip.
func WithOpTimeout(d time.Duration) Option {
	return func(s *Storage) {
		if d > 0 {
			s.opTimeout = d
		}
	}
}

// WithLogger sets the storage logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Storage) {
		s.log = logger
	}
}

// NewStorage creates a Storage on db whose handles back off on sched.
func NewStorage(db *DB, sched txn.DelayScheduler, opts ...Option) *Storage {
	s := &Storage{
		db:        db,
		sched:     sched,
		policy:    txn.DefaultRetryPolicy,
		opTimeout: defaultOpTimeout,
		log:       slog.Default(),
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
	return s.db.Health(ctx)
}

// Close implements storage.Backend.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Version returns the highest committed version.
func (s *Storage) Version(ctx context.Context) (int64, error) {
	var v int64
	if err := s.db.GetContext(ctx, &v, selectMaxVer); err != nil {
		return 0, classify("version", err)
	}
	return v, nil
}

// CreateTransaction implements txn.Database.
func (s *Storage) CreateTransaction() (txn.Transaction, error) {
	return &Transaction{
		Buffer: storage.NewBuffer(s.sched, s.policy),
		store:  s,
		reads:  make(map[string]int64),
	}, nil
}

func observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.BackendOps.WithLabelValues(backendName, op, result).Inc()
}

// Transaction is a handle on Storage.
type Transaction struct {
	*storage.Buffer
	store *Storage

	mu    sync.Mutex
	reads map[string]int64
}

// Get implements txn.Transaction. The query runs off the scheduler workers.
func (t *Transaction) Get(key []byte) *future.Future[[]byte] {
	if m, ok := t.Lookup(key); ok {
		if m.Clear {
			return future.Ready[[]byte](nil)
		}
		return future.Ready(append([]byte(nil), m.Value...))
	}

	k := append([]byte(nil), key...)
	return future.Go(func() ([]byte, error) {
		ctx, cancel := context.WithTimeout(context.Background(), t.store.opTimeout)
		defer cancel()

		var r row
		err := t.store.db.GetContext(ctx, &r, selectRow, k)
		if errors.Is(err, sql.ErrNoRows) {
			err = nil
		}
		observe("get", err)
		if err != nil {
			return nil, classify("get", err)
		}

		t.mu.Lock()
		if _, seen := t.reads[string(k)]; !seen {
			t.reads[string(k)] = r.Version
		}
		t.mu.Unlock()
		return r.Value, nil
	})
}

// Commit implements txn.Transaction.
func (t *Transaction) Commit() *future.Future[struct{}] {
	if err := t.BeginCommit(); err != nil {
		return future.Failed[struct{}](err)
	}

	return future.Go(func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), t.store.opTimeout)
		defer cancel()

		version, err := t.commit(ctx)
		t.FinishCommit(version, err)
		observe("commit", err)
		if err != nil {
			t.store.log.Debug("Commit rejected", "txn", t.ID(), "error", err)
		}
		return struct{}{}, err
	})
}

func (t *Transaction) commit(ctx context.Context) (int64, error) {
	tx, err := t.store.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, classify("begin", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	muts := t.Mutations()
	if len(muts) > 0 && !t.LockAware() {
		var locked bool
		err := tx.GetContext(ctx, &locked, selectLock, txn.LockKey)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return 0, classify("lock check", err)
		}
		if locked {
			return 0, txn.Wrap(txn.CodeDatabaseLocked, "commit", nil)
		}
	}

	t.mu.Lock()
	reads := make(map[string]int64, len(t.reads))
	for k, v := range t.reads {
		reads[k] = v
	}
	t.mu.Unlock()

	for k, seen := range reads {
		var current int64
		err := tx.GetContext(ctx, &current, lockRow, []byte(k))
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return 0, classify("validate", err)
		}
		if current != seen {
			return 0, txn.Wrap(txn.CodeNotCommitted, "commit", nil)
		}
	}

	version := txn.InvalidVersion
	if len(muts) > 0 {
		if err := tx.GetContext(ctx, &version, nextVersion); err != nil {
			return 0, classify("version", err)
		}
		for _, m := range muts {
			var value []byte
			if !m.Clear {
				value = m.Value
			}
			if _, err := tx.ExecContext(ctx, upsertRow, m.Key, value, version); err != nil {
				return 0, classify("write", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, classifyCommit(err)
	}
	return version, nil
}

var _ storage.Backend = (*Storage)(nil)
