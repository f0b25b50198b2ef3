package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/flowcore/internal/core/future"
	"github.com/vietddude/flowcore/internal/core/metrics"
	"github.com/vietddude/flowcore/internal/core/txn"
	"github.com/vietddude/flowcore/internal/infra/storage"
)

const (
	backendName      = "redis"
	defaultOpTimeout = 5 * time.Second

	fieldValue   = "v"
	fieldVersion = "ver"
)

// Storage is a transaction backend on Redis. Commits WATCH every key read
// plus the lock key and apply buffered writes in MULTI/EXEC.
type Storage struct {
	client    *Client
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

// WithOpTimeout bounds each round trip.
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

// NewStorage creates a Storage on client whose handles back off on sched.
func NewStorage(client *Client, sched txn.DelayScheduler, opts ...Option) *Storage {
	s := &Storage{
		client:    client,
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
	return s.client.Ping(ctx)
}

// Close implements storage.Backend.
func (s *Storage) Close() error {
	return s.client.Close()
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

// classify maps a go-redis error from op onto the transaction error codes.
func classify(op string, err error) error {
	var coded *txn.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &coded):
		return err
	case errors.Is(err, redis.TxFailedErr):
		return txn.Wrap(txn.CodeNotCommitted, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return txn.Wrap(txn.CodeTransactionTimedOut, op, err)
	default:
		return txn.Wrap(txn.CodeInternalError, op, err)
	}
}

// classifyExec is classify for EXEC itself, where a failure other than a
// watched key changing leaves the outcome unknown.
func classifyExec(err error) error {
	if err == nil || errors.Is(err, redis.TxFailedErr) {
		return classify("commit", err)
	}
	return txn.Wrap(txn.CodeCommitUnknownResult, "commit", err)
}

// readVersion parses the ver field; missing hashes and fields read as 0.
func readVersion(cmd *redis.StringCmd) (int64, error) {
	v, err := cmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// Transaction is a handle on Storage.
type Transaction struct {
	*storage.Buffer
	store *Storage

	mu    sync.Mutex
	reads map[string]int64
}

// Get implements txn.Transaction. The round trip runs off the scheduler
// workers.
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

		value, version, err := t.read(ctx, k)
		observe("get", err)
		if err != nil {
			return nil, classify("get", err)
		}

		t.mu.Lock()
		if _, seen := t.reads[string(k)]; !seen {
			t.reads[string(k)] = version
		}
		t.mu.Unlock()
		return value, nil
	})
}

func (t *Transaction) read(ctx context.Context, key []byte) ([]byte, int64, error) {
	vals, err := t.store.client.rdb.HMGet(ctx, t.store.client.kvKey(key), fieldValue, fieldVersion).Result()
	if err != nil {
		return nil, 0, err
	}

	var value []byte
	if s, ok := vals[0].(string); ok {
		value = []byte(s)
	}
	var version int64
	if s, ok := vals[1].(string); ok {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("parse version of %x: %w", key, err)
		}
		version = v
	}
	return value, version, nil
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
	c := t.store.client
	lockKey := c.kvKey(txn.LockKey)

	t.mu.Lock()
	reads := make(map[string]int64, len(t.reads))
	watch := []string{lockKey}
	for k, v := range t.reads {
		reads[k] = v
		watch = append(watch, c.kvKey([]byte(k)))
	}
	t.mu.Unlock()

	muts := t.Mutations()
	version := txn.InvalidVersion
	var execErr error

	err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		for k, seen := range reads {
			current, err := readVersion(tx.HGet(ctx, c.kvKey([]byte(k)), fieldVersion))
			if err != nil {
				return err
			}
			if current != seen {
				return txn.Wrap(txn.CodeNotCommitted, "commit", nil)
			}
		}
		if len(muts) == 0 {
			return nil
		}

		if !t.LockAware() {
			locked, err := tx.HExists(ctx, lockKey, fieldValue).Result()
			if err != nil {
				return err
			}
			if locked {
				return txn.Wrap(txn.CodeDatabaseLocked, "commit", nil)
			}
		}

		next, err := tx.Incr(ctx, c.versionKey()).Result()
		if err != nil {
			return err
		}

		_, execErr = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, m := range muts {
				key := c.kvKey(m.Key)
				if m.Clear {
					pipe.HDel(ctx, key, fieldValue)
					pipe.HSet(ctx, key, fieldVersion, next)
					continue
				}
				pipe.HSet(ctx, key, fieldValue, m.Value, fieldVersion, next)
			}
			return nil
		})
		if execErr == nil {
			version = next
		}
		return execErr
	}, watch...)

	switch {
	case err == nil:
		return version, nil
	case execErr != nil:
		return 0, classifyExec(execErr)
	default:
		return 0, classify("commit", err)
	}
}

var _ storage.Backend = (*Storage)(nil)
