package postgres

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/flowcore/internal/core/future"
	"github.com/vietddude/flowcore/internal/core/retry"
	"github.com/vietddude/flowcore/internal/core/scheduler"
	"github.com/vietddude/flowcore/internal/core/txn"
)

func TestMigrations_Embedded(t *testing.T) {
	data, err := fs.ReadFile(migrations, "migrations/00001_kv.sql")
	if err != nil {
		t.Fatalf("migration not embedded: %v", err)
	}
	for _, want := range []string{"-- +goose Up", "CREATE TABLE IF NOT EXISTS kv", "kv_version_seq"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("migration missing %q", want)
		}
	}
}

func TestTransaction_BufferedReadsSkipDatabase(t *testing.T) {
	// A nil DB would panic if Get reached it.
	s := NewStorage(&DB{}, nil)
	tr, err := s.CreateTransaction()
	if err != nil {
		t.Fatal(err)
	}

	tr.Set([]byte("k"), []byte("v"))
	v, err := tr.Get([]byte("k")).Result()
	if err != nil || string(v) != "v" {
		t.Errorf("Get after Set = %q, %v", v, err)
	}

	tr.Clear([]byte("k"))
	v, err = tr.Get([]byte("k")).Result()
	if err != nil || v != nil {
		t.Errorf("Get after Clear = %q, %v", v, err)
	}
}

func TestNewStorage_Options(t *testing.T) {
	p := txn.RetryPolicy{Limit: 3}
	s := NewStorage(&DB{}, nil, WithRetryPolicy(p), WithOpTimeout(time.Second), WithOpTimeout(0))
	if s.policy.Limit != 3 {
		t.Errorf("policy = %+v, want limit 3", s.policy)
	}
	if s.opTimeout != time.Second {
		t.Errorf("opTimeout = %v, want 1s", s.opTimeout)
	}
	if s.Name() != "postgres" {
		t.Errorf("Name() = %q", s.Name())
	}
}

// Live tests run against FLOWCORE_TEST_POSTGRES_URL.
func liveStorage(t *testing.T) (*scheduler.Scheduler, *Storage) {
	t.Helper()
	url := os.Getenv("FLOWCORE_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("Skipping live postgres test. Set FLOWCORE_TEST_POSTGRES_URL to run.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := NewDB(ctx, Config{URL: url})
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if _, err := db.ExecContext(ctx, "TRUNCATE kv"); err != nil {
		t.Fatalf("truncate failed: %v", err)
	}

	s := scheduler.MustNew(4, scheduler.WithName(t.Name()))
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	st := NewStorage(db, s, WithRetryPolicy(txn.RetryPolicy{
		Backoff: txn.Backoff{InitialDelay: 5 * time.Millisecond, MaxDelay: 100 * time.Millisecond, BackoffMultiple: 2, Jitter: true},
	}))
	t.Cleanup(func() {
		s.Stop()
		s.Join()
		_ = st.Close()
	})
	return s, st
}

func TestLive_CommitAndConflict(t *testing.T) {
	_, st := liveStorage(t)
	ctx := context.Background()

	t1, _ := st.CreateTransaction()
	t2, _ := st.CreateTransaction()

	if _, err := t1.Get([]byte("k")).Await(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := t2.Get([]byte("k")).Await(ctx); err != nil {
		t.Fatal(err)
	}
	t1.Set([]byte("k"), []byte("1"))
	t2.Set([]byte("k"), []byte("2"))

	if _, err := t1.Commit().Await(ctx); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if v, err := t1.CommittedVersion(); err != nil || v <= 0 {
		t.Errorf("CommittedVersion() = %d, %v", v, err)
	}
	if _, err := t2.Commit().Await(ctx); !errors.Is(err, txn.ErrNotCommitted) {
		t.Errorf("conflicting commit = %v, want not_committed", err)
	}
}

func TestLive_LockAndRetry(t *testing.T) {
	s, st := liveStorage(t)
	r := retry.NewRunner(s, st)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := retry.RunTransactionNoRetry(r, func(tr txn.Transaction) *future.Future[struct{}] {
		txn.LockDatabase(tr, "live-test")
		return future.Ready(struct{}{})
	}).Await(ctx); err != nil {
		t.Fatalf("lock: %v", err)
	}

	_, err := retry.RunTransactionFailIfLocked(r, func(tr txn.Transaction) *future.Future[int] {
		tr.Set([]byte("k"), []byte("v"))
		return future.Ready(1)
	}).Await(ctx)
	if !errors.Is(err, txn.ErrDatabaseLocked) {
		t.Errorf("fail-if-locked = %v, want database_locked", err)
	}

	if _, err := retry.RunTransactionNoRetry(r, func(tr txn.Transaction) *future.Future[struct{}] {
		txn.UnlockDatabase(tr)
		return future.Ready(struct{}{})
	}).Await(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}
