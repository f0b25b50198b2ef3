package memory

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/flowcore/internal/core/future"
	"github.com/vietddude/flowcore/internal/core/retry"
	"github.com/vietddude/flowcore/internal/core/scheduler"
	"github.com/vietddude/flowcore/internal/core/txn"
)

var fastRetry = txn.RetryPolicy{
	Backoff: txn.Backoff{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffMultiple: 2, Jitter: true},
}

func setup(t *testing.T) (*scheduler.Scheduler, *Storage) {
	t.Helper()
	s := scheduler.MustNew(4, scheduler.WithName(t.Name()))
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		s.Stop()
		s.Join()
	})
	return s, NewStorage(s, WithRetryPolicy(fastRetry))
}

func mustCreate(t *testing.T, st *Storage) txn.Transaction {
	t.Helper()
	tr, err := st.CreateTransaction()
	if err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	return tr
}

func read(t *testing.T, tr txn.Transaction, key string) []byte {
	t.Helper()
	v, err := tr.Get([]byte(key)).Await(context.Background())
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", key, err)
	}
	return v
}

func commit(tr txn.Transaction) error {
	_, err := tr.Commit().Await(context.Background())
	return err
}

func TestTransaction_CommitAssignsVersion(t *testing.T) {
	_, st := setup(t)

	tr := mustCreate(t, st)
	tr.Set([]byte("a"), []byte("1"))
	if err := commit(tr); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	v, err := tr.CommittedVersion()
	if err != nil || v != 1 {
		t.Errorf("CommittedVersion() = %d, %v; want 1", v, err)
	}
	if got, ok := st.Lookup([]byte("a")); !ok || string(got) != "1" {
		t.Errorf("Lookup(a) = %q, %v", got, ok)
	}
}

func TestTransaction_ReadOnlyCommitVersion(t *testing.T) {
	_, st := setup(t)

	tr := mustCreate(t, st)
	read(t, tr, "missing")
	if err := commit(tr); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if v, _ := tr.CommittedVersion(); v != txn.InvalidVersion {
		t.Errorf("read-only CommittedVersion() = %d, want %d", v, txn.InvalidVersion)
	}
	if st.Version() != 0 {
		t.Errorf("read-only commit bumped store version to %d", st.Version())
	}
}

func TestTransaction_ReadYourWrites(t *testing.T) {
	_, st := setup(t)

	tr := mustCreate(t, st)
	tr.Set([]byte("k"), []byte("v"))
	if got := read(t, tr, "k"); string(got) != "v" {
		t.Errorf("Get after Set = %q, want v", got)
	}
	tr.Clear([]byte("k"))
	if got := read(t, tr, "k"); got != nil {
		t.Errorf("Get after Clear = %q, want nil", got)
	}
}

func TestTransaction_ReadConflict(t *testing.T) {
	_, st := setup(t)

	t1 := mustCreate(t, st)
	t2 := mustCreate(t, st)

	read(t, t1, "counter")
	t1.Set([]byte("counter"), []byte("1"))

	read(t, t2, "counter")
	t2.Set([]byte("counter"), []byte("1"))

	if err := commit(t1); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	if err := commit(t2); !errors.Is(err, txn.ErrNotCommitted) {
		t.Errorf("conflicting commit = %v, want not_committed", err)
	}
}

func TestTransaction_BlindWritesDoNotConflict(t *testing.T) {
	_, st := setup(t)

	t1 := mustCreate(t, st)
	t2 := mustCreate(t, st)
	t1.Set([]byte("k"), []byte("1"))
	t2.Set([]byte("k"), []byte("2"))

	if err := commit(t1); err != nil {
		t.Fatalf("commit t1: %v", err)
	}
	if err := commit(t2); err != nil {
		t.Fatalf("commit t2: %v", err)
	}
	if got, _ := st.Lookup([]byte("k")); string(got) != "2" {
		t.Errorf("last writer lost: %q", got)
	}
}

func TestTransaction_ClearConflictsWithReader(t *testing.T) {
	_, st := setup(t)

	seed := mustCreate(t, st)
	seed.Set([]byte("k"), []byte("v"))
	if err := commit(seed); err != nil {
		t.Fatal(err)
	}

	reader := mustCreate(t, st)
	read(t, reader, "k")
	reader.Set([]byte("other"), []byte("x"))

	clearer := mustCreate(t, st)
	clearer.Clear([]byte("k"))
	if err := commit(clearer); err != nil {
		t.Fatal(err)
	}

	if err := commit(reader); !errors.Is(err, txn.ErrNotCommitted) {
		t.Errorf("commit after concurrent clear = %v, want not_committed", err)
	}
}

func TestTransaction_LockedDatabase(t *testing.T) {
	_, st := setup(t)

	locker := mustCreate(t, st)
	txn.LockDatabase(locker, "uid-1")
	if err := commit(locker); err != nil {
		t.Fatalf("lock commit failed: %v", err)
	}

	plain := mustCreate(t, st)
	plain.Set([]byte("k"), []byte("v"))
	if err := commit(plain); !errors.Is(err, txn.ErrDatabaseLocked) {
		t.Errorf("commit on locked database = %v, want database_locked", err)
	}

	reader := mustCreate(t, st)
	read(t, reader, "k")
	if err := commit(reader); err != nil {
		t.Errorf("read-only commit on locked database failed: %v", err)
	}

	aware := mustCreate(t, st)
	aware.SetLockAware()
	aware.Set([]byte("k"), []byte("v"))
	if err := commit(aware); err != nil {
		t.Errorf("lock-aware commit failed: %v", err)
	}

	unlocker := mustCreate(t, st)
	txn.UnlockDatabase(unlocker)
	if err := commit(unlocker); err != nil {
		t.Fatalf("unlock commit failed: %v", err)
	}
	if _, ok := st.Lookup(txn.LockKey); ok {
		t.Error("lock key still present after unlock")
	}
}

func TestStorage_FailNextCommits(t *testing.T) {
	_, st := setup(t)
	st.FailNextCommits(2, txn.CodeCommitUnknownResult)

	for i := 0; i < 2; i++ {
		tr := mustCreate(t, st)
		tr.Set([]byte("k"), []byte("v"))
		if err := commit(tr); !errors.Is(err, txn.ErrCommitUnknownResult) {
			t.Errorf("commit %d = %v, want commit_unknown_result", i, err)
		}
	}
	tr := mustCreate(t, st)
	tr.Set([]byte("k"), []byte("v"))
	if err := commit(tr); err != nil {
		t.Errorf("commit after injected faults = %v", err)
	}
}

func TestStorage_Closed(t *testing.T) {
	_, st := setup(t)
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
	if err := st.Ping(context.Background()); err == nil {
		t.Error("Ping after Close succeeded")
	}
	if _, err := st.CreateTransaction(); err == nil {
		t.Error("CreateTransaction after Close succeeded")
	}
}

// Concurrent increments through the retry engine must not lose updates.
func TestRunTransaction_ConcurrentIncrements(t *testing.T) {
	s, st := setup(t)
	r := retry.NewRunner(s, st)

	const clients = 20
	key := []byte("counter")

	increment := func(tr txn.Transaction) *future.Future[struct{}] {
		return future.Map(s, tr.Get(key), func(v []byte) (struct{}, error) {
			n := 0
			if v != nil {
				var err error
				if n, err = strconv.Atoi(string(v)); err != nil {
					return struct{}{}, err
				}
			}
			tr.Set(key, []byte(strconv.Itoa(n+1)))
			return struct{}{}, nil
		})
	}

	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_, err := retry.RunTransactionVoid(r, increment).Await(ctx)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("increment failed: %v", err)
		}
	}
	got, _ := st.Lookup(key)
	if string(got) != strconv.Itoa(clients) {
		t.Errorf("counter = %s, want %d", got, clients)
	}
}

func TestRunTransactionFailIfLocked_MemoryLock(t *testing.T) {
	s, st := setup(t)
	r := retry.NewRunner(s, st)

	_, err := retry.RunTransactionNoRetry(r, func(tr txn.Transaction) *future.Future[struct{}] {
		txn.LockDatabase(tr, "admin")
		return future.Ready(struct{}{})
	}).Await(context.Background())
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	_, err = retry.RunTransactionFailIfLocked(r, func(tr txn.Transaction) *future.Future[int] {
		tr.Set([]byte("k"), []byte("v"))
		return future.Ready(1)
	}).Await(context.Background())
	if !errors.Is(err, txn.ErrDatabaseLocked) {
		t.Errorf("fail-if-locked on locked store = %v, want database_locked", err)
	}
}
