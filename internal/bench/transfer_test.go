package bench

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/flowcore/internal/core/future"
	"github.com/vietddude/flowcore/internal/core/retry"
	"github.com/vietddude/flowcore/internal/core/scheduler"
	"github.com/vietddude/flowcore/internal/infra/storage/memory"
)

func setup(t *testing.T) (*scheduler.Scheduler, *memory.Storage, *retry.Runner) {
	t.Helper()
	s := scheduler.MustNew(4, scheduler.WithName(t.Name()))
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		s.Stop()
		s.Join()
	})
	st := memory.NewStorage(s)
	return s, st, retry.NewRunner(s, st)
}

func await[R any](t *testing.T, f *future.Future[R]) R {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	v, err := f.Await(ctx)
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	return v
}

func TestDecodeBalance(t *testing.T) {
	if v, err := DecodeBalance(nil); err != nil || v != 0 {
		t.Errorf("DecodeBalance(nil) = %d, %v", v, err)
	}
	if v, err := DecodeBalance(EncodeBalance(-42)); err != nil || v != -42 {
		t.Errorf("round trip = %d, %v", v, err)
	}
	if _, err := DecodeBalance([]byte("12x")); !errors.Is(err, ErrCorruptBalance) {
		t.Errorf("DecodeBalance(12x) error = %v", err)
	}
}

func TestTransfer_MovesFunds(t *testing.T) {
	s, _, r := setup(t)
	await(t, retry.RunTransactionVoid(r, Seed(2, 100)))

	moved := await(t, retry.RunTransaction(r, Transfer(s, Pair{From: 0, To: 1}, 30)))
	if moved != 30 {
		t.Errorf("moved = %d, want 30", moved)
	}

	moved = await(t, retry.RunTransaction(r, Transfer(s, Pair{From: 0, To: 1}, 500)))
	if moved != 70 {
		t.Errorf("moved = %d, want the remaining 70", moved)
	}

	if total := await(t, retry.RunTransaction(r, Total(s, 2))); total != 200 {
		t.Errorf("total = %d, want 200", total)
	}
}

func TestTransfer_ConcurrentConservesTotal(t *testing.T) {
	s, _, r := setup(t)
	const accounts = 4
	await(t, retry.RunTransactionVoid(r, Seed(accounts, 1000)))

	futures := make([]*future.Future[int64], 100)
	for i := range futures {
		futures[i] = retry.RunTransaction(r, Transfer(s, RandomPair(accounts), 7))
	}
	for _, f := range futures {
		await(t, f)
	}

	if total := await(t, retry.RunTransactionDebug(r, "checkTotal", Total(s, accounts))); total != accounts*1000 {
		t.Errorf("total = %d, want %d", total, accounts*1000)
	}
}
