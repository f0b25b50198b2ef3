package control

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/flowcore/internal/bench"
	"github.com/vietddude/flowcore/internal/core/future"
	"github.com/vietddude/flowcore/internal/core/retry"
	"github.com/vietddude/flowcore/internal/core/txn"
)

// ErrTotalMismatch means the sum of balances changed during the run.
var ErrTotalMismatch = errors.New("account total changed")

const transferAmount = 10

// Report summarises a bench run.
type Report struct {
	Mode        string        `json:"mode"`
	Clients     int           `json:"clients"`
	Committed   int64         `json:"committed"`
	Failed      int64         `json:"failed"`
	Locked      int64         `json:"locked"`
	Moved       int64         `json:"moved"`
	TotalBefore int64         `json:"total_before"`
	TotalAfter  int64         `json:"total_after"`
	Duration    time.Duration `json:"duration"`
}

// Throughput is committed transactions per second.
func (r Report) Throughput() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Committed) / r.Duration.Seconds()
}

// RunBench seeds the accounts, runs the transfer workload from every client
// concurrently and checks that the total balance is unchanged.
func (a *App) RunBench(ctx context.Context) (Report, error) {
	cfg := a.cfg.Bench
	report := Report{Mode: cfg.Mode, Clients: cfg.Clients}

	if _, err := retry.RunTransactionVoid(a.runner, bench.Seed(cfg.Accounts, cfg.InitialBalance)).Await(ctx); err != nil {
		return report, fmt.Errorf("seed accounts: %w", err)
	}
	before, err := retry.RunTransactionDebug(a.runner, "totalBefore", bench.Total(a.sched, cfg.Accounts)).Await(ctx)
	if err != nil {
		return report, fmt.Errorf("read total: %w", err)
	}
	report.TotalBefore = before

	pairs, err := bench.NewInputGenerator(pairPoolSize(cfg.Accounts), func() bench.Pair {
		return bench.RandomPair(cfg.Accounts)
	})
	if err != nil {
		return report, err
	}

	var committed, failed, locked, moved atomic.Int64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for c := 0; c < cfg.Clients; c++ {
		g.Go(func() error {
			for i := 0; i < cfg.Transactions; i++ {
				fn := bench.Transfer(a.sched, pairs.Next(), transferAmount)
				n, err := a.transfer(fn).Await(gctx)
				switch {
				case err == nil:
					committed.Add(1)
					moved.Add(n)
				case gctx.Err() != nil:
					return gctx.Err()
				case txn.IsDatabaseLocked(err):
					locked.Add(1)
				default:
					failed.Add(1)
					a.log.Debug("Transfer failed", "error", err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	report.Duration = time.Since(start)
	report.Committed = committed.Load()
	report.Failed = failed.Load()
	report.Locked = locked.Load()
	report.Moved = moved.Load()

	after, err := retry.RunTransactionDebug(a.runner, "totalAfter", bench.Total(a.sched, cfg.Accounts)).Await(ctx)
	if err != nil {
		return report, fmt.Errorf("read total: %w", err)
	}
	report.TotalAfter = after
	if after != before {
		return report, fmt.Errorf("%w: %d -> %d", ErrTotalMismatch, before, after)
	}

	a.log.Info("Bench finished",
		"mode", report.Mode,
		"committed", report.Committed,
		"failed", report.Failed,
		"locked", report.Locked,
		"duration", report.Duration,
		"tps", fmt.Sprintf("%.1f", report.Throughput()),
	)
	return report, nil
}

func (a *App) transfer(fn retry.Func[int64]) *future.Future[int64] {
	switch retry.Variant(a.cfg.Bench.Mode) {
	case retry.VariantDebug:
		return retry.RunTransactionDebug(a.runner, "transfer", fn)
	case retry.VariantFailIfLocked:
		return retry.RunTransactionFailIfLocked(a.runner, fn)
	case retry.VariantNoRetry:
		return retry.RunTransactionNoRetry(a.runner, fn)
	default:
		return retry.RunTransaction(a.runner, fn)
	}
}

// maxPairPool bounds the pre-generated transfer pairs; Next wraps around.
const maxPairPool = 1 << 16

// pairPoolSize is accounts², capped at maxPairPool.
func pairPoolSize(accounts int) int {
	if accounts > 0 && accounts <= maxPairPool/accounts {
		return accounts * accounts
	}
	return maxPairPool
}
