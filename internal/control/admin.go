package control

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vietddude/flowcore/internal/core/future"
	"github.com/vietddude/flowcore/internal/core/retry"
	"github.com/vietddude/flowcore/internal/core/txn"
)

// Status is the database lock state.
type Status struct {
	Locked  bool   `json:"locked"`
	LockUID string `json:"lock_uid,omitempty"`
	Backend string `json:"backend"`
}

// Lock locks the database under a fresh UID and returns it. The write runs
// exactly once so a lost reply is never replayed over another admin's lock.
func (a *App) Lock(ctx context.Context) (string, error) {
	uid := uuid.NewString()
	_, err := retry.RunTransactionNoRetry(a.runner, func(tr txn.Transaction) *future.Future[struct{}] {
		txn.LockDatabase(tr, uid)
		return future.Ready(struct{}{})
	}).Await(ctx)
	if err != nil {
		return "", fmt.Errorf("lock database: %w", err)
	}
	a.log.Info("Database locked", "uid", uid)
	return uid, nil
}

// Unlock clears the database lock.
func (a *App) Unlock(ctx context.Context) error {
	_, err := retry.RunTransactionNoRetry(a.runner, func(tr txn.Transaction) *future.Future[struct{}] {
		txn.UnlockDatabase(tr)
		return future.Ready(struct{}{})
	}).Await(ctx)
	if err != nil {
		return fmt.Errorf("unlock database: %w", err)
	}
	a.log.Info("Database unlocked")
	return nil
}

// Status reads the lock state.
func (a *App) Status(ctx context.Context) (Status, error) {
	uid, err := retry.RunTransactionDebug(a.runner, "status", func(tr txn.Transaction) *future.Future[[]byte] {
		return tr.Get(txn.LockKey)
	}).Await(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("read status: %w", err)
	}
	return Status{
		Locked:  uid != nil,
		LockUID: string(uid),
		Backend: a.backend.Name(),
	}, nil
}
