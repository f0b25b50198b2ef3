package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/vietddude/flowcore/internal/core/txn"
)

// SQLSTATE codes that mean another transaction won the race.
var conflictStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// classify maps a driver error from op onto the transaction error codes.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case conflictStates[sqlState(err)]:
		return txn.Wrap(txn.CodeNotCommitted, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return txn.Wrap(txn.CodeTransactionTimedOut, op, err)
	case errors.Is(err, context.Canceled):
		return txn.Wrap(txn.CodeTransactionCanceled, op, err)
	default:
		return txn.Wrap(txn.CodeInternalError, op, err)
	}
}

// classifyCommit is classify for the final COMMIT. A conflict reported by the
// server still means nothing was written; any other failure leaves the
// outcome unknown.
func classifyCommit(err error) error {
	switch {
	case err == nil:
		return nil
	case conflictStates[sqlState(err)]:
		return txn.Wrap(txn.CodeNotCommitted, "commit", err)
	case errors.Is(err, sql.ErrTxDone):
		return txn.Wrap(txn.CodeInternalError, "commit", err)
	default:
		return txn.Wrap(txn.CodeCommitUnknownResult, "commit", err)
	}
}
