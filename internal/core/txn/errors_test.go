package txn

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		expect Class
	}{
		{NewError(CodeNotCommitted), ClassRetryable},
		{NewError(CodeTransactionTooOld), ClassRetryable},
		{NewError(CodeFutureVersion), ClassRetryable},
		{NewError(CodeCommitUnknownResult), ClassRetryable},
		{NewError(CodeProcessBehind), ClassRetryable},
		{NewError(CodeDatabaseLocked), ClassLocked},
		{NewError(CodeTransactionTimedOut), ClassFatal},
		{NewError(CodeTransactionCanceled), ClassFatal},
		{NewError(CodeKeyTooLarge), ClassFatal},
		{NewError(CodeInternalError), ClassFatal},
		{errors.New("connection reset by peer"), ClassFatal},
		{fmt.Errorf("commit: %w", NewError(CodeNotCommitted)), ClassRetryable},
		{fmt.Errorf("outer: %w", Wrap(CodeDatabaseLocked, "commit", errors.New("lock row present"))), ClassLocked},
	}

	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.expect {
			t.Errorf("Classify(%q) = %v, want %v", tt.err, got, tt.expect)
		}
	}
}

func TestIsRetryable_LockedIsRetryable(t *testing.T) {
	err := NewError(CodeDatabaseLocked)
	if !IsRetryable(err) {
		t.Error("database_locked should be retryable by OnError")
	}
	if !IsDatabaseLocked(err) {
		t.Error("IsDatabaseLocked() = false for database_locked")
	}
	if IsDatabaseLocked(NewError(CodeNotCommitted)) {
		t.Error("IsDatabaseLocked() = true for not_committed")
	}
}

func TestError_IsMatchesByCode(t *testing.T) {
	cause := errors.New("pq: could not serialize access")
	err := fmt.Errorf("attempt 3: %w", Wrap(CodeNotCommitted, "commit", cause))

	if !errors.Is(err, ErrNotCommitted) {
		t.Error("errors.Is(err, ErrNotCommitted) = false")
	}
	if errors.Is(err, ErrDatabaseLocked) {
		t.Error("errors.Is(err, ErrDatabaseLocked) = true")
	}
	if !errors.Is(err, cause) {
		t.Error("cause lost through Wrap")
	}
	if code, ok := CodeOf(err); !ok || code != CodeNotCommitted {
		t.Errorf("CodeOf() = %v, %v", code, ok)
	}
}

func TestError_Message(t *testing.T) {
	err := Wrap(CodeDatabaseLocked, "commit", errors.New("lock held by admin"))
	want := "commit: database is locked (1038): lock held by admin"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if got := Code(1).String(); got != "unknown error code 1" {
		t.Errorf("Code(1).String() = %q", got)
	}
}

func TestIsMaybeCommitted(t *testing.T) {
	if !IsMaybeCommitted(Wrap(CodeCommitUnknownResult, "commit", nil)) {
		t.Error("IsMaybeCommitted() = false for commit_unknown_result")
	}
	if IsMaybeCommitted(NewError(CodeNotCommitted)) {
		t.Error("IsMaybeCommitted() = true for not_committed")
	}
}
