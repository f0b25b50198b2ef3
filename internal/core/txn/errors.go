package txn

import (
	"errors"
	"fmt"
)

// Code is a database error code.
type Code int

const (
	CodeTransactionTooOld   Code = 1007
	CodeFutureVersion       Code = 1009
	CodeNotCommitted        Code = 1020
	CodeCommitUnknownResult Code = 1021
	CodeTransactionCanceled Code = 1025
	CodeTransactionTimedOut Code = 1031
	CodeProcessBehind       Code = 1037
	CodeDatabaseLocked      Code = 1038
	CodeUsedDuringCommit    Code = 2017
	CodeKeyTooLarge         Code = 2102
	CodeValueTooLarge       Code = 2103
	CodeInternalError       Code = 4100
)

var codeDescriptions = map[Code]string{
	CodeTransactionTooOld:   "transaction is too old to perform reads or be committed",
	CodeFutureVersion:       "request for future version",
	CodeNotCommitted:        "transaction not committed due to conflict with another transaction",
	CodeCommitUnknownResult: "transaction may or may not have committed",
	CodeTransactionCanceled: "operation aborted because the transaction was cancelled",
	CodeTransactionTimedOut: "operation aborted because the transaction timed out",
	CodeProcessBehind:       "storage process does not have recent mutations",
	CodeDatabaseLocked:      "database is locked",
	CodeUsedDuringCommit:    "operation issued while a commit was outstanding",
	CodeKeyTooLarge:         "key length exceeds limit",
	CodeValueTooLarge:       "value length exceeds limit",
	CodeInternalError:       "an internal error occurred",
}

// String returns the description of the code.
func (c Code) String() string {
	if d, ok := codeDescriptions[c]; ok {
		return d
	}
	return fmt.Sprintf("unknown error code %d", int(c))
}

// Error is a coded database error. Err optionally carries the backend cause.
type Error struct {
	Code Code
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s (%d)", e.Code, int(e.Code))
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the backend cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code, so the sentinels below work
// with errors.Is regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError returns a bare coded error.
func NewError(code Code) *Error {
	return &Error{Code: code}
}

// Wrap attaches a code and operation name to a backend error.
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Sentinels for errors.Is.
var (
	ErrTransactionTooOld   = NewError(CodeTransactionTooOld)
	ErrFutureVersion       = NewError(CodeFutureVersion)
	ErrNotCommitted        = NewError(CodeNotCommitted)
	ErrCommitUnknownResult = NewError(CodeCommitUnknownResult)
	ErrTransactionCanceled = NewError(CodeTransactionCanceled)
	ErrTransactionTimedOut = NewError(CodeTransactionTimedOut)
	ErrProcessBehind       = NewError(CodeProcessBehind)
	ErrDatabaseLocked      = NewError(CodeDatabaseLocked)
	ErrUsedDuringCommit    = NewError(CodeUsedDuringCommit)
	ErrKeyTooLarge         = NewError(CodeKeyTooLarge)
	ErrValueTooLarge       = NewError(CodeValueTooLarge)
	ErrInternal            = NewError(CodeInternalError)

	// ErrNotCommittedYet is returned by CommittedVersion before a successful commit.
	ErrNotCommittedYet = errors.New("transaction has not committed")
)

// Class is the retry classification of an error.
type Class int

const (
	// ClassRetryable errors are resolved by OnError and the loop continues.
	ClassRetryable Class = iota
	// ClassFatal errors terminate the loop.
	ClassFatal
	// ClassLocked is the database_locked condition. OnError retries it, but
	// callers that must not wait on a locked database short-circuit on it.
	ClassLocked
)

// String returns the string representation of Class
func (c Class) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassFatal:
		return "fatal"
	case ClassLocked:
		return "database_locked"
	default:
		return "unknown"
	}
}

var retryableCodes = map[Code]bool{
	CodeTransactionTooOld:   true,
	CodeFutureVersion:       true,
	CodeNotCommitted:        true,
	CodeCommitUnknownResult: true,
	CodeProcessBehind:       true,
	CodeDatabaseLocked:      true,
}

// CodeOf extracts the code from err, reporting false for uncoded errors.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// Classify maps err onto the retry taxonomy. Uncoded errors are fatal.
func Classify(err error) Class {
	code, ok := CodeOf(err)
	switch {
	case !ok:
		return ClassFatal
	case code == CodeDatabaseLocked:
		return ClassLocked
	case retryableCodes[code]:
		return ClassRetryable
	default:
		return ClassFatal
	}
}

// IsRetryable reports whether OnError would retry err.
func IsRetryable(err error) bool {
	return Classify(err) != ClassFatal
}

// IsDatabaseLocked reports whether err is the database_locked condition.
func IsDatabaseLocked(err error) bool {
	return Classify(err) == ClassLocked
}

// IsMaybeCommitted reports whether the commit outcome is unknown.
func IsMaybeCommitted(err error) bool {
	return errors.Is(err, ErrCommitUnknownResult)
}
