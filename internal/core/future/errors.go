package future

import "errors"

var (
	// ErrNotReady is returned by Result on an incomplete future.
	ErrNotReady = errors.New("future not ready")
	// ErrContinuationPanic rejects a future whose mapping or producing
	// function panicked.
	ErrContinuationPanic = errors.New("future continuation panic")
)
