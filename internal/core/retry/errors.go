package retry

import "errors"

var (
	// ErrFunctionPanic indicates the user function panicked. It is fatal.
	ErrFunctionPanic = errors.New("transaction function panic")
	// ErrNilFuture indicates the user function returned a nil future.
	ErrNilFuture = errors.New("transaction function returned nil future")
)
