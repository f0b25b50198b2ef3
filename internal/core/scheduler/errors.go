package scheduler

import "errors"

// Sentinel errors for scheduler operations
var (
	// ErrInvalidThreadCount indicates a worker count outside [MinThreads, MaxThreads]
	ErrInvalidThreadCount = errors.New("scheduler thread count out of range")

	// ErrAlreadyStarted indicates Start() was called on an already-started scheduler
	ErrAlreadyStarted = errors.New("scheduler already started")

	// ErrNilTask indicates a nil task was submitted
	ErrNilTask = errors.New("scheduler task cannot be nil")

	// ErrShutdownTimeout indicates workers did not exit before the deadline
	ErrShutdownTimeout = errors.New("timeout waiting for scheduler workers to exit")
)
