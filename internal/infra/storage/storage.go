// Package storage holds what the transaction backends have in common: the
// Backend contract, value size limits, and the per-handle write buffer.
package storage

import (
	"context"
	"errors"

	"github.com/vietddude/flowcore/internal/core/txn"
)

const (
	// MaxKeySize is the largest key a transaction may write.
	MaxKeySize = 10_000
	// MaxValueSize is the largest value a transaction may write.
	MaxValueSize = 100_000
)

var (
	// ErrUnknownBackend is returned for an unrecognised storage.backend setting
	ErrUnknownBackend = errors.New("unknown storage backend")
	// ErrClosed is returned when a backend is used after Close
	ErrClosed = errors.New("storage closed")
)

// Backend is a transactional key-value store the retry engine can drive.
type Backend interface {
	txn.Database

	// Name identifies the backend in logs and metrics
	Name() string

	// Ping checks the backend is reachable
	Ping(ctx context.Context) error

	// Close releases connections held by the backend
	Close() error
}
