// Package bench holds the workload pieces of flowbench: pre-generated
// inputs and the account-transfer transactions.
package bench

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrEmptyGenerator is returned when a generator is asked for no values.
var ErrEmptyGenerator = errors.New("generator needs at least one value")

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var (
	// Thread-safe random source for generated data
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// InputGenerator pre-generates n values and hands them out one by one,
// wrapping around at the end. Safe for concurrent use.
type InputGenerator[T any] struct {
	mu   sync.Mutex
	data []T
	last int
}

// NewInputGenerator calls gen n times up front.
func NewInputGenerator[T any](n int, gen func() T) (*InputGenerator[T], error) {
	if n <= 0 {
		return nil, ErrEmptyGenerator
	}
	data := make([]T, n)
	for i := range data {
		data[i] = gen()
	}
	return &InputGenerator[T]{data: data, last: -1}, nil
}

// Next returns the next value.
func (g *InputGenerator[T]) Next() T {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last++
	if g.last == len(g.data) {
		g.last = 0
	}
	return g.data[g.last]
}

// Len returns the number of distinct values.
func (g *InputGenerator[T]) Len() int {
	return len(g.data)
}

// KeyValue is a generated pair.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Key returns size random alphanumeric bytes.
func Key(size int) []byte {
	if size < 0 {
		size = 0
	}
	out := make([]byte, size)
	randMu.Lock()
	for i := range out {
		out[i] = alphabet[randSource.Intn(len(alphabet))]
	}
	randMu.Unlock()
	return out
}

// KV returns a random pair of the given sizes.
func KV(keySize, valueSize int) KeyValue {
	return KeyValue{Key: Key(keySize), Value: Key(valueSize)}
}

// Intn returns a random int in [0, n).
func Intn(n int) int {
	randMu.Lock()
	defer randMu.Unlock()
	return randSource.Intn(n)
}
