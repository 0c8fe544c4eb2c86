// Package counter defines the shared counter store used for quota
// accounting and its backends.
//
// A Store holds integer counters keyed by string with a time-to-live that is
// fixed when the key is created. IncrementAndGet must be a single atomic
// server-side operation: concurrent callers on any number of processes
// observe distinct, monotonically increasing results for the same key.
//
// Backends live in sub-packages:
//
//   - redis: the primary shared store (Lua script, one round trip)
//   - postgres: an alternate shared store (single upsert statement)
//   - memory: a process-local store for tests and development
package counter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable reports that the counter store could not answer in time.
// Every backend failure is surfaced as ErrUnavailable so the admission path
// has exactly one failure mode to handle.
var ErrUnavailable = errors.New("counter store unavailable")

// Store is the counter store client.
type Store interface {
	// IncrementAndGet atomically adds amount to key and returns the new
	// value. The TTL is applied only when the key is created. Negative
	// amounts are allowed; the stored value never drops below zero, and a
	// negative amount on a missing key is a no-op returning 0.
	IncrementAndGet(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error)

	// Get returns the current value, or 0 for a missing or expired key.
	Get(ctx context.Context, key string) (int64, error)

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// UnavailableError wraps a backend error as ErrUnavailable while keeping
// the cause for logging.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, ErrUnavailable)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrUnavailable, e.Err)
}

// Is matches ErrUnavailable.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// Unwrap returns the backend cause.
func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Unavailable wraps err as ErrUnavailable. A nil err stays nil; an error
// that is already ErrUnavailable is returned unchanged.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return &UnavailableError{Op: op, Err: err}
}

// IsUnavailable reports whether err is ErrUnavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Sweeper is implemented by backends without native key expiry. The server
// calls Sweep periodically to delete expired counters.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}
