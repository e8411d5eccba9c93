// Package store provides the shared key/value store used for rate limit
// counters, distributed circuit state, and route mirroring.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the key does not exist.
	ErrNotFound = errors.New("store: key not found")
	// ErrUnavailable indicates the store could not be reached.
	ErrUnavailable = errors.New("store: unavailable")
)

// Store is the shared-store port. Implementations must treat a missing key
// as ErrNotFound and any I/O fault as ErrUnavailable so callers can apply
// their per-call fail-open or fail-local policy.
type Store interface {
	// Get returns the value for key.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Incr atomically increments the integer counter at key and returns
	// the new value. A missing key counts from zero.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets the expiry of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Del removes the given keys.
	Del(ctx context.Context, keys ...string) error

	// MSet stores all entries in a single atomic multi-op, each with ttl.
	MSet(ctx context.Context, entries map[string]string, ttl time.Duration) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// IsUnavailable reports whether err represents a store connectivity fault.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
