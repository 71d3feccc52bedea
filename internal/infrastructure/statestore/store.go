// Package statestore provides the shared fast key/value store the engine
// coordinates through. Only the atomic primitives the batching pipeline
// needs are exposed: set-if-not-exists with TTL, list push/drain, set add
// and hash field operations.
package statestore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("statestore: key not found")

// ErrUnavailable wraps transport-level failures. Callers must fail closed:
// skipping deduplication or locking because the store is down directly
// causes double replies.
var ErrUnavailable = errors.New("statestore: unavailable")

// Store is the contract every backend must honor. SetNX is the single
// source of truth for races on both the idempotency guard and the batch
// window, so implementations must make it atomic.
type Store interface {
	// SetNX sets key to value with a TTL only if the key does not exist.
	// Returns true when this call created the key.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set unconditionally writes key with an optional TTL (0 = no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Del removes a key. Missing keys are not an error.
	Del(ctx context.Context, key string) error

	// RPush appends values to the list at key.
	RPush(ctx context.Context, key string, values ...string) error

	// LPush prepends values to the list at key (first value ends up first).
	LPush(ctx context.Context, key string, values ...string) error

	// Drain atomically reads and deletes the whole list at key.
	// An empty or missing list yields a nil slice and no error.
	Drain(ctx context.Context, key string) ([]string, error)

	// LLen returns the length of the list at key.
	LLen(ctx context.Context, key string) (int64, error)

	// SAdd adds members to the set at key.
	SAdd(ctx context.Context, key string, members ...string) error

	// SMembers returns all members of the set at key.
	SMembers(ctx context.Context, key string) ([]string, error)

	// HSet writes hash fields at key.
	HSet(ctx context.Context, key string, fields map[string]string) error

	// HGetAll returns all hash fields at key. A missing key yields an
	// empty map.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error
}
