// Package lock provides the per-conversation mutual-exclusion primitive
// the batch processor holds for the duration of drain -> state machine ->
// inference -> dispatch. Acquisition is atomic set-if-not-exists with a
// TTL so a crashed holder eventually releases.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
)

const keyPrefix = "lock:session:"

// Lease is a held lock. Release must be called on every exit path.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out per-session leases. Acquire never blocks: when the
// lock is already held it returns ok=false and the caller skips with
// "already processing".
type Locker interface {
	Acquire(ctx context.Context, sessionKey string, ttl time.Duration) (Lease, bool, error)
}

// Redsync implements Locker on a redsync instance sharing the state
// store's connection pool.
type Redsync struct {
	rs *redsync.Redsync
}

// NewRedsync constructs the redis-backed locker.
func NewRedsync(rs *redsync.Redsync) *Redsync {
	return &Redsync{rs: rs}
}

func (l *Redsync) Acquire(ctx context.Context, sessionKey string, ttl time.Duration) (Lease, bool, error) {
	mutex := l.rs.NewMutex(keyPrefix+sessionKey, redsync.WithExpiry(ttl), redsync.WithTries(1))

	if err := mutex.TryLockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire lock %s: %w", sessionKey, err)
	}

	return &redsyncLease{mutex: mutex}, true, nil
}

type redsyncLease struct {
	mutex *redsync.Mutex
}

func (l *redsyncLease) Release(ctx context.Context) error {
	if _, err := l.mutex.UnlockContext(ctx); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

var _ Locker = (*Redsync)(nil)

// Memory is an in-process Locker for unit tests, honoring the same
// single-holder and TTL semantics.
type Memory struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

// NewMemory creates an in-memory locker.
func NewMemory() *Memory {
	return &Memory{
		held:  make(map[string]time.Time),
		clock: time.Now,
	}
}

func (l *Memory) Acquire(ctx context.Context, sessionKey string, ttl time.Duration) (Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if expiry, ok := l.held[sessionKey]; ok && now.Before(expiry) {
		return nil, false, nil
	}
	l.held[sessionKey] = now.Add(ttl)
	return &memoryLease{locker: l, key: sessionKey}, true, nil
}

type memoryLease struct {
	locker *Memory
	key    string
}

func (l *memoryLease) Release(ctx context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	delete(l.locker.held, l.key)
	return nil
}

var _ Locker = (*Memory)(nil)
