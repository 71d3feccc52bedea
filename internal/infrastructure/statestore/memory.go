package statestore

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store used in unit tests. It honors the same
// atomic-primitive contract as the redis backend, including TTL expiry.
type Memory struct {
	mu     sync.Mutex
	values map[string]memoryValue
	lists  map[string][]string
	sets   map[string]map[string]struct{}
	hashes map[string]map[string]string

	// Now allows tests to control the clock. Defaults to time.Now.
	Now func() time.Time

	// Fail makes every operation return ErrUnavailable, simulating a
	// store outage.
	Fail bool
}

type memoryValue struct {
	value     string
	expiresAt time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[string]memoryValue),
		lists:  make(map[string][]string),
		sets:   make(map[string]map[string]struct{}),
		hashes: make(map[string]map[string]string),
		Now:    time.Now,
	}
}

func (m *Memory) expired(v memoryValue) bool {
	return !v.expiresAt.IsZero() && m.Now().After(v.expiresAt)
}

func (m *Memory) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return false, ErrUnavailable
	}

	if existing, ok := m.values[key]; ok && !m.expired(existing) {
		return false, nil
	}

	m.values[key] = memoryValue{value: value, expiresAt: expiry(m.Now(), ttl)}
	return true, nil
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return "", ErrUnavailable
	}

	v, ok := m.values[key]
	if !ok || m.expired(v) {
		return "", ErrNotFound
	}
	return v.value, nil
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return ErrUnavailable
	}

	m.values[key] = memoryValue{value: value, expiresAt: expiry(m.Now(), ttl)}
	return nil
}

func (m *Memory) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return ErrUnavailable
	}

	delete(m.values, key)
	delete(m.lists, key)
	delete(m.sets, key)
	delete(m.hashes, key)
	return nil
}

func (m *Memory) RPush(ctx context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return ErrUnavailable
	}

	m.lists[key] = append(m.lists[key], values...)
	return nil
}

func (m *Memory) LPush(ctx context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return ErrUnavailable
	}

	m.lists[key] = append(append([]string{}, values...), m.lists[key]...)
	return nil
}

func (m *Memory) Drain(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return nil, ErrUnavailable
	}

	items := m.lists[key]
	delete(m.lists, key)
	if len(items) == 0 {
		return nil, nil
	}
	return items, nil
}

func (m *Memory) LLen(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return 0, ErrUnavailable
	}

	return int64(len(m.lists[key])), nil
}

func (m *Memory) SAdd(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return ErrUnavailable
	}

	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	return nil
}

func (m *Memory) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return nil, ErrUnavailable
	}

	members := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		members = append(members, member)
	}
	return members, nil
}

func (m *Memory) HSet(ctx context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return ErrUnavailable
	}

	hash, ok := m.hashes[key]
	if !ok {
		hash = make(map[string]string)
		m.hashes[key] = hash
	}
	for k, v := range fields {
		hash[k] = v
	}
	return nil
}

func (m *Memory) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return nil, ErrUnavailable
	}

	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	if m.Fail {
		return ErrUnavailable
	}
	return nil
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

var _ Store = (*Memory)(nil)
