package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Store. It backs tests and local development and
// honors the same ErrNotFound/expiry contract as the Redis adapter.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	failing bool
	nowFn   func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		nowFn:   time.Now,
	}
}

// SetFailing toggles simulated unavailability: while failing, every
// operation returns ErrUnavailable.
func (m *Memory) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

// SetNow overrides the clock, for expiry tests.
func (m *Memory) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nowFn = now
}

func (m *Memory) live(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.nowFn().Before(e.expiresAt) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// Get returns the value for key.
func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failing {
		return "", ErrUnavailable
	}
	e, ok := m.live(key)
	if !ok {
		return "", ErrNotFound
	}
	return e.value, nil
}

// Set stores value under key.
func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failing {
		return ErrUnavailable
	}
	m.entries[key] = memoryEntry{value: value, expiresAt: m.expiry(ttl)}
	return nil
}

// Incr increments the counter at key.
func (m *Memory) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failing {
		return 0, ErrUnavailable
	}

	var n int64
	if e, ok := m.live(key); ok {
		parsed, err := strconv.ParseInt(e.value, 10, 64)
		if err == nil {
			n = parsed
		}
		n++
		m.entries[key] = memoryEntry{value: strconv.FormatInt(n, 10), expiresAt: e.expiresAt}
		return n, nil
	}

	n = 1
	m.entries[key] = memoryEntry{value: "1"}
	return n, nil
}

// Expire sets the expiry of an existing key.
func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failing {
		return ErrUnavailable
	}
	e, ok := m.live(key)
	if !ok {
		return ErrNotFound
	}
	e.expiresAt = m.expiry(ttl)
	m.entries[key] = e
	return nil
}

// Del removes keys.
func (m *Memory) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failing {
		return ErrUnavailable
	}
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

// MSet stores all entries with a shared ttl.
func (m *Memory) MSet(ctx context.Context, entries map[string]string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failing {
		return ErrUnavailable
	}
	exp := m.expiry(ttl)
	for k, v := range entries {
		m.entries[k] = memoryEntry{value: v, expiresAt: exp}
	}
	return nil
}

// Ping checks availability.
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failing {
		return ErrUnavailable
	}
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.nowFn().Add(ttl)
}
