package store

import (
	"context"
	"sync"
	"time"
)

// Memory is the process-local Store implementation. State lives in maps
// guarded by a single mutex; TTLs are enforced lazily on access plus by an
// opportunistic sweep, so an evicted or expired entry is indistinguishable
// from one that never existed.
//
// Correct for a single instance only: two processes using separate Memory
// stores do not share reservations or presence.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	windows map[string][]time.Time
	queues  map[string][]string

	sweepN int
}

type memEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memEntry),
		windows: make(map[string][]time.Time),
		queues:  make(map[string][]string),
	}
}

func (m *Memory) expired(e memEntry, now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// sweepLocked evicts expired entries after a threshold of mutations so the
// map does not grow unboundedly under churn. Caller must hold mu.
func (m *Memory) sweepLocked(now time.Time) {
	m.sweepN++
	if m.sweepN < 5000 {
		return
	}
	m.sweepN = 0
	for k, e := range m.entries {
		if m.expired(e, now) {
			delete(m.entries, k)
		}
	}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if m.expired(e, now) {
		delete(m.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	m.entries[key] = memEntry{value: value, expiresAt: exp}
	m.sweepLocked(now)
	return nil
}

// SetNX implements Store. The check-and-set happens under the mutex, so two
// concurrent reservations for one key cannot both succeed.
func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && !m.expired(e, now) {
		return false, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	m.entries[key] = memEntry{value: value, expiresAt: exp}
	m.sweepLocked(now)
	return true, nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// WindowReserve implements Store. Pruning, counting, and recording all
// happen under the mutex, so the cap cannot be overshot by racing callers.
// Stale entries are pruned on every call, which bounds the slice by max.
func (m *Memory) WindowReserve(_ context.Context, key string, at time.Time, window time.Duration, max int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := at.Add(-window)
	kept := m.windows[key][:0]
	for _, ts := range m.windows[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	count := len(kept)
	if count >= max {
		if count == 0 {
			delete(m.windows, key)
		} else {
			m.windows[key] = kept
		}
		return count, false, nil
	}
	m.windows[key] = append(kept, at)
	return count, true, nil
}

// QueuePush implements Store.
func (m *Memory) QueuePush(_ context.Context, queue, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[queue] = append(m.queues[queue], value)
	return nil
}

// QueueDrain implements Store.
func (m *Memory) QueueDrain(_ context.Context, queue string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vals := m.queues[queue]
	delete(m.queues, queue)
	return vals, nil
}

// Ping implements Store. The in-memory backend is always reachable.
func (m *Memory) Ping(context.Context) error { return nil }

// Name implements Store.
func (m *Memory) Name() string { return "memory" }
