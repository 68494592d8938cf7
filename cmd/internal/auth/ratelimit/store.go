package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store persists failure counters. RecordFailure must be atomic: two
// concurrent failures for the same (scope, key) must both land, never
// lost-update each other.
type Store interface {
	Get(ctx context.Context, scope, key string) (Counter, error)
	RecordFailure(ctx context.Context, policy Policy, key string, now time.Time) (Counter, error)
	Reset(ctx context.Context, scope, key string) error
	PurgeStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]Counter
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]Counter)}
}

func memKey(scope, key string) string { return scope + "\x00" + key }

// Get returns the stored counter, or a zero counter if none exists.
func (m *MemoryStore) Get(ctx context.Context, scope, key string) (Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[memKey(scope, key)], nil
}

// RecordFailure applies the same window-reset and lockout-stamping rules as
// the Postgres store, under the store mutex.
func (m *MemoryStore) RecordFailure(ctx context.Context, policy Policy, key string, now time.Time) (Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := memKey(policy.Scope, key)
	c, ok := m.counters[k]
	if !ok || !now.Before(c.WindowStart.Add(policy.Window)) {
		c = Counter{Scope: policy.Scope, Key: key, WindowStart: now}
	}
	c.Count++
	if c.Count >= policy.Max {
		c.LockedUntil = now.Add(policy.Lockout)
	}
	m.counters[k] = c
	return c, nil
}

// Reset deletes the counter for (scope, key).
func (m *MemoryStore) Reset(ctx context.Context, scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counters, memKey(scope, key))
	return nil
}

// PurgeStale deletes counters whose window and lockout both ended before
// cutoff.
func (m *MemoryStore) PurgeStale(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, c := range m.counters {
		if c.WindowStart.Before(cutoff) && (c.LockedUntil.IsZero() || c.LockedUntil.Before(cutoff)) {
			delete(m.counters, k)
			n++
		}
	}
	return n, nil
}
