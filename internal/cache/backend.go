// Package cache memoizes inference results under content-addressed keys.
//
// The cache is a soft dependency: Cache never returns errors to callers. A
// failing backend is logged and treated as a miss (Get) or a no-op (Set).
package cache

import (
	"context"
	"sync"
	"time"
)

// Backend is a key-value store with per-entry TTL. Get reports a miss with
// found=false and a nil error.
type Backend interface {
	Get(ctx context.Context, key string) (val []byte, found bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// NopBackend never stores anything.
type NopBackend struct{}

func (NopBackend) Get(context.Context, string) ([]byte, bool, error)       { return nil, false, nil }
func (NopBackend) Set(context.Context, string, []byte, time.Duration) error { return nil }

type memEntry struct {
	val     []byte
	expires time.Time
}

// MemoryBackend is an in-process TTL map. When maxEntries is positive, a Set
// that would exceed it first drops expired entries and then the entry that
// expires soonest.
type MemoryBackend struct {
	mu         sync.Mutex
	entries    map[string]memEntry
	maxEntries int
	now        func() time.Time
}

// NewMemoryBackend returns an empty MemoryBackend. maxEntries <= 0 means
// unbounded.
func NewMemoryBackend(maxEntries int) *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]memEntry), maxEntries: maxEntries, now: time.Now}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	out := make([]byte, len(e.val))
	copy(out, e.val)
	return out, true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	e := memEntry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	if _, exists := m.entries[key]; !exists && m.maxEntries > 0 && len(m.entries) >= m.maxEntries {
		m.evictLocked(now)
	}
	m.entries[key] = e
	return nil
}

func (m *MemoryBackend) evictLocked(now time.Time) {
	for k, e := range m.entries {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
	if len(m.entries) < m.maxEntries {
		return
	}
	var victim string
	var soonest time.Time
	for k, e := range m.entries {
		exp := e.expires
		if exp.IsZero() {
			exp = time.Unix(1<<62, 0)
		}
		if victim == "" || exp.Before(soonest) {
			victim, soonest = k, exp
		}
	}
	delete(m.entries, victim)
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
