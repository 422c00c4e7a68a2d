// Package cache stores scrape results under a derived key with a per-entry
// TTL. The in-memory store is the default; Redis and memcached backends
// share results across instances.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/use-agent/scrapeflow/models"
)

// Store is a key to result mapping with TTL expiry.
type Store interface {
	// Get returns the result stored under key. Absent and expired
	// entries are misses.
	Get(ctx context.Context, key string) (*models.ScrapeResult, bool)

	// Put stores result under key for ttl, replacing any previous entry.
	Put(ctx context.Context, key string, result *models.ScrapeResult, ttl time.Duration) error

	// Sweep removes expired entries and returns how many were removed.
	Sweep() int

	Close() error
}

// sweepBatch bounds how many keys are deleted per write lock.
const sweepBatch = 128

// Memory is an in-memory Store. It is safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	store      map[string]*models.CacheEntry
	maxEntries int
	now        func() time.Time
}

// Option configures a Memory store.
type Option func(*Memory)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates a Memory store holding at most maxEntries results.
// A non-positive maxEntries means unbounded.
func NewMemory(maxEntries int, opts ...Option) *Memory {
	m := &Memory{
		store:      make(map[string]*models.CacheEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) (*models.ScrapeResult, bool) {
	m.mu.RLock()
	e, ok := m.store[key]
	m.mu.RUnlock()

	if !ok || e.Expired(m.now()) {
		return nil, false
	}
	return e.Result, true
}

// Put stores a result. If the store is at capacity, a random entry is
// evicted to make room.
func (m *Memory) Put(_ context.Context, key string, result *models.ScrapeResult, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Map iteration order is random in Go.
	if _, exists := m.store[key]; !exists && m.maxEntries > 0 && len(m.store) >= m.maxEntries {
		for k := range m.store {
			delete(m.store, k)
			break
		}
	}

	m.store[key] = &models.CacheEntry{
		Key:       key,
		Result:    result,
		CreatedAt: m.now(),
		TTL:       ttl,
	}
	return nil
}

// Sweep collects expired keys under the read lock and deletes them in
// small batches so readers and writers interleave with a large sweep.
func (m *Memory) Sweep() int {
	now := m.now()

	m.mu.RLock()
	var expired []string
	for k, e := range m.store {
		if e.Expired(now) {
			expired = append(expired, k)
		}
	}
	m.mu.RUnlock()

	removed := 0
	for start := 0; start < len(expired); start += sweepBatch {
		end := min(start+sweepBatch, len(expired))
		m.mu.Lock()
		for _, k := range expired[start:end] {
			// The key may have been rewritten since it was collected.
			if e, ok := m.store[k]; ok && e.Expired(now) {
				delete(m.store, k)
				removed++
			}
		}
		m.mu.Unlock()
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.store)
}

func (m *Memory) Close() error { return nil }
