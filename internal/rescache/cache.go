// Package rescache provides an in-memory cache for expensive-to-construct
// resources (vector indexes, full-text indexes) bounded by an estimated size
// budget and a TTL, with LRU eviction and per-key load deduplication.
package rescache

import (
	"context"
	"sync"
	"time"

	"repolens/internal/core"
)

// Loader produces the value to cache on a miss. It is supplied by the caller
// and may be slow (disk reads, index deserialization). Loaders must honor ctx.
type Loader[V any] func(ctx context.Context) (V, error)

// Config holds the settings for one cache instance.
type Config[V any] struct {
	// Name labels the instance in metrics and stats (e.g. "vector", "fulltext").
	Name string

	// TTL is the maximum age of an entry. An older entry is treated as a miss.
	TTL time.Duration

	// MaxSizeMB is the estimated-size budget. After every insert the cache
	// evicts least-recently-accessed entries until the total is within budget
	// or only one entry remains. Equality with the budget does not evict.
	MaxSizeMB int

	// Stale, when set, is consulted on every hit. If it reports true for the
	// entry's key and load time, the hit is treated as a miss and the value is
	// reloaded. Used when the backing index files can change on disk.
	Stale func(key string, loadedAt time.Time) bool

	// OnEvict, when set, is called after an entry leaves the cache for any
	// reason (eviction, invalidation, replacement, TTL removal). It runs
	// outside the cache lock.
	OnEvict func(key string, value V)
}

// Stats is a point-in-time snapshot of one cache instance.
type Stats struct {
	HitCount      int64 `json:"hit_count"`
	MissCount     int64 `json:"miss_count"`
	EvictionCount int64 `json:"eviction_count"`
	EntryCount    int   `json:"entry_count"`
	TotalMemoryMB int   `json:"total_memory_mb"`
}

type entry[V any] struct {
	value          V
	createdAt      time.Time
	lastAccessedAt time.Time
	sizeMB         int
}

// Cache is a size+TTL-bounded LRU cache with per-key load deduplication.
// The zero value is not usable; construct instances with New.
type Cache[V any] struct {
	cfg      Config[V]
	estimate func(key string, v V) int
	locks    *lockTable

	mu        sync.Mutex
	entries   map[string]*entry[V]
	totalMB   int
	hits      int64
	misses    int64
	evictions int64

	now func() time.Time
}

// New creates a cache. estimate maps a loaded value to its footprint in MB;
// it is called once per successful load.
func New[V any](cfg Config[V], estimate func(key string, v V) int) (*Cache[V], error) {
	if cfg.Name == "" {
		return nil, core.NewConfigurationError("cache name is required")
	}
	if cfg.TTL <= 0 {
		return nil, core.NewConfigurationError("cache TTL must be positive")
	}
	if cfg.MaxSizeMB < 0 {
		return nil, core.NewConfigurationError("cache size budget must not be negative")
	}
	if estimate == nil {
		return nil, core.NewConfigurationError("size estimator is required")
	}
	return &Cache[V]{
		cfg:      cfg,
		estimate: estimate,
		locks:    newLockTable(),
		entries:  make(map[string]*entry[V]),
		now:      time.Now,
	}, nil
}

// GetOrLoad returns the cached value for key, loading it via load on a miss.
// Concurrent calls for the same key invoke load at most once; calls for
// different keys never block each other. A loader error is propagated
// unchanged and nothing is cached.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load Loader[V]) (V, error) {
	// Fast path: no per-key lock needed for a fresh entry.
	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	// Slow path: serialize loads for this key. The per-key mutex lives in a
	// sharded table and is never removed, so two callers for the same key
	// always contend on the same mutex.
	keyLock := c.locks.get(key)
	keyLock.Lock()
	defer keyLock.Unlock()

	// Another caller may have populated the entry while we waited.
	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	var zero V
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	missesTotal.WithLabelValues(c.cfg.Name).Inc()

	value, err := load(ctx)
	if err != nil {
		// Never cache a failed load; the caller decides whether to retry.
		return zero, err
	}

	c.admit(key, value)
	return value, nil
}

// lookup returns the cached value for key if present and fresh, updating the
// access time and hit count. An expired or stale entry is removed here (size
// reclaimed, eviction count untouched) and reported as a miss.
func (c *Cache[V]) lookup(key string) (V, bool) {
	var zero V
	var evicted []func()

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return zero, false
	}

	now := c.now()
	if now.Sub(e.createdAt) >= c.cfg.TTL {
		c.removeLocked(key, e, &evicted)
		c.mu.Unlock()
		runCallbacks(evicted)
		return zero, false
	}

	e.lastAccessedAt = now
	v := e.value
	createdAt := e.createdAt
	c.mu.Unlock()

	// The staleness check may hit the filesystem, so it runs outside c.mu;
	// otherwise one key's check would stall hits on every other key.
	if c.cfg.Stale != nil && c.cfg.Stale(key, createdAt) {
		c.mu.Lock()
		// Remove only the entry that was checked. A concurrent reload may
		// already have replaced it with a fresh one.
		if cur, ok := c.entries[key]; ok && cur.createdAt.Equal(createdAt) {
			c.removeLocked(key, cur, &evicted)
		}
		c.mu.Unlock()
		runCallbacks(evicted)
		return zero, false
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()

	hitsTotal.WithLabelValues(c.cfg.Name).Inc()
	return v, true
}

// admit inserts or replaces the entry for key and evicts until the size
// budget holds, never evicting the entry just inserted.
func (c *Cache[V]) admit(key string, value V) {
	sizeMB := c.estimate(key, value)
	if sizeMB < 0 {
		sizeMB = 0
	}

	var evicted []func()

	c.mu.Lock()
	if old, ok := c.entries[key]; ok {
		c.removeLocked(key, old, &evicted)
	}

	now := c.now()
	c.entries[key] = &entry[V]{
		value:          value,
		createdAt:      now,
		lastAccessedAt: now,
		sizeMB:         sizeMB,
	}
	c.totalMB += sizeMB

	for c.totalMB > c.cfg.MaxSizeMB && len(c.entries) > 1 {
		victim := c.victimLocked(key)
		if victim == "" {
			break
		}
		c.removeLocked(victim, c.entries[victim], &evicted)
		c.evictions++
		evictionsTotal.WithLabelValues(c.cfg.Name).Inc()
	}

	c.updateGaugesLocked()
	c.mu.Unlock()

	runCallbacks(evicted)
}

// victimLocked picks the entry with the smallest lastAccessedAt (ties broken
// by smallest createdAt), excluding the key that was just inserted.
func (c *Cache[V]) victimLocked(exclude string) string {
	var victim string
	var victimEntry *entry[V]
	for k, e := range c.entries {
		if k == exclude {
			continue
		}
		if victimEntry == nil ||
			e.lastAccessedAt.Before(victimEntry.lastAccessedAt) ||
			(e.lastAccessedAt.Equal(victimEntry.lastAccessedAt) && e.createdAt.Before(victimEntry.createdAt)) {
			victim = k
			victimEntry = e
		}
	}
	return victim
}

// removeLocked deletes the entry and queues its OnEvict callback. The caller
// holds c.mu and runs the queued callbacks after releasing it.
func (c *Cache[V]) removeLocked(key string, e *entry[V], evicted *[]func()) {
	delete(c.entries, key)
	c.totalMB -= e.sizeMB
	if c.cfg.OnEvict != nil {
		onEvict, value := c.cfg.OnEvict, e.value
		*evicted = append(*evicted, func() { onEvict(key, value) })
	}
	c.updateGaugesLocked()
}

// Invalidate removes the entry for key immediately, reporting whether one was
// present. Invalidation is not counted as an eviction.
func (c *Cache[V]) Invalidate(key string) bool {
	var evicted []func()

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		c.removeLocked(key, e, &evicted)
	}
	c.mu.Unlock()

	runCallbacks(evicted)
	return ok
}

// Stats returns a thread-safe snapshot of the counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		HitCount:      c.hits,
		MissCount:     c.misses,
		EvictionCount: c.evictions,
		EntryCount:    len(c.entries),
		TotalMemoryMB: c.totalMB,
	}
}

func (c *Cache[V]) updateGaugesLocked() {
	entriesGauge.WithLabelValues(c.cfg.Name).Set(float64(len(c.entries)))
	memoryGauge.WithLabelValues(c.cfg.Name).Set(float64(c.totalMB))
}

func runCallbacks(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
