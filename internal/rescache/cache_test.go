package rescache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestCache(t *testing.T, cfg Config[string], estimate func(string, string) int) *Cache[string] {
	t.Helper()
	if estimate == nil {
		estimate = func(string, string) int { return 1 }
	}
	c, err := New[string](cfg, estimate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func staticLoader(v string) Loader[string] {
	return func(context.Context) (string, error) { return v, nil }
}

func TestNewValidation(t *testing.T) {
	estimate := func(string, string) int { return 1 }

	tests := []struct {
		name string
		cfg  Config[string]
	}{
		{"missing name", Config[string]{TTL: time.Minute, MaxSizeMB: 10}},
		{"zero ttl", Config[string]{Name: "vector", MaxSizeMB: 10}},
		{"negative ttl", Config[string]{Name: "vector", TTL: -time.Second, MaxSizeMB: 10}},
		{"negative budget", Config[string]{Name: "vector", TTL: time.Minute, MaxSizeMB: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New[string](tt.cfg, estimate); err == nil {
				t.Fatal("expected configuration error, got nil")
			}
		})
	}

	t.Run("nil estimator", func(t *testing.T) {
		if _, err := New[string](Config[string]{Name: "vector", TTL: time.Minute, MaxSizeMB: 10}, nil); err == nil {
			t.Fatal("expected configuration error, got nil")
		}
	})
}

func TestGetOrLoad_HitAndMiss(t *testing.T) {
	c := newTestCache(t, Config[string]{Name: "t", TTL: time.Minute, MaxSizeMB: 10}, nil)
	ctx := context.Background()

	var calls int
	loader := func(context.Context) (string, error) {
		calls++
		return "value", nil
	}

	v, err := c.GetOrLoad(ctx, "repo-a", loader)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "value" {
		t.Errorf("expected value, got %q", v)
	}

	// Second call is a hit; the loader must not run again.
	if _, err := c.GetOrLoad(ctx, "repo-a", loader); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 loader call, got %d", calls)
	}

	stats := c.Stats()
	if stats.HitCount != 1 || stats.MissCount != 1 {
		t.Errorf("expected 1 hit / 1 miss, got %d / %d", stats.HitCount, stats.MissCount)
	}
	if stats.EntryCount != 1 || stats.TotalMemoryMB != 1 {
		t.Errorf("expected 1 entry of 1 MB, got %d entries / %d MB", stats.EntryCount, stats.TotalMemoryMB)
	}
}

func TestGetOrLoad_SizeBudgetInvariant(t *testing.T) {
	const budget = 10
	c := newTestCache(t, Config[string]{Name: "t", TTL: time.Minute, MaxSizeMB: budget},
		func(string, string) int { return 3 })
	ctx := context.Background()

	keys := []string{"a", "b", "c", "d", "e", "f", "g"}
	for _, key := range keys {
		if _, err := c.GetOrLoad(ctx, key, staticLoader("v")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		stats := c.Stats()
		if stats.EntryCount > 1 && stats.TotalMemoryMB > budget {
			t.Fatalf("budget violated after inserting %q: %d MB > %d MB", key, stats.TotalMemoryMB, budget)
		}
	}
}

func TestGetOrLoad_NoEvictionAtExactBudget(t *testing.T) {
	c := newTestCache(t, Config[string]{Name: "t", TTL: time.Minute, MaxSizeMB: 10},
		func(string, string) int { return 5 })
	ctx := context.Background()

	_, _ = c.GetOrLoad(ctx, "a", staticLoader("v"))
	_, _ = c.GetOrLoad(ctx, "b", staticLoader("v"))

	stats := c.Stats()
	if stats.EvictionCount != 0 {
		t.Errorf("expected no eviction at exact budget, got %d", stats.EvictionCount)
	}
	if stats.EntryCount != 2 || stats.TotalMemoryMB != 10 {
		t.Errorf("expected 2 entries / 10 MB, got %d / %d", stats.EntryCount, stats.TotalMemoryMB)
	}
}

func TestGetOrLoad_EvictsLeastRecentlyAccessed(t *testing.T) {
	c := newTestCache(t, Config[string]{Name: "t", TTL: time.Minute, MaxSizeMB: 10},
		func(string, string) int { return 4 })
	ctx := context.Background()

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	_, _ = c.GetOrLoad(ctx, "old", staticLoader("v"))
	clock = clock.Add(time.Second)
	_, _ = c.GetOrLoad(ctx, "mid", staticLoader("v"))

	// Touch "old" so "mid" becomes the least recently accessed.
	clock = clock.Add(time.Second)
	if _, err := c.GetOrLoad(ctx, "old", staticLoader("v")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Inserting a third 4 MB entry pushes the total to 12 MB and must evict "mid".
	clock = clock.Add(time.Second)
	_, _ = c.GetOrLoad(ctx, "new", staticLoader("v"))

	c.mu.Lock()
	_, oldPresent := c.entries["old"]
	_, midPresent := c.entries["mid"]
	_, newPresent := c.entries["new"]
	c.mu.Unlock()

	if midPresent {
		t.Error("expected least-recently-accessed entry to be evicted")
	}
	if !oldPresent || !newPresent {
		t.Error("touched and just-inserted entries must survive eviction")
	}
	if got := c.Stats().EvictionCount; got != 1 {
		t.Errorf("expected 1 eviction, got %d", got)
	}
}

func TestGetOrLoad_NeverEvictsJustInserted(t *testing.T) {
	// A single entry larger than the budget stays cached.
	c := newTestCache(t, Config[string]{Name: "t", TTL: time.Minute, MaxSizeMB: 10},
		func(string, string) int { return 100 })
	ctx := context.Background()

	if _, err := c.GetOrLoad(ctx, "huge", staticLoader("v")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := c.Stats()
	if stats.EntryCount != 1 {
		t.Errorf("oversized entry must remain when alone, got %d entries", stats.EntryCount)
	}
	if stats.EvictionCount != 0 {
		t.Errorf("expected no evictions, got %d", stats.EvictionCount)
	}
}

func TestGetOrLoad_LoadDeduplication(t *testing.T) {
	c := newTestCache(t, Config[string]{Name: "t", TTL: time.Minute, MaxSizeMB: 100}, nil)
	ctx := context.Background()

	var calls atomic.Int64
	loader := func(context.Context) (string, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return "value", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrLoad(ctx, "shared", loader)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if v != "value" {
				t.Errorf("expected value, got %q", v)
			}
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("expected loader to run exactly once, ran %d times", got)
	}
}

func TestGetOrLoad_DifferentKeysDoNotBlock(t *testing.T) {
	c := newTestCache(t, Config[string]{Name: "t", TTL: time.Minute, MaxSizeMB: 100}, nil)
	ctx := context.Background()

	slowStarted := make(chan struct{})
	slowRelease := make(chan struct{})
	go func() {
		_, _ = c.GetOrLoad(ctx, "slow", func(context.Context) (string, error) {
			close(slowStarted)
			<-slowRelease
			return "slow", nil
		})
	}()
	<-slowStarted

	// A load for a different key must complete while "slow" is still loading.
	done := make(chan struct{})
	go func() {
		_, _ = c.GetOrLoad(ctx, "fast", staticLoader("fast"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("load for an unrelated key blocked behind an in-flight load")
	}
	close(slowRelease)
}

func TestGetOrLoad_TTLExpiryReloads(t *testing.T) {
	c := newTestCache(t, Config[string]{Name: "t", TTL: time.Minute, MaxSizeMB: 10}, nil)
	ctx := context.Background()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := t0
	c.now = func() time.Time { return clock }

	var calls int
	loader := func(context.Context) (string, error) {
		calls++
		return "value", nil
	}

	_, _ = c.GetOrLoad(ctx, "repo", loader)
	hitsBefore := c.Stats().HitCount

	// 61 seconds later the entry is past its 1 minute TTL.
	clock = t0.Add(61 * time.Second)
	if _, err := c.GetOrLoad(ctx, "repo", loader); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls != 2 {
		t.Errorf("expected a fresh loader call after TTL expiry, got %d calls", calls)
	}
	if got := c.Stats().HitCount; got != hitsBefore {
		t.Errorf("expired access must not count as a hit: %d -> %d", hitsBefore, got)
	}
	if got := c.Stats().EvictionCount; got != 0 {
		t.Errorf("TTL removal must not count as eviction, got %d", got)
	}
}

func TestGetOrLoad_LoaderErrorNotCached(t *testing.T) {
	c := newTestCache(t, Config[string]{Name: "t", TTL: time.Minute, MaxSizeMB: 10}, nil)
	ctx := context.Background()

	loadErr := errors.New("index file missing")
	var calls int
	failing := func(context.Context) (string, error) {
		calls++
		return "", loadErr
	}

	if _, err := c.GetOrLoad(ctx, "broken", failing); !errors.Is(err, loadErr) {
		t.Fatalf("expected loader error propagated unchanged, got %v", err)
	}
	if got := c.Stats().EntryCount; got != 0 {
		t.Errorf("failed load must not leave an entry, got %d", got)
	}

	// The next call retries; the failure was not cached.
	_, _ = c.GetOrLoad(ctx, "broken", failing)
	if calls != 2 {
		t.Errorf("expected 2 loader calls, got %d", calls)
	}
}

func TestGetOrLoad_CanceledContext(t *testing.T) {
	c := newTestCache(t, Config[string]{Name: "t", TTL: time.Minute, MaxSizeMB: 10}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.GetOrLoad(ctx, "repo", staticLoader("v")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The per-key lock must have been released.
	done := make(chan struct{})
	go func() {
		_, _ = c.GetOrLoad(context.Background(), "repo", staticLoader("v"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("per-key lock leaked after canceled load")
	}
}

func TestGetOrLoad_StaleCheckForcesReload(t *testing.T) {
	stale := false
	c := newTestCache(t, Config[string]{
		Name:      "t",
		TTL:       time.Hour,
		MaxSizeMB: 10,
		Stale:     func(string, time.Time) bool { return stale },
	}, nil)
	ctx := context.Background()

	var calls int
	loader := func(context.Context) (string, error) {
		calls++
		return "value", nil
	}

	_, _ = c.GetOrLoad(ctx, "repo", loader)
	_, _ = c.GetOrLoad(ctx, "repo", loader)
	if calls != 1 {
		t.Fatalf("expected 1 loader call before staleness, got %d", calls)
	}

	// Backing files changed; the next access reloads despite the long TTL.
	stale = true
	_, _ = c.GetOrLoad(ctx, "repo", loader)
	if calls != 2 {
		t.Errorf("expected reload on stale entry, got %d calls", calls)
	}
}

func TestGetOrLoad_SlowStaleCheckDoesNotBlockOtherKeys(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	c := newTestCache(t, Config[string]{
		Name:      "t",
		TTL:       time.Hour,
		MaxSizeMB: 10,
		Stale: func(key string, _ time.Time) bool {
			if key == "a" {
				once.Do(func() { close(entered) })
				<-release
			}
			return false
		},
	}, nil)
	ctx := context.Background()

	_, _ = c.GetOrLoad(ctx, "a", staticLoader("va"))
	_, _ = c.GetOrLoad(ctx, "b", staticLoader("vb"))

	// Park one goroutine inside the staleness check for "a".
	parked := make(chan struct{})
	go func() {
		defer close(parked)
		_, _ = c.GetOrLoad(ctx, "a", staticLoader("va"))
	}()
	<-entered

	// A hit on an unrelated key must not wait for that check to finish.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := c.GetOrLoad(ctx, "b", staticLoader("vb")); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("hit on one key waited on another key's staleness check")
	}

	close(release)
	<-parked
}

func TestInvalidate(t *testing.T) {
	c := newTestCache(t, Config[string]{Name: "t", TTL: time.Minute, MaxSizeMB: 10}, nil)
	ctx := context.Background()

	_, _ = c.GetOrLoad(ctx, "repo", staticLoader("v"))

	if !c.Invalidate("repo") {
		t.Error("expected Invalidate to report the removed entry")
	}
	if c.Invalidate("repo") {
		t.Error("expected second Invalidate to report no entry")
	}

	stats := c.Stats()
	if stats.EntryCount != 0 || stats.TotalMemoryMB != 0 {
		t.Errorf("expected empty cache, got %d entries / %d MB", stats.EntryCount, stats.TotalMemoryMB)
	}
	if stats.EvictionCount != 0 {
		t.Errorf("invalidation must not count as eviction, got %d", stats.EvictionCount)
	}
}

func TestOnEvictCallback(t *testing.T) {
	var mu sync.Mutex
	var closed []string

	c := newTestCache(t, Config[string]{
		Name:      "t",
		TTL:       time.Minute,
		MaxSizeMB: 4,
		OnEvict: func(key string, _ string) {
			mu.Lock()
			closed = append(closed, key)
			mu.Unlock()
		},
	}, func(string, string) int { return 4 })
	ctx := context.Background()

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	_, _ = c.GetOrLoad(ctx, "a", staticLoader("v"))
	clock = clock.Add(time.Second)
	_, _ = c.GetOrLoad(ctx, "b", staticLoader("v")) // evicts "a"
	c.Invalidate("b")

	mu.Lock()
	defer mu.Unlock()
	if len(closed) != 2 || closed[0] != "a" || closed[1] != "b" {
		t.Errorf("expected OnEvict for [a b], got %v", closed)
	}
}

func TestStats_Snapshot(t *testing.T) {
	c := newTestCache(t, Config[string]{Name: "t", TTL: time.Minute, MaxSizeMB: 100},
		func(string, string) int { return 7 })
	ctx := context.Background()

	_, _ = c.GetOrLoad(ctx, "a", staticLoader("v"))
	_, _ = c.GetOrLoad(ctx, "a", staticLoader("v"))
	_, _ = c.GetOrLoad(ctx, "b", staticLoader("v"))

	stats := c.Stats()
	if stats.HitCount != 1 {
		t.Errorf("expected 1 hit, got %d", stats.HitCount)
	}
	if stats.MissCount != 2 {
		t.Errorf("expected 2 misses, got %d", stats.MissCount)
	}
	if stats.EntryCount != 2 {
		t.Errorf("expected 2 entries, got %d", stats.EntryCount)
	}
	if stats.TotalMemoryMB != 14 {
		t.Errorf("expected 14 MB, got %d", stats.TotalMemoryMB)
	}
}
