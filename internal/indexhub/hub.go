// Package indexhub owns the two resource-cache instances of the server: one
// for vector indexes and one for full-text indexes, each with its own size
// and TTL budget. Handlers never open index files directly; they go through
// the hub so loads are deduplicated and budgets enforced.
package indexhub

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"repolens/internal/catalog"
	"repolens/internal/core"
	"repolens/internal/index"
	"repolens/internal/rescache"
)

// Fixed footprint heuristics used when the manifest carries no size hint.
// Deliberately coarse: cheap, deterministic, and easy to test.
const (
	DefaultVectorIndexSizeMB   = 100
	DefaultFullTextIndexSizeMB = 10
)

const defaultWarmupConcurrency = 4

// Config holds the budgets for both cache instances.
type Config struct {
	VectorTTL        time.Duration
	VectorBudgetMB   int
	FullTextTTL      time.Duration
	FullTextBudgetMB int

	// Reload-on-access re-checks the manifest modtime on every hit and
	// reloads when the index was rebuilt on disk, per index class.
	VectorReloadOnAccess   bool
	FullTextReloadOnAccess bool

	// WarmupConcurrency bounds parallel index loads in Warm (default 4).
	WarmupConcurrency int
}

// Hub resolves repositories through the catalog and serves their indexes out
// of two bounded resource caches.
type Hub struct {
	catalog  *catalog.Catalog
	vector   *rescache.Cache[*index.VectorIndex]
	fulltext *rescache.Cache[*index.FullTextIndex]
	warmup   int
}

// New creates the hub and its two cache instances.
func New(cat *catalog.Catalog, cfg Config) (*Hub, error) {
	if cat == nil {
		return nil, core.NewConfigurationError("catalog is required")
	}

	h := &Hub{catalog: cat, warmup: cfg.WarmupConcurrency}
	if h.warmup <= 0 {
		h.warmup = defaultWarmupConcurrency
	}

	var vectorStale, fulltextStale func(key string, loadedAt time.Time) bool
	if cfg.VectorReloadOnAccess {
		vectorStale = h.manifestChanged
	}
	if cfg.FullTextReloadOnAccess {
		fulltextStale = h.manifestChanged
	}

	vector, err := rescache.New[*index.VectorIndex](rescache.Config[*index.VectorIndex]{
		Name:      "vector",
		TTL:       cfg.VectorTTL,
		MaxSizeMB: cfg.VectorBudgetMB,
		Stale:     vectorStale,
		OnEvict: func(key string, idx *index.VectorIndex) {
			if err := idx.Close(); err != nil {
				slog.Warn("failed to close evicted vector index", "repo", key, "error", err)
			}
		},
	}, h.estimateVector)
	if err != nil {
		return nil, err
	}

	fulltext, err := rescache.New[*index.FullTextIndex](rescache.Config[*index.FullTextIndex]{
		Name:      "fulltext",
		TTL:       cfg.FullTextTTL,
		MaxSizeMB: cfg.FullTextBudgetMB,
		Stale:     fulltextStale,
		OnEvict: func(key string, idx *index.FullTextIndex) {
			if err := idx.Close(); err != nil {
				slog.Warn("failed to close evicted full-text index", "repo", key, "error", err)
			}
		},
	}, h.estimateFullText)
	if err != nil {
		return nil, err
	}

	h.vector = vector
	h.fulltext = fulltext
	return h, nil
}

// Vector returns the vector index for repo, loading it on a miss.
func (h *Hub) Vector(ctx context.Context, repo string) (*index.VectorIndex, error) {
	entry, err := h.catalog.Get(repo)
	if err != nil {
		return nil, err
	}

	idx, err := h.vector.GetOrLoad(ctx, repo, func(ctx context.Context) (*index.VectorIndex, error) {
		manifest, err := index.ReadManifest(entry.Path)
		if err != nil {
			return nil, err
		}
		return index.OpenVector(entry.Path, manifest.Dim)
	})
	if err != nil {
		return nil, wrapLoadError(repo, "vector", err)
	}
	return idx, nil
}

// FullText returns the full-text index for repo, loading it on a miss.
func (h *Hub) FullText(ctx context.Context, repo string) (*index.FullTextIndex, error) {
	entry, err := h.catalog.Get(repo)
	if err != nil {
		return nil, err
	}

	idx, err := h.fulltext.GetOrLoad(ctx, repo, func(ctx context.Context) (*index.FullTextIndex, error) {
		return index.OpenFullText(entry.Path)
	})
	if err != nil {
		return nil, wrapLoadError(repo, "fulltext", err)
	}
	return idx, nil
}

// Invalidate drops both cached indexes for repo, closing their handles.
// Used when a backing index is rebuilt. Reports whether anything was cached.
func (h *Hub) Invalidate(repo string) bool {
	v := h.vector.Invalidate(repo)
	ft := h.fulltext.Invalidate(repo)
	return v || ft
}

// Warm loads indexes for the given repositories up front with bounded
// concurrency. Individual load failures are logged, not fatal: a repository
// whose index is missing simply stays cold.
func (h *Hub) Warm(ctx context.Context, repos []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(h.warmup)

	for _, repo := range repos {
		g.Go(func() error {
			if _, err := h.FullText(ctx, repo); err != nil {
				slog.Warn("warmup: full-text index not loaded", "repo", repo, "error", err)
			}

			entry, err := h.catalog.Get(repo)
			if err != nil {
				return nil
			}
			manifest, err := index.ReadManifest(entry.Path)
			if err != nil || manifest.Dim <= 0 {
				return nil
			}
			if _, err := h.Vector(ctx, repo); err != nil {
				slog.Warn("warmup: vector index not loaded", "repo", repo, "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// Stats returns the per-cache counter snapshots for the admin endpoint.
func (h *Hub) Stats() map[string]rescache.Stats {
	return map[string]rescache.Stats{
		"vector":   h.vector.Stats(),
		"fulltext": h.fulltext.Stats(),
	}
}

// estimateVector maps a loaded vector index to its budgeted footprint: the
// manifest's size_mb hint when present, the fixed heuristic otherwise.
func (h *Hub) estimateVector(repo string, _ *index.VectorIndex) int {
	return h.manifestSizeHint(repo, DefaultVectorIndexSizeMB)
}

func (h *Hub) estimateFullText(repo string, _ *index.FullTextIndex) int {
	return h.manifestSizeHint(repo, DefaultFullTextIndexSizeMB)
}

func (h *Hub) manifestSizeHint(repo string, fallback int) int {
	entry, err := h.catalog.Get(repo)
	if err != nil {
		return fallback
	}
	manifest, err := index.ReadManifest(entry.Path)
	if err != nil || manifest.SizeMB <= 0 {
		return fallback
	}
	return manifest.SizeMB
}

// manifestChanged is the reload_on_access freshness check: a manifest newer
// than the cached entry means the indexer rebuilt the index.
func (h *Hub) manifestChanged(repo string, loadedAt time.Time) bool {
	entry, err := h.catalog.Get(repo)
	if err != nil {
		return false
	}
	modTime, err := index.ManifestModTime(entry.Path)
	if err != nil {
		return false
	}
	return modTime.After(loadedAt)
}

// wrapLoadError tags loader failures with the load_failed type unless the
// error already carries a taxonomy type (e.g. context cancellation stays raw).
func wrapLoadError(repo, kind string, err error) error {
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return core.NewLoadError("failed to load "+kind+" index for "+repo, err)
}
