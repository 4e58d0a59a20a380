package payloadcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"repolens/internal/core"
)

// State machine: Uninitialized -> Initialized -> Running -> Stopped.
// StoreContent/Retrieve/CleanupExpired require at least Initialized.
type state int

const (
	stateUninitialized state = iota
	stateInitialized
	stateRunning
	stateStopped
)

// ErrNotInitialized is returned when an operation runs before Initialize.
var ErrNotInitialized = errors.New("payload cache is not initialized")

// ErrStopped is returned when an operation runs after the cache was stopped.
var ErrStopped = errors.New("payload cache is stopped")

// stopJoinTimeout bounds how long StopBackgroundCleanup waits for the
// reclaimer goroutine to exit, even mid-sweep.
const stopJoinTimeout = 5 * time.Second

// Config holds the settings for the payload cache.
type Config struct {
	// PreviewSizeChars is the truncation threshold and preview length in
	// characters for TruncateForResponse.
	PreviewSizeChars int
	// MaxFetchSizeChars is the page size in characters for Retrieve.
	MaxFetchSizeChars int
	// TTL is the age past which stored rows become eligible for deletion.
	TTL time.Duration
	// CleanupInterval is how often the background sweep runs.
	CleanupInterval time.Duration
}

// Page is one slice of stored content returned by Retrieve.
type Page struct {
	Content    string `json:"content"`
	Page       int    `json:"page"`
	TotalPages int    `json:"total_pages"`
	HasMore    bool   `json:"has_more"`
}

// Truncated is the result of TruncateForResponse. When the content fit under
// the preview threshold, Content carries it whole and Handle is empty; when it
// did not, Preview carries the head and Handle pages through the rest.
type Truncated struct {
	Content   string `json:"content,omitempty"`
	Preview   string `json:"preview,omitempty"`
	Handle    string `json:"handle,omitempty"`
	HasMore   bool   `json:"has_more"`
	TotalSize int    `json:"total_size,omitempty"`
}

// Cache is the durable content cache. It stores oversized query results under
// opaque UUID handles, serves them back page by page, and reclaims expired
// rows on a background goroutine.
type Cache struct {
	cfg   Config
	store Store

	stateMu sync.Mutex
	state   state

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	now func() time.Time
}

// New creates a payload cache over the given store.
func New(store Store, cfg Config) (*Cache, error) {
	if store == nil {
		return nil, core.NewConfigurationError("payload store is required")
	}
	if cfg.PreviewSizeChars <= 0 {
		return nil, core.NewConfigurationError("preview size must be positive")
	}
	if cfg.MaxFetchSizeChars <= 0 {
		return nil, core.NewConfigurationError("fetch size must be positive")
	}
	if cfg.TTL <= 0 {
		return nil, core.NewConfigurationError("payload TTL must be positive")
	}
	if cfg.CleanupInterval <= 0 {
		return nil, core.NewConfigurationError("cleanup interval must be positive")
	}
	return &Cache{
		cfg:   cfg,
		store: store,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		now:   time.Now,
	}, nil
}

// Initialize creates the backing table and index. It is idempotent.
func (c *Cache) Initialize(ctx context.Context) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	switch c.state {
	case stateRunning:
		return nil
	case stateStopped:
		return ErrStopped
	}

	if err := c.store.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize payload store: %w", err)
	}
	c.state = stateInitialized
	return nil
}

// checkReady verifies the cache accepts operations in its current state.
func (c *Cache) checkReady() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	switch c.state {
	case stateUninitialized:
		return ErrNotInitialized
	case stateStopped:
		return ErrStopped
	default:
		return nil
	}
}

// StoreContent persists content under a fresh UUID handle and returns the
// handle. Disk space is reclaimed only by the TTL sweep, never here.
func (c *Cache) StoreContent(ctx context.Context, content string) (string, error) {
	if err := c.checkReady(); err != nil {
		return "", err
	}

	handle := uuid.NewString()
	row := Row{
		Handle:    handle,
		Content:   content,
		CreatedAt: c.now(),
		TotalSize: len([]rune(content)),
	}
	if err := c.store.Insert(ctx, row); err != nil {
		return "", fmt.Errorf("failed to store payload: %w", err)
	}

	storedTotal.Inc()
	return handle, nil
}

// Retrieve returns one page of the content stored under handle. Pages are
// sliced by character index, not byte offset, so multi-byte runes are never
// split across pages.
func (c *Cache) Retrieve(ctx context.Context, handle string, page int) (Page, error) {
	if err := c.checkReady(); err != nil {
		return Page{}, err
	}
	if page < 0 {
		return Page{}, core.NewNotFoundError(fmt.Sprintf("page %d does not exist", page))
	}

	row, ok, err := c.store.Get(ctx, handle)
	if err != nil {
		return Page{}, err
	}
	if !ok {
		return Page{}, core.NewNotFoundError("unknown content handle: " + handle)
	}

	totalPages := (row.TotalSize + c.cfg.MaxFetchSizeChars - 1) / c.cfg.MaxFetchSizeChars
	if totalPages < 1 {
		totalPages = 1
	}
	if page >= totalPages {
		return Page{}, core.NewNotFoundError(fmt.Sprintf("page %d does not exist (total pages: %d)", page, totalPages))
	}

	runes := []rune(row.Content)
	start := page * c.cfg.MaxFetchSizeChars
	end := start + c.cfg.MaxFetchSizeChars
	if start > len(runes) {
		start = len(runes)
	}
	if end > len(runes) {
		end = len(runes)
	}

	return Page{
		Content:    string(runes[start:end]),
		Page:       page,
		TotalPages: totalPages,
		HasMore:    page < totalPages-1,
	}, nil
}

// TruncateForResponse shrinks content that exceeds the preview threshold:
// the full text is stored under a handle and only the preview is returned.
// Content under the threshold passes through untouched and nothing is stored.
func (c *Cache) TruncateForResponse(ctx context.Context, content string) (Truncated, error) {
	runes := []rune(content)
	if len(runes) <= c.cfg.PreviewSizeChars {
		return Truncated{Content: content, HasMore: false}, nil
	}

	handle, err := c.StoreContent(ctx, content)
	if err != nil {
		return Truncated{}, err
	}

	truncatedTotal.Inc()
	return Truncated{
		Preview:   string(runes[:c.cfg.PreviewSizeChars]),
		Handle:    handle,
		HasMore:   true,
		TotalSize: len(runes),
	}, nil
}

// CleanupExpired deletes all rows older than the TTL and returns how many
// were removed. Safe to call repeatedly and concurrently with reads/writes.
func (c *Cache) CleanupExpired(ctx context.Context) (int64, error) {
	if err := c.checkReady(); err != nil {
		return 0, err
	}

	cutoff := c.now().Add(-c.cfg.TTL)
	deleted, err := c.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		sweptTotal.Add(float64(deleted))
		slog.Info("cleaned up expired payloads", "deleted", deleted)
	}
	return deleted, nil
}

// StartBackgroundCleanup launches the reclaimer goroutine. It sweeps once
// immediately, then every CleanupInterval. Sweep errors are logged and
// swallowed; the loop never terminates on a transient failure.
func (c *Cache) StartBackgroundCleanup() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	switch c.state {
	case stateUninitialized:
		return ErrNotInitialized
	case stateStopped:
		return ErrStopped
	case stateRunning:
		return nil
	}
	c.state = stateRunning

	go c.runCleanupLoop()
	return nil
}

func (c *Cache) runCleanupLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	sweep := func() {
		if _, err := c.CleanupExpired(context.Background()); err != nil {
			slog.Error("payload cleanup sweep failed", "error", err)
		}
	}

	sweep()
	for {
		select {
		case <-ticker.C:
			sweep()
		case <-c.stop:
			return
		}
	}
}

// StopBackgroundCleanup signals the reclaimer to stop and waits for it to
// exit, up to a bounded timeout. It is idempotent; after it returns the cache
// rejects further operations.
func (c *Cache) StopBackgroundCleanup() error {
	c.stateMu.Lock()
	wasRunning := c.state == stateRunning
	c.state = stateStopped
	c.stateMu.Unlock()

	c.stopOnce.Do(func() { close(c.stop) })

	if !wasRunning {
		return nil
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(stopJoinTimeout):
		return fmt.Errorf("payload cleanup goroutine did not stop within %s", stopJoinTimeout)
	}
}
