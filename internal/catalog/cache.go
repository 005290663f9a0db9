// Package catalog holds a time-bounded snapshot of the enumerable remote
// repository list, avoiding redundant enumeration against the rate-limited
// provider.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/semfind/semfind/internal/backend"
)

const (
	// DefaultTTL bounds snapshot staleness
	DefaultTTL = 2 * time.Hour

	// maxPages guards the enumeration loop against a backend that never
	// reports the last page
	maxPages = 200
)

// Snapshot is one cached view of the remote repository listing
type Snapshot struct {
	Entries    []backend.CatalogEntry `json:"entries"`
	TotalCount int                    `json:"total_count"`
	FetchedAt  time.Time              `json:"fetched_at"`
}

// Copy returns a deep copy of the snapshot
func (s *Snapshot) Copy() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Entries = append([]backend.CatalogEntry(nil), s.Entries...)
	return &out
}

// Cache caches the catalog with a TTL. Concurrent refreshes are coalesced
// into a single enumeration.
type Cache struct {
	backend backend.Client
	store   Store
	ttl     time.Duration
	nowFn   func() time.Time

	group singleflight.Group

	mu   sync.RWMutex
	snap *Snapshot
}

// Option configures a Cache
type Option func(*Cache)

// WithTTL overrides the snapshot TTL
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithNowFunc overrides the clock, used by tests
func WithNowFunc(fn func() time.Time) Option {
	return func(c *Cache) {
		c.nowFn = fn
	}
}

// New creates a Cache and loads any persisted snapshot. A nil store keeps
// the cache memory-only.
func New(ctx context.Context, client backend.Client, store Store, opts ...Option) *Cache {
	c := &Cache{
		backend: client,
		store:   store,
		ttl:     DefaultTTL,
		nowFn:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if store != nil {
		snap, err := store.Load(ctx)
		if err != nil {
			slog.Warn("Failed to load catalog snapshot, starting empty", "error", err)
		} else if snap != nil {
			c.snap = snap
		}
	}
	return c
}

// Get returns the cached snapshot if it has not expired. When it returns
// false the caller must Refresh.
func (c *Cache) Get(_ context.Context) (*Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.snap == nil || c.nowFn().Sub(c.snap.FetchedAt) >= c.ttl {
		return nil, false
	}
	// Callers get a detached copy; the installed snapshot never mutates
	return c.snap.Copy(), true
}

// Refresh enumerates the full catalog and replaces the snapshot. Without
// force, a still-valid snapshot is returned as is. Concurrent callers share
// one enumeration.
func (c *Cache) Refresh(ctx context.Context, force bool) (*Snapshot, error) {
	if !force {
		if snap, ok := c.Get(ctx); ok {
			return snap, nil
		}
	}

	result, err, _ := c.group.Do("refresh", func() (any, error) {
		return c.enumerate(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Snapshot).Copy(), nil
}

// Invalidate drops the cache unconditionally
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
	slog.Debug("Catalog cache invalidated")
}

// enumerate pages through the backend listing until it signals no more
// pages, then installs the new snapshot
func (c *Cache) enumerate(ctx context.Context) (*Snapshot, error) {
	var entries []backend.CatalogEntry
	totalCount := 0

	for page := 1; page <= maxPages; page++ {
		result, err := c.backend.ListCatalog(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate catalog page %d: %w", page, err)
		}
		entries = append(entries, result.Entries...)
		if result.TotalCount > 0 {
			totalCount = result.TotalCount
		}
		if !result.HasMore {
			break
		}
	}
	if totalCount == 0 {
		totalCount = len(entries)
	}

	snap := &Snapshot{
		Entries:    entries,
		TotalCount: totalCount,
		FetchedAt:  c.nowFn(),
	}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Save(ctx, snap); err != nil {
			slog.Warn("Failed to persist catalog snapshot", "error", err)
		}
	}

	slog.Info("Catalog refreshed", "entries", len(entries), "total_count", totalCount)
	return snap, nil
}
