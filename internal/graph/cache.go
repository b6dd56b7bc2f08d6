package graph

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HendryAvila/trellis/internal/loader"
	"github.com/HendryAvila/trellis/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// DefaultMtimeTolerance absorbs filesystem timestamp resolution limits.
const DefaultMtimeTolerance = time.Millisecond

// loadIndex is a variable so tests can hold a rebuild in flight.
var loadIndex = loader.Load

// Snapshot is one built graph together with the index it came from.
type Snapshot struct {
	Root        string
	Index       *loader.Index
	Graph       Graph
	Fingerprint uint64
	BuiltAt     time.Time
}

// Stats reports cache effectiveness.
type Stats struct {
	Entries       int   `json:"entries"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Builds        int64 `json:"builds"`
	Invalidations int64 `json:"invalidations"`
}

// Cache memoizes one Snapshot per resolution root. An entry is reused only
// while a fresh scan finds the same file set with unchanged mtimes.
//
// Cache is safe for concurrent use. Concurrent misses for the same root
// share one rebuild, but only with rebuilds started in the same generation:
// every invalidation starts a new one, so a caller that invalidated never
// receives a snapshot loaded before its invalidation.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*Snapshot
	generation uint64
	flight     singleflight.Group
	tolerance  time.Duration
	logger     *slog.Logger

	hits          atomic.Int64
	misses        atomic.Int64
	builds        atomic.Int64
	invalidations atomic.Int64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTolerance sets the mtime comparison tolerance.
func WithTolerance(d time.Duration) CacheOption {
	return func(c *Cache) { c.tolerance = d }
}

// WithLogger sets the logger used for rebuild diagnostics.
func WithLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) { c.logger = l }
}

// NewCache creates an empty Cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		entries:   make(map[string]*Snapshot),
		tolerance: DefaultMtimeTolerance,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the snapshot for root, rebuilding it when any tracked file
// changed, disappeared, or when the set of object files changed.
func (c *Cache) Get(ctx context.Context, root string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	files, err := loader.Scan(root)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	snap, ok := c.entries[root]
	gen := c.generation
	c.mu.RUnlock()

	if ok {
		reason := c.staleReason(snap, files)
		if reason == "" {
			c.hits.Add(1)
			metrics.Hit(metrics.CacheGraph)
			return snap, nil
		}
		gen = c.dropStale(root, snap)
		c.invalidations.Add(1)
		metrics.Invalidated(metrics.CacheGraph, reason)
		c.logger.Debug("graph cache stale", "root", root, "reason", reason)
	}
	c.misses.Add(1)
	metrics.Miss(metrics.CacheGraph)

	v, err, _ := c.flight.Do(flightKey(root, gen), func() (any, error) {
		return c.build(root, gen)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Reload drops the entry for root and returns a snapshot loaded after the
// call began. Writers use it to check what they just committed.
func (c *Cache) Reload(ctx context.Context, root string) (*Snapshot, error) {
	c.Invalidate(root)
	return c.Get(ctx, root)
}

// dropStale removes snap if it is still the cached entry for root and
// returns the generation a rebuild must run under. Concurrent readers that
// saw the same stale entry end up in the same generation.
func (c *Cache) dropStale(root string, snap *Snapshot) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[root] == snap {
		delete(c.entries, root)
		c.generation++
	}
	return c.generation
}

func flightKey(root string, gen uint64) string {
	return root + "@" + strconv.FormatUint(gen, 10)
}

// build loads root and caches the result unless an invalidation happened
// while it ran. The snapshot is returned either way.
func (c *Cache) build(root string, gen uint64) (*Snapshot, error) {
	start := time.Now()
	idx, err := loadIndex(root)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		Root:        root,
		Index:       idx,
		Graph:       Build(idx),
		Fingerprint: loader.Fingerprint(idx.Files),
		BuiltAt:     time.Now(),
	}

	c.mu.Lock()
	if c.generation == gen {
		c.entries[root] = snap
	}
	c.mu.Unlock()

	c.builds.Add(1)
	c.logger.Debug("graph cache rebuilt",
		"root", root,
		"objects", len(idx.Entries),
		"nodes", len(snap.Graph),
		"duration", time.Since(start))
	return snap, nil
}

// staleReason compares a snapshot with a fresh scan and returns why it is
// stale, or "" when it can be reused.
func (c *Cache) staleReason(snap *Snapshot, files map[string]time.Time) string {
	if len(files) != len(snap.Index.Files) || loader.Fingerprint(files) != snap.Fingerprint {
		return "file_set"
	}
	for path, cached := range snap.Index.Files {
		current, ok := files[path]
		if !ok {
			return "deleted"
		}
		if !sameMtime(cached, current, c.tolerance) {
			return "mtime"
		}
	}
	return ""
}

// Invalidate drops the entry for root. Rebuilds already in flight still
// finish for their callers but are not cached.
func (c *Cache) Invalidate(root string) {
	c.mu.Lock()
	_, ok := c.entries[root]
	delete(c.entries, root)
	c.generation++
	c.mu.Unlock()
	if ok {
		c.invalidations.Add(1)
		metrics.Invalidated(metrics.CacheGraph, "explicit")
	}
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]*Snapshot)
	c.generation++
	c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.invalidations.Add(1)
		metrics.Invalidated(metrics.CacheGraph, "explicit")
	}
}

// Stats returns a point-in-time view of the counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Entries:       n,
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Builds:        c.builds.Load(),
		Invalidations: c.invalidations.Load(),
	}
}

func sameMtime(a, b time.Time, tolerance time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}
