package children

import (
	"container/list"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HendryAvila/trellis/internal/errs"
	"github.com/HendryAvila/trellis/internal/metrics"
)

// DefaultMaxEntries bounds the cache when no size is configured.
const DefaultMaxEntries = 256

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Entries   int   `json:"entries"`
	Capacity  int   `json:"capacity"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// cacheEntry is keyed by parent path and remembers the mtimes it was
// built from.
type cacheEntry struct {
	parentPath  string
	parentMtime time.Time
	childMtimes map[string]time.Time
	children    []Child
}

// Cache is a thread-safe LRU of children lists. An entry is served only
// while the parent's mtime, every tracked child's mtime and the child set
// are unchanged.
type Cache struct {
	maxEntries int
	tolerance  time.Duration
	logger     *slog.Logger

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithLogger sets the logger that reports child files skipped while
// building an entry.
func WithLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCache creates a Cache holding at most maxEntries parents.
func NewCache(maxEntries int, tolerance time.Duration, opts ...CacheOption) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if tolerance <= 0 {
		tolerance = time.Millisecond
	}
	c := &Cache{
		maxEntries: maxEntries,
		tolerance:  tolerance,
		logger:     slog.Default(),
		items:      make(map[string]*list.Element),
		order:      list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the children of parentPath, from cache when still valid.
func (c *Cache) Get(parentPath string) ([]Child, error) {
	info, err := os.Stat(parentPath)
	if err != nil {
		c.Invalidate(parentPath)
		return nil, errs.FS("stat", parentPath, err)
	}
	_, files, err := listChildFiles(parentPath)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if elem, ok := c.items[parentPath]; ok {
		entry := elem.Value.(*cacheEntry)
		reason := c.staleReason(entry, info.ModTime(), files)
		if reason == "" {
			c.order.MoveToFront(elem)
			out := append([]Child(nil), entry.children...)
			c.mu.Unlock()
			c.hits.Add(1)
			metrics.Hit(metrics.CacheChildren)
			return out, nil
		}
		c.order.Remove(elem)
		delete(c.items, parentPath)
		metrics.Invalidated(metrics.CacheChildren, reason)
	}
	c.mu.Unlock()

	c.misses.Add(1)
	metrics.Miss(metrics.CacheChildren)

	kids, err := readChildren(files, c.logger)
	if err != nil {
		return nil, err
	}
	c.set(&cacheEntry{
		parentPath:  parentPath,
		parentMtime: info.ModTime(),
		childMtimes: files,
		children:    kids,
	})
	return append([]Child(nil), kids...), nil
}

func (c *Cache) staleReason(e *cacheEntry, parentMtime time.Time, files map[string]time.Time) string {
	if !within(e.parentMtime, parentMtime, c.tolerance) {
		return "parent_mtime"
	}
	if len(files) != len(e.childMtimes) {
		return "child_set"
	}
	for path, cached := range e.childMtimes {
		current, ok := files[path]
		if !ok {
			return "child_set"
		}
		if !within(cached, current, c.tolerance) {
			return "child_mtime"
		}
	}
	return ""
}

func (c *Cache) set(e *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[e.parentPath]; ok {
		c.order.MoveToFront(elem)
		elem.Value = e
		return
	}
	c.items[e.parentPath] = c.order.PushFront(e)

	for c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).parentPath)
		c.evictions.Add(1)
		metrics.Evicted(metrics.CacheChildren)
	}
}

// Invalidate drops the entry for parentPath.
func (c *Cache) Invalidate(parentPath string) {
	c.mu.Lock()
	elem, ok := c.items[parentPath]
	if ok {
		c.order.Remove(elem)
		delete(c.items, parentPath)
	}
	c.mu.Unlock()
	if ok {
		metrics.Invalidated(metrics.CacheChildren, "explicit")
	}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	n := c.order.Len()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	c.mu.Unlock()
	for i := 0; i < n; i++ {
		metrics.Invalidated(metrics.CacheChildren, "explicit")
	}
}

// Len returns the number of cached parents.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a point-in-time view of the counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Entries:   c.Len(),
		Capacity:  c.maxEntries,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

func within(a, b time.Time, tolerance time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}
