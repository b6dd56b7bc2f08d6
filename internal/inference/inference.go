// Package inference derives an object's kind from its identifier and
// confirms it against the file on disk.
package inference

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HendryAvila/trellis/internal/errs"
	"github.com/HendryAvila/trellis/internal/metrics"
	"github.com/HendryAvila/trellis/internal/object"
	"github.com/HendryAvila/trellis/internal/paths"
	"github.com/HendryAvila/trellis/internal/security"
)

// DefaultMtimeTolerance absorbs filesystem timestamp resolution limits.
const DefaultMtimeTolerance = time.Millisecond

// Result is a confirmed inference.
type Result struct {
	Kind    object.Kind `json:"kind"`
	ID      string      `json:"id"`
	Path    string      `json:"path"`
	ModTime time.Time   `json:"mod_time"`
}

// --- Cache ---

type cacheKey struct {
	root string
	id   string
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Cache holds confirmed inferences keyed by root and canonical id. An entry
// is served only while its file's mtime is unchanged.
type Cache struct {
	mu        sync.RWMutex
	entries   map[cacheKey]Result
	tolerance time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache creates an empty Cache. A non-positive tolerance selects
// DefaultMtimeTolerance.
func NewCache(tolerance time.Duration) *Cache {
	if tolerance <= 0 {
		tolerance = DefaultMtimeTolerance
	}
	return &Cache{
		entries:   make(map[cacheKey]Result),
		tolerance: tolerance,
	}
}

func (c *Cache) lookup(root, id string) (Result, bool) {
	k := cacheKey{root: root, id: id}
	c.mu.RLock()
	r, ok := c.entries[k]
	c.mu.RUnlock()
	if !ok {
		return Result{}, false
	}

	info, err := os.Stat(r.Path)
	if err != nil {
		c.drop(k, "deleted")
		return Result{}, false
	}
	if !withinTolerance(info.ModTime(), r.ModTime, c.tolerance) {
		c.drop(k, "mtime")
		return Result{}, false
	}
	return r, true
}

func (c *Cache) store(root string, r Result) {
	c.mu.Lock()
	c.entries[cacheKey{root: root, id: r.ID}] = r
	c.mu.Unlock()
}

func (c *Cache) drop(k cacheKey, reason string) {
	c.mu.Lock()
	_, ok := c.entries[k]
	delete(c.entries, k)
	c.mu.Unlock()
	if ok {
		metrics.Invalidated(metrics.CacheInference, reason)
	}
}

// Invalidate drops the entry for one id under root.
func (c *Cache) Invalidate(root, id string) {
	c.drop(cacheKey{root: root, id: object.NormalizeRef(id)}, "explicit")
}

// InvalidateRoot drops every entry under root.
func (c *Cache) InvalidateRoot(root string) {
	c.mu.Lock()
	n := 0
	for k := range c.entries {
		if k.root == root {
			delete(c.entries, k)
			n++
		}
	}
	c.mu.Unlock()
	for i := 0; i < n; i++ {
		metrics.Invalidated(metrics.CacheInference, "explicit")
	}
}

// Stats returns a point-in-time view of the counters.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return CacheStats{Entries: n, Hits: c.hits.Load(), Misses: c.misses.Load()}
}

func withinTolerance(a, b time.Time, tolerance time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}

// --- Engine ---

// Engine infers kinds. A nil cache disables caching.
type Engine struct {
	cache  *Cache
	logger *slog.Logger
}

// NewEngine creates an Engine backed by cache.
func NewEngine(cache *Cache, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cache: cache, logger: logger}
}

// Cache returns the engine's cache, possibly nil.
func (e *Engine) Cache() *Cache { return e.cache }

// InferKind returns the kind of id under root.
func (e *Engine) InferKind(root, id string) (object.Kind, error) {
	r, err := e.Infer(root, id)
	if err != nil {
		return "", err
	}
	return r.Kind, nil
}

// Infer derives the kind from id's prefix, locates the file through the
// path resolver and requires the file's own kind field to agree.
func (e *Engine) Infer(root, id string) (Result, error) {
	kind, canonical, err := candidate(id)
	if err != nil {
		return Result{}, err
	}

	if e.cache != nil {
		if r, ok := e.cache.lookup(root, canonical); ok {
			e.cache.hits.Add(1)
			metrics.Hit(metrics.CacheInference)
			return r, nil
		}
		e.cache.misses.Add(1)
		metrics.Miss(metrics.CacheInference)
	}

	r, err := confirm(root, kind, canonical)
	if err != nil {
		return Result{}, err
	}
	if e.cache != nil {
		e.cache.store(root, r)
	}
	return r, nil
}

// Recompute infers without reading or writing the cache.
func (e *Engine) Recompute(root, id string) (Result, error) {
	kind, canonical, err := candidate(id)
	if err != nil {
		return Result{}, err
	}
	return confirm(root, kind, canonical)
}

// Expect infers id and requires the result to be of kind want.
func (e *Engine) Expect(root, id string, want object.Kind) (Result, error) {
	r, err := e.Infer(root, id)
	if err != nil {
		return Result{}, err
	}
	if r.Kind != want {
		return Result{}, &errs.KindMismatchError{ObjectID: r.ID, Expected: string(want), Actual: string(r.Kind), Path: r.Path}
	}
	return r, nil
}

func candidate(id string) (object.Kind, string, error) {
	if err := security.ValidateID(id); err != nil {
		return "", "", err
	}
	kind, ok := object.PrefixKind(id)
	if !ok {
		return "", "", &errs.InvalidIDError{ID: id, Reason: "missing kind prefix (expected P-, E-, F- or T-)"}
	}
	return kind, object.CanonicalID(kind, id), nil
}

func confirm(root string, kind object.Kind, canonical string) (Result, error) {
	path, err := paths.IDToPath(kind, canonical, root)
	if err != nil {
		return Result{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Result{}, errs.FS("stat", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, errs.FS("read", path, err)
	}
	obj, err := object.Parse(data)
	if err != nil {
		return Result{}, &errs.SchemaValidationError{
			ObjectID: canonical,
			Issues:   []errs.FieldIssue{{Field: "front_matter", Message: fmt.Sprintf("%s: %v", path, err)}},
		}
	}
	if obj.Kind != kind {
		return Result{}, &errs.KindMismatchError{ObjectID: canonical, Expected: string(kind), Actual: string(obj.Kind), Path: path}
	}
	return Result{Kind: kind, ID: canonical, Path: path, ModTime: info.ModTime()}, nil
}
