// Package store is the write path of the planning tree. Every mutation
// runs through the validation pipeline, is committed with atomic file
// writes, re-checked against a fresh scan and rolled back as a unit when
// the post-write check fails.
package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/HendryAvila/trellis/internal/children"
	"github.com/HendryAvila/trellis/internal/errs"
	"github.com/HendryAvila/trellis/internal/graph"
	"github.com/HendryAvila/trellis/internal/inference"
	"github.com/HendryAvila/trellis/internal/loader"
	"github.com/HendryAvila/trellis/internal/object"
	"github.com/HendryAvila/trellis/internal/paths"
	"github.com/HendryAvila/trellis/internal/security"
	"github.com/HendryAvila/trellis/internal/validation"
)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// verifyWritten runs the post-write check; a variable so tests can fail it.
var verifyWritten = (*validation.Pipeline).ValidateWritten

// Store defines the persistence interface for planning objects.
// Abstracted so tool handlers can be tested against fakes.
type Store interface {
	Create(ctx context.Context, root string, in CreateInput) (*Record, error)
	Get(ctx context.Context, root, id string) (*Record, error)
	Update(ctx context.Context, root, id string, patch Patch, force bool) (*Record, error)
	Delete(ctx context.Context, root, id string, force bool) (*DeleteResult, error)
	List(ctx context.Context, root string, filter Filter) ([]Record, error)
	Children(ctx context.Context, root, id string) ([]children.Child, error)
	Check(ctx context.Context, root string) (*Report, error)
}

// Record is an object together with the file that holds it.
type Record struct {
	Object *object.Object `json:"object"`
	Path   string         `json:"path"`
}

// CreateInput describes a new object. Empty fields take defaults.
type CreateInput struct {
	Kind          object.Kind
	ID            string
	Parent        string
	Title         string
	Status        object.Status
	Priority      object.Priority
	Prerequisites []string
	Worktree      string
	Body          string
}

// Patch is a merge patch. Nil fields are left unchanged.
type Patch struct {
	Title         *string
	Status        *object.Status
	Priority      *object.Priority
	Prerequisites *[]string
	Worktree      *string
	Body          *string
}

// Filter narrows List results. Zero values match everything except done
// objects, which are included only with IncludeDone.
type Filter struct {
	Kind        object.Kind
	Status      object.Status
	Priority    object.Priority
	Parent      string
	IncludeDone bool
}

// DeleteResult reports what a deletion removed and rewrote.
type DeleteResult struct {
	Target    string   `json:"target"`
	Removed   []string `json:"removed"`
	Rewritten []string `json:"rewritten"`
}

// FileStore implements Store on the local filesystem.
type FileStore struct {
	// mu serializes mutations. Reads go through the caches, which are
	// safe for concurrent use on their own.
	mu sync.Mutex

	graphs    *graph.Cache
	children  *children.Cache
	inference *inference.Engine
	pipeline  *validation.Pipeline
	logger    *slog.Logger

	schemaVersion string
	observers     []Observer
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *FileStore) { s.logger = l }
}

// WithSchemaVersion sets the schema_version written into new objects.
func WithSchemaVersion(v string) Option {
	return func(s *FileStore) { s.schemaVersion = v }
}

// WithObserver registers an observer notified after every commit.
func WithObserver(o Observer) Option {
	return func(s *FileStore) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// NewFileStore creates a filesystem-backed store over the given caches.
func NewFileStore(graphs *graph.Cache, kids *children.Cache, engine *inference.Engine, opts ...Option) *FileStore {
	s := &FileStore{
		graphs:        graphs,
		children:      kids,
		inference:     engine,
		logger:        slog.Default(),
		schemaVersion: object.SchemaVersion,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pipeline = validation.New(graphs, engine, s.logger)
	return s
}

// Pipeline returns the validation pipeline used for writes.
func (s *FileStore) Pipeline() *validation.Pipeline { return s.pipeline }

// AddObserver registers o after construction. Not safe to call
// concurrently with writes.
func (s *FileStore) AddObserver(o Observer) {
	if o != nil {
		s.observers = append(s.observers, o)
	}
}

// --- Reads ---

// Get resolves id (prefixed or bare) and reads its file.
func (s *FileStore) Get(ctx context.Context, root, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	canonical, err := s.resolveID(ctx, root, id)
	if err != nil {
		return nil, err
	}
	res, err := s.inference.Infer(root, canonical)
	if err != nil {
		return nil, err
	}
	entry, err := loader.ReadEntry(res.Path)
	if err != nil {
		return nil, err
	}
	return &Record{Object: entry.Object, Path: entry.Path}, nil
}

// resolveID returns the canonical id for ref. Prefixed refs are returned
// as-is; bare refs are looked up in the index, preferring the most
// specific kind.
func (s *FileStore) resolveID(ctx context.Context, root, ref string) (string, error) {
	if err := security.ValidateID(ref); err != nil {
		return "", err
	}
	if _, ok := object.PrefixKind(ref); ok {
		return ref, nil
	}
	snap, err := s.graphs.Get(ctx, root)
	if err != nil {
		return "", err
	}
	e, ok := snap.Index.Lookup(ref)
	if !ok {
		return "", &errs.NotFoundError{ID: ref}
	}
	return e.Object.ID, nil
}

// List returns the objects matching f, highest priority first and then
// oldest first.
func (s *FileStore) List(ctx context.Context, root string, f Filter) ([]Record, error) {
	snap, err := s.graphs.Get(ctx, root)
	if err != nil {
		return nil, err
	}
	parent := ""
	if f.Parent != "" {
		e, ok := snap.Index.Lookup(f.Parent)
		if !ok {
			return nil, &errs.NotFoundError{ID: f.Parent}
		}
		parent = e.Object.ID
	}

	var out []Record
	for _, e := range snap.Index.Entries {
		o := e.Object
		switch {
		case f.Kind != "" && o.Kind != f.Kind:
			continue
		case f.Status != "" && o.Status != f.Status:
			continue
		case f.Status == "" && !f.IncludeDone && o.Status == object.StatusDone:
			continue
		case f.Priority != "" && o.Priority != f.Priority:
			continue
		case parent != "" && o.CanonicalParent() != parent:
			continue
		}
		out = append(out, Record{Object: o.Clone(), Path: e.Path})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Object, out[j].Object
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		if !a.Created.Equal(b.Created) {
			return a.Created.Before(b.Created)
		}
		return a.ID < b.ID
	})
	return out, nil
}

// Children returns the immediate children of a container object.
func (s *FileStore) Children(ctx context.Context, root, id string) ([]children.Child, error) {
	rec, err := s.Get(ctx, root, id)
	if err != nil {
		return nil, err
	}
	if rec.Object.Kind == object.KindTask {
		return []children.Child{}, nil
	}
	return s.children.Get(rec.Path)
}

// --- Notifications and cache upkeep ---

func (s *FileStore) notify(ev Event) {
	for _, o := range s.observers {
		o.OnCommit(ev)
	}
}

// invalidate drops every cached projection touched by a commit. In-process
// writes can land inside one mtime tick, so the caches are not trusted to
// notice on their own.
func (s *FileStore) invalidate(root string, touched ...Record) {
	s.graphs.Invalidate(root)
	for _, r := range touched {
		if r.Object == nil {
			continue
		}
		s.inference.Cache().Invalidate(root, r.Object.ID)
		if r.Object.Kind != object.KindTask {
			s.children.Invalidate(r.Path)
		}
		if parent := r.Object.CanonicalParent(); parent != "" {
			if pk, ok := r.Object.Kind.ParentKind(); ok {
				if p, err := paths.IDToPath(pk, parent, root); err == nil {
					s.children.Invalidate(p)
				}
			}
		}
	}
}
