// Package loader scans a resolution root in both layouts and materializes
// an in-memory index of every object. The index is a disposable projection
// of the files on disk; graph construction and integrity checks read it,
// nothing writes through it.
package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/HendryAvila/trellis/internal/errs"
	"github.com/HendryAvila/trellis/internal/object"
	"github.com/HendryAvila/trellis/internal/paths"
	"github.com/cespare/xxhash/v2"
)

// scanPatterns lists every location an object file can live in. Standalone
// tasks come first so duplicate handling matches the resolver's precedence.
var scanPatterns = []string{
	paths.TasksOpenDir + "/*.md",
	paths.TasksDoneDir + "/*.md",
	"projects/P-*/project.md",
	"projects/P-*/epics/E-*/epic.md",
	"projects/P-*/epics/E-*/features/F-*/feature.md",
	"projects/P-*/epics/E-*/features/F-*/" + paths.TasksOpenDir + "/*.md",
	"projects/P-*/epics/E-*/features/F-*/" + paths.TasksDoneDir + "/*.md",
}

// Entry is one loaded object with the file it came from.
type Entry struct {
	Object  *object.Object
	Path    string
	ModTime time.Time
}

// Problem is a file that could not be indexed or that breaks an invariant.
type Problem struct {
	Path    string `json:"path"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

// Index is the unified view of both layouts keyed by canonical id.
type Index struct {
	Root     string
	Entries  map[string]*Entry
	Files    map[string]time.Time
	Problems []Problem

	byClean map[string][]string
}

// NewIndex returns an empty index for root.
func NewIndex(root string) *Index {
	return &Index{
		Root:    root,
		Entries: make(map[string]*Entry),
		Files:   make(map[string]time.Time),
		byClean: make(map[string][]string),
	}
}

// Scan lists every object file under root with its modification time. It
// reads no file contents.
func Scan(root string) (map[string]time.Time, error) {
	files := make(map[string]time.Time)
	for _, pattern := range scanPatterns {
		matches, err := paths.Glob(root, pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return nil, errs.FS("stat", m, err)
			}
			if info.IsDir() {
				continue
			}
			files[m] = info.ModTime()
		}
	}
	return files, nil
}

// Load scans root and parses every object file. Unparseable files and
// duplicate ids are recorded as Problems rather than failing the load.
func Load(root string) (*Index, error) {
	idx := NewIndex(root)
	for _, pattern := range scanPatterns {
		matches, err := paths.Glob(root, pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if err := idx.loadFile(m); err != nil {
				return nil, err
			}
		}
	}
	return idx, nil
}

func (ix *Index) loadFile(path string) error {
	entry, err := ReadEntry(path)
	if err != nil {
		var fsErr *errs.FileSystemError
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil
		case errors.As(err, &fsErr):
			return err
		default:
			ix.Problems = append(ix.Problems, Problem{Path: path, Message: err.Error()})
			ix.Files[path] = statTime(path)
			return nil
		}
	}
	ix.Files[path] = entry.ModTime

	id := entry.Object.ID
	if prev, ok := ix.Entries[id]; ok {
		ix.Problems = append(ix.Problems, Problem{
			Path:    path,
			ID:      id,
			Message: fmt.Sprintf("duplicate id %s (already loaded from %s)", id, prev.Path),
		})
		return nil
	}
	ix.put(entry)
	return nil
}

// ReadEntry reads and parses a single object file. The canonical id and kind
// come from the path; a front matter that disagrees is an error.
func ReadEntry(path string) (*Entry, error) {
	kind, id, err := paths.PathToID(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errs.FS("stat", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.FS("read", path, err)
	}

	obj, err := object.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if obj.Kind != kind {
		return nil, &errs.KindMismatchError{ObjectID: id, Expected: string(kind), Actual: string(obj.Kind), Path: path}
	}
	if obj.ID == "" {
		obj.ID = id
	}
	declared := obj.ID
	if _, prefixed := object.PrefixKind(declared); !prefixed {
		declared = object.CanonicalID(kind, declared)
	}
	if declared != id {
		return nil, fmt.Errorf("%s declares id %q but its path implies %s", path, obj.ID, id)
	}
	obj.ID = id

	return &Entry{Object: obj, Path: path, ModTime: info.ModTime()}, nil
}

func statTime(path string) time.Time {
	if info, err := os.Stat(path); err == nil {
		return info.ModTime()
	}
	return time.Time{}
}

// --- Lookup ---

func (ix *Index) put(e *Entry) {
	id := e.Object.ID
	if _, exists := ix.Entries[id]; !exists {
		clean := object.CleanID(id)
		ix.byClean[clean] = append(ix.byClean[clean], id)
	}
	ix.Entries[id] = e
}

func (ix *Index) remove(id string) {
	if _, ok := ix.Entries[id]; !ok {
		return
	}
	delete(ix.Entries, id)
	clean := object.CleanID(id)
	ids := ix.byClean[clean]
	for i, v := range ids {
		if v == id {
			ix.byClean[clean] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ix.byClean[clean]) == 0 {
		delete(ix.byClean, clean)
	}
}

// Lookup resolves a reference across both layouts. A prefixed reference
// must match exactly; a bare reference matches by clean id, preferring
// tasks, then features, epics and projects.
func (ix *Index) Lookup(ref string) (*Entry, bool) {
	ref = strings.TrimSpace(ref)
	if _, ok := object.PrefixKind(ref); ok {
		e, ok := ix.Entries[object.NormalizeRef(ref)]
		return e, ok
	}
	ids := ix.byClean[object.CleanID(ref)]
	if len(ids) == 0 {
		return nil, false
	}
	for i := len(object.Kinds) - 1; i >= 0; i-- {
		want := object.CanonicalID(object.Kinds[i], ref)
		for _, id := range ids {
			if id == want {
				return ix.Entries[id], true
			}
		}
	}
	return ix.Entries[ids[0]], true
}

// IDs returns every canonical id in sorted order.
func (ix *Index) IDs() []string {
	ids := make([]string, 0, len(ix.Entries))
	for id := range ix.Entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dependents returns the ids of live objects whose prerequisites reference
// any of targets, excluding targets themselves. Sorted.
func (ix *Index) Dependents(targets map[string]bool) []string {
	var out []string
	for _, id := range ix.IDs() {
		if targets[id] {
			continue
		}
		for _, p := range ix.Entries[id].Object.Prerequisites {
			if e, ok := ix.Lookup(p); ok && targets[e.Object.ID] {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// Descendants returns id and every object below it in the hierarchy.
func (ix *Index) Descendants(id string) map[string]bool {
	children := make(map[string][]string)
	for cid, e := range ix.Entries {
		if p := e.Object.CanonicalParent(); p != "" {
			children[p] = append(children[p], cid)
		}
	}
	out := map[string]bool{}
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if out[cur] {
			continue
		}
		out[cur] = true
		stack = append(stack, children[cur]...)
	}
	return out
}

// --- Copies ---

// Clone returns a copy whose maps can be changed without affecting ix.
// Entries are shared; replace them, never mutate them.
func (ix *Index) Clone() *Index {
	c := NewIndex(ix.Root)
	for _, e := range ix.Entries {
		c.put(e)
	}
	for p, t := range ix.Files {
		c.Files[p] = t
	}
	c.Problems = append([]Problem(nil), ix.Problems...)
	return c
}

// With returns a copy of ix in which obj replaces (or adds) its entry.
func (ix *Index) With(obj *object.Object) *Index {
	c := ix.Clone()
	path := ""
	if prev, ok := c.Entries[obj.ID]; ok {
		path = prev.Path
	}
	c.put(&Entry{Object: obj, Path: path})
	return c
}

// Without returns a copy of ix with the given ids removed.
func (ix *Index) Without(ids ...string) *Index {
	c := ix.Clone()
	for _, id := range ids {
		c.remove(id)
	}
	return c
}

// --- Fingerprints ---

// Fingerprint hashes the set of file paths. Two scans with the same
// fingerprint discovered the same files; modification times are compared
// separately.
func Fingerprint(files map[string]time.Time) uint64 {
	keys := make([]string, 0, len(files))
	for p := range files {
		keys = append(keys, p)
	}
	sort.Strings(keys)

	h := xxhash.New()
	for _, k := range keys {
		_, _ = h.WriteString(k)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
