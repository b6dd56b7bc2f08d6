package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/HendryAvila/trellis/internal/errs"
	"github.com/HendryAvila/trellis/internal/graph"
	"github.com/HendryAvila/trellis/internal/object"
	"github.com/HendryAvila/trellis/internal/paths"
	"github.com/HendryAvila/trellis/internal/validation"
)

// Issue is one integrity problem found on disk.
type Issue struct {
	Code     errs.Code `json:"code"`
	ObjectID string    `json:"object_id,omitempty"`
	Path     string    `json:"path,omitempty"`
	Message  string    `json:"message"`
}

// Report is the result of an integrity check over one root.
type Report struct {
	Root    string  `json:"root"`
	Objects int     `json:"objects"`
	Issues  []Issue `json:"issues"`
}

// OK reports whether the check found nothing wrong.
func (r *Report) OK() bool { return len(r.Issues) == 0 }

// Check audits every object under root: unreadable files, duplicate ids
// across layouts, schema violations, parents that do not match the
// directory layout, dangling references and cycles.
func (s *FileStore) Check(ctx context.Context, root string) (*Report, error) {
	snap, err := s.graphs.Get(ctx, root)
	if err != nil {
		return nil, err
	}
	idx := snap.Index
	rep := &Report{Root: root, Objects: len(idx.Entries), Issues: []Issue{}}

	for _, p := range idx.Problems {
		code := errs.CodeSchema
		if p.ID != "" {
			code = errs.CodeDuplicate
		}
		rep.Issues = append(rep.Issues, Issue{Code: code, ObjectID: p.ID, Path: p.Path, Message: p.Message})
	}

	for _, id := range idx.IDs() {
		e := idx.Entries[id]
		obj := e.Object
		add := func(err error) {
			for _, one := range errs.Flatten(err) {
				rep.Issues = append(rep.Issues, Issue{Code: errs.CodeOf(one), ObjectID: id, Path: e.Path, Message: one.Error()})
			}
		}

		if err := validation.ValidateSchema(obj); err != nil {
			add(err)
		}
		if obj.Status == object.StatusDeleted {
			add(&errs.SchemaValidationError{ObjectID: id, Issues: []errs.FieldIssue{{Field: "status", Message: "deleted objects must not remain on disk"}}})
		}

		if parent := obj.CanonicalParent(); parent != "" {
			pk, _ := obj.Kind.ParentKind()
			pe, ok := idx.Entries[parent]
			switch {
			case !ok:
				add(&errs.ParentNotFoundError{ObjectID: id, ParentID: parent})
			case pe.Object.Kind != pk:
				add(&errs.ParentNotFoundError{ObjectID: id, ParentID: parent, Reason: fmt.Sprintf("parent is a %s, not a %s", pe.Object.Kind, pk)})
			}
			if located := paths.ParentFromPath(obj.Kind, e.Path); located != "" && located != parent {
				add(&errs.ParentNotFoundError{ObjectID: id, ParentID: parent, Reason: fmt.Sprintf("file lives under %s", located)})
			}
		}

		for _, ref := range obj.Prerequisites {
			if ref == "" {
				continue
			}
			if _, ok := idx.Lookup(ref); !ok {
				add(&errs.PrerequisiteNotFoundError{ObjectID: id, Prerequisite: ref})
			}
		}
	}

	if err := graph.CheckGraph(snap.Graph); err != nil {
		var cyc *errs.CircularDependencyError
		if !errors.As(err, &cyc) {
			return nil, err
		}
		rep.Issues = append(rep.Issues, Issue{Code: errs.CodeCircularDependency, Message: cyc.Error()})
	}

	sort.SliceStable(rep.Issues, func(i, j int) bool {
		a, b := rep.Issues[i], rep.Issues[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Code < b.Code
	})
	return rep, nil
}
