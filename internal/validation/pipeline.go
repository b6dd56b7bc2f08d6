// Package validation is the single gate in front of every write. It runs
// identifier security checks, schema validation, the status transition
// matrix and referential-integrity checks, and rejects cycle-introducing
// writes in memory before any file is touched.
//
// Schema and existence failures are collected so a caller can fix every
// problem in one round-trip. Security, transition, parent, duplicate and
// cycle failures stop the pass immediately.
package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/HendryAvila/trellis/internal/errs"
	"github.com/HendryAvila/trellis/internal/graph"
	"github.com/HendryAvila/trellis/internal/inference"
	"github.com/HendryAvila/trellis/internal/loader"
	"github.com/HendryAvila/trellis/internal/metrics"
	"github.com/HendryAvila/trellis/internal/object"
	"github.com/HendryAvila/trellis/internal/paths"
	"github.com/HendryAvila/trellis/internal/security"
)

// Request is one proposed write.
type Request struct {
	// Root is the resolution root.
	Root string
	// Object is the complete proposed state.
	Object *object.Object
	// Op is graph.OpCreate or graph.OpUpdate.
	Op graph.Operation
	// Previous is the on-disk state for updates.
	Previous *object.Object
}

// Pipeline validates writes against the current state of a root.
type Pipeline struct {
	graphs    *graph.Cache
	inference *inference.Engine
	logger    *slog.Logger
}

// New creates a Pipeline. The caches are owned by the caller.
func New(graphs *graph.Cache, engine *inference.Engine, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{graphs: graphs, inference: engine, logger: logger}
}

// ValidateObjectData runs the full pre-write pass for req.
func (p *Pipeline) ValidateObjectData(ctx context.Context, req Request) error {
	err := p.validate(ctx, req)
	if err != nil {
		p.record(err)
	}
	return err
}

func (p *Pipeline) validate(ctx context.Context, req Request) error {
	obj := req.Object
	if obj == nil {
		return ValidateSchema(nil)
	}
	if req.Op != graph.OpCreate && req.Op != graph.OpUpdate {
		return fmt.Errorf("validating %s: unsupported operation %q", obj.ID, req.Op)
	}

	// 1. Identifier security (fail-fast).
	if err := checkSecurity(obj); err != nil {
		return err
	}

	// 2. Schema (collected).
	var collected []error
	if err := ValidateSchema(obj); err != nil {
		collected = append(collected, err)
	}
	var immutable error
	if req.Previous != nil {
		immutable = checkImmutable(req.Previous, obj)
		if immutable != nil {
			collected = append(collected, immutable)
		}
	}
	if obj.Status == object.StatusDeleted {
		collected = append(collected, &errs.SchemaValidationError{
			ObjectID: obj.ID,
			Issues:   []errs.FieldIssue{{Field: "status", Message: "deleted is only reachable through deletion"}},
		})
	}

	// 3. Status transition (fail-fast).
	if req.Op == graph.OpUpdate && req.Previous != nil && object.ValidateKind(obj.Kind) == nil {
		if err := CheckTransition(obj.Kind, req.Previous.Status, obj.Status); err != nil {
			return err
		}
	}

	// A malformed kind or id, or an update that rewrites identity, leaves
	// nothing sound to resolve against.
	if object.ValidateKind(obj.Kind) != nil || obj.ID == "" || immutable != nil {
		return errs.Join(collected...)
	}

	snap, err := p.graphs.Get(ctx, req.Root)
	if err != nil {
		return err
	}

	// 4. Parent (fail-fast).
	if err := p.checkParent(req.Root, obj); err != nil {
		return err
	}

	// 5. Uniqueness across both layouts (fail-fast).
	if req.Op == graph.OpCreate {
		if err := checkDuplicate(req.Root, snap.Index, obj); err != nil {
			return err
		}
	}

	// 6. Prerequisites (collected).
	collected = append(collected, checkPrerequisites(snap.Index, obj)...)
	if err := errs.Join(collected...); err != nil {
		return err
	}

	// 7. Cycles against the proposed state (fail-fast).
	return graph.CheckCyclesInMemory(snap.Index, obj, req.Op)
}

// ValidateWritten is the post-write safety net. It re-reads the committed
// file and re-checks the references and cycles against a fresh scan.
func (p *Pipeline) ValidateWritten(ctx context.Context, root, path string, obj *object.Object) error {
	if p.inference != nil && p.inference.Cache() != nil {
		p.inference.Cache().Invalidate(root, obj.ID)
	}

	entry, err := loader.ReadEntry(path)
	if err != nil {
		return fmt.Errorf("post-write check of %s: %w", obj.ID, err)
	}
	if entry.Object.ID != obj.ID || entry.Object.Kind != obj.Kind || entry.Object.Status != obj.Status {
		return fmt.Errorf("post-write check of %s: file at %s does not hold the written object", obj.ID, path)
	}

	snap, err := p.graphs.Reload(ctx, root)
	if err != nil {
		return err
	}
	if e, ok := snap.Index.Entries[obj.ID]; !ok || e.Path != path {
		return fmt.Errorf("post-write check of %s: object not indexed at %s", obj.ID, path)
	}
	if missing := checkPrerequisites(snap.Index, entry.Object); len(missing) > 0 {
		return errs.Join(missing...)
	}
	if cycle := graph.DetectCycle(snap.Graph, obj.ID); cycle != nil {
		return &errs.CircularDependencyError{Cycle: cycle}
	}
	return nil
}

func (p *Pipeline) record(err error) {
	for _, e := range errs.Flatten(err) {
		metrics.ValidationFailures.WithLabelValues(string(errs.CodeOf(e))).Inc()
	}
	p.logger.Debug("validation rejected write", "code", errs.CodeOf(err), "error", err)
}

// --- Checks ---

func checkSecurity(obj *object.Object) error {
	if obj.ID != "" {
		if err := security.ValidateID(obj.ID); err != nil {
			return err
		}
	}
	if parent := obj.ParentID(); parent != "" {
		if err := security.ValidateID(parent); err != nil {
			return err
		}
	}
	for _, pre := range obj.Prerequisites {
		if pre == "" {
			continue
		}
		if err := security.ValidateID(pre); err != nil {
			return err
		}
	}
	return nil
}

func checkImmutable(prev, next *object.Object) error {
	out := &errs.SchemaValidationError{ObjectID: next.ID}
	if prev.Kind != next.Kind {
		out.Add("kind", "is immutable")
	}
	if prev.ID != next.ID {
		out.Add("id", "is immutable")
	}
	if prev.CanonicalParent() != next.CanonicalParent() {
		out.Add("parent", "is immutable")
	}
	if !prev.Created.Equal(next.Created) {
		out.Add("created", "is immutable")
	}
	if prev.SchemaVersion != next.SchemaVersion {
		out.Add("schema_version", "is immutable")
	}
	if len(out.Issues) == 0 {
		return nil
	}
	return out
}

func (p *Pipeline) checkParent(root string, obj *object.Object) error {
	ref := obj.ParentID()
	if ref == "" {
		return nil
	}
	want, ok := obj.Kind.ParentKind()
	if !ok {
		return nil
	}
	if pk, prefixed := object.PrefixKind(ref); prefixed && pk != want {
		return &errs.ParentNotFoundError{ObjectID: obj.ID, ParentID: ref, Reason: fmt.Sprintf("a %s parent must be a %s, not a %s", obj.Kind, want, pk)}
	}
	canonical := object.CanonicalID(want, ref)

	if _, err := p.inference.Expect(root, canonical, want); err != nil {
		var nf *errs.NotFoundError
		var km *errs.KindMismatchError
		switch {
		case errors.As(err, &nf):
			return &errs.ParentNotFoundError{ObjectID: obj.ID, ParentID: canonical}
		case errors.As(err, &km):
			return &errs.ParentNotFoundError{ObjectID: obj.ID, ParentID: canonical, Reason: km.Error()}
		default:
			return err
		}
	}
	return nil
}

func checkDuplicate(root string, idx *loader.Index, obj *object.Object) error {
	if e, ok := idx.Entries[obj.ID]; ok {
		return &errs.DuplicateObjectError{ObjectID: obj.ID, Path: e.Path}
	}
	if path, err := paths.IDToPath(obj.Kind, obj.ID, root); err == nil {
		return &errs.DuplicateObjectError{ObjectID: obj.ID, Path: path}
	}
	return nil
}

func checkPrerequisites(idx *loader.Index, obj *object.Object) []error {
	var out []error
	var known []string
	for _, ref := range obj.Prerequisites {
		if ref == "" {
			continue
		}
		if _, ok := idx.Lookup(ref); ok {
			continue
		}
		if known == nil {
			known = idx.IDs()
		}
		out = append(out, &errs.PrerequisiteNotFoundError{
			ObjectID:     obj.ID,
			Prerequisite: ref,
			Suggestions:  suggest(ref, known),
		})
	}
	return out
}
