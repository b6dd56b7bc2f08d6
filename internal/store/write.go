package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/HendryAvila/trellis/internal/errs"
	"github.com/HendryAvila/trellis/internal/graph"
	"github.com/HendryAvila/trellis/internal/loader"
	"github.com/HendryAvila/trellis/internal/metrics"
	"github.com/HendryAvila/trellis/internal/object"
	"github.com/HendryAvila/trellis/internal/paths"
	"github.com/HendryAvila/trellis/internal/validation"
)

// maxSlugAttempts bounds the numeric suffix search for generated ids.
const maxSlugAttempts = 1000

// --- Create ---

// Create validates and writes a new object. When in.ID is empty the id is
// derived from the title; if the slug is taken, a numeric suffix is
// appended (-2, -3, etc.).
func (s *FileStore) Create(ctx context.Context, root string, in CreateInput) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, err := s.newObject(ctx, root, in)
	if err != nil {
		return nil, err
	}
	if err := s.pipeline.ValidateObjectData(ctx, validation.Request{Root: root, Object: obj, Op: graph.OpCreate}); err != nil {
		return nil, err
	}
	path, err := paths.ResolveNewObjectPath(obj.Kind, obj.ID, obj.ParentID(), root, obj.Status)
	if err != nil {
		return nil, err
	}

	data, err := object.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", obj.ID, err)
	}
	t := newTx(s.logger)
	rec := Record{Object: obj, Path: path}
	if err := t.write(path, data); err != nil {
		s.abort(root, t, rec)
		return nil, err
	}
	if err := verifyWritten(s.pipeline, ctx, root, path, obj); err != nil {
		s.abort(root, t, rec)
		return nil, fmt.Errorf("creating %s: %w", obj.ID, err)
	}

	s.invalidate(root, rec)
	s.commit(Event{Root: root, ObjectID: obj.ID, Kind: string(obj.Kind), Op: OpCreate, ToStatus: string(obj.Status), Path: path, At: obj.Created})
	s.logger.Info("object created", "id", obj.ID, "kind", obj.Kind, "path", path)
	return &Record{Object: obj.Clone(), Path: path}, nil
}

func (s *FileStore) newObject(ctx context.Context, root string, in CreateInput) (*object.Object, error) {
	now := timeNow().UTC().Truncate(time.Second)
	obj := &object.Object{
		Kind:          in.Kind,
		ID:            strings.TrimSpace(in.ID),
		Parent:        object.StringPtr(strings.TrimSpace(in.Parent)),
		Status:        in.Status,
		Title:         strings.TrimSpace(in.Title),
		Priority:      in.Priority,
		Prerequisites: make([]string, 0, len(in.Prerequisites)),
		Created:       now,
		Updated:       now,
		SchemaVersion: s.schemaVersion,
		Worktree:      object.StringPtr(strings.TrimSpace(in.Worktree)),
		Body:          in.Body,
	}
	if obj.Status == "" {
		obj.Status = object.StatusOpen
	}
	if obj.Priority == "" {
		obj.Priority = object.PriorityNormal
	}
	for _, p := range in.Prerequisites {
		obj.Prerequisites = append(obj.Prerequisites, strings.TrimSpace(p))
	}

	// An unknown kind has no prefix to build ids from; the pipeline
	// reports it.
	if object.ValidateKind(obj.Kind) != nil {
		return obj, nil
	}
	obj.Parent = object.StringPtr(obj.CanonicalParent())

	switch {
	case obj.ID != "":
		if _, prefixed := object.PrefixKind(obj.ID); !prefixed {
			obj.ID = object.CanonicalID(obj.Kind, obj.ID)
		}
	case obj.Title != "":
		id, err := s.generateID(ctx, root, obj.Kind, obj.Title)
		if err != nil {
			return nil, err
		}
		obj.ID = id
	}
	return obj, nil
}

// generateID returns the first free id for title. An id is taken when any
// object in either layout already uses its clean form.
func (s *FileStore) generateID(ctx context.Context, root string, kind object.Kind, title string) (string, error) {
	snap, err := s.graphs.Get(ctx, root)
	if err != nil {
		return "", err
	}
	base := object.Slugify(title)
	taken := func(canonical string) bool {
		if _, ok := snap.Index.Lookup(object.CleanID(canonical)); ok {
			return true
		}
		_, err := paths.IDToPath(kind, canonical, root)
		return err == nil
	}

	candidate := object.CanonicalID(kind, base)
	for suffix := 2; taken(candidate); suffix++ {
		if suffix > maxSlugAttempts {
			return "", &errs.InvalidIDError{ID: base, Reason: "no free id derived from the title"}
		}
		candidate = object.CanonicalID(kind, fmt.Sprintf("%s-%d", base, suffix))
	}
	return candidate, nil
}

// --- Update ---

// Update applies patch to the object named by id. Setting status to
// deleted routes the request to Delete with the same force flag. A task
// that reaches done is moved to its parent's tasks-done directory.
func (s *FileStore) Update(ctx context.Context, root, id string, patch Patch, force bool) (*Record, error) {
	if patch.Status != nil && *patch.Status == object.StatusDeleted {
		if _, err := s.Delete(ctx, root, id, force); err != nil {
			return nil, err
		}
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

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
	prev := entry.Object
	next := prev.Clone()
	applyPatch(next, patch)
	next.Updated = timeNow().UTC().Truncate(time.Second)

	if err := s.pipeline.ValidateObjectData(ctx, validation.Request{Root: root, Object: next, Op: graph.OpUpdate, Previous: prev}); err != nil {
		return nil, err
	}

	path := entry.Path
	op := OpUpdate
	if next.Kind == object.KindTask && next.Status == object.StatusDone && prev.Status != object.StatusDone {
		// .../tasks-open/T-x.md -> .../tasks-done/{stamp}-T-x.md
		path = paths.TaskPath(filepath.Dir(filepath.Dir(entry.Path)), next.ID, next.Status, timeNow())
		op = OpMove
	}

	data, err := object.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", next.ID, err)
	}
	t := newTx(s.logger)
	touched := []Record{{Object: prev, Path: entry.Path}, {Object: next, Path: path}}
	if err := t.write(path, data); err != nil {
		s.abort(root, t, touched...)
		return nil, err
	}
	if path != entry.Path {
		if err := t.remove(entry.Path); err != nil {
			s.abort(root, t, touched...)
			return nil, err
		}
	}
	if err := verifyWritten(s.pipeline, ctx, root, path, next); err != nil {
		s.abort(root, t, touched...)
		return nil, fmt.Errorf("updating %s: %w", next.ID, err)
	}

	s.invalidate(root, touched...)
	s.commit(Event{Root: root, ObjectID: next.ID, Kind: string(next.Kind), Op: op, FromStatus: string(prev.Status), ToStatus: string(next.Status), Path: path, At: next.Updated})
	s.logger.Info("object updated", "id", next.ID, "status", next.Status, "path", path)
	return &Record{Object: next.Clone(), Path: path}, nil
}

func applyPatch(obj *object.Object, p Patch) {
	if p.Title != nil {
		obj.Title = strings.TrimSpace(*p.Title)
	}
	if p.Status != nil {
		obj.Status = *p.Status
	}
	if p.Priority != nil {
		obj.Priority = *p.Priority
	}
	if p.Prerequisites != nil {
		obj.Prerequisites = make([]string, 0, len(*p.Prerequisites))
		for _, ref := range *p.Prerequisites {
			obj.Prerequisites = append(obj.Prerequisites, strings.TrimSpace(ref))
		}
	}
	if p.Worktree != nil {
		obj.Worktree = object.StringPtr(strings.TrimSpace(*p.Worktree))
	}
	if p.Body != nil {
		obj.Body = *p.Body
	}
}

// --- Delete ---

// Delete removes the object named by id together with every descendant.
// Without force, live dependents outside the removed set block the
// deletion and nothing is touched. With force, dependents are rewritten
// without their references into the removed set.
func (s *FileStore) Delete(ctx context.Context, root, id string, force bool) (*DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	canonical, err := s.resolveID(ctx, root, id)
	if err != nil {
		return nil, err
	}
	plan, err := s.pipeline.PlanDeletion(ctx, root, canonical, force)
	if err != nil {
		return nil, err
	}
	snap, err := s.graphs.Get(ctx, root)
	if err != nil {
		return nil, err
	}
	now := timeNow().UTC().Truncate(time.Second)

	t := newTx(s.logger)
	var touched []Record
	var events []Event
	result := &DeleteResult{Target: plan.Target, Removed: plan.Removed, Rewritten: []string{}}

	for _, dep := range plan.Dependents {
		obj := plan.Rewrites[dep]
		path := plan.RewritePaths[dep]
		obj.Updated = now
		data, err := object.Marshal(obj)
		if err != nil {
			s.abort(root, t, touched...)
			return nil, fmt.Errorf("encoding %s: %w", dep, err)
		}
		if err := t.write(path, data); err != nil {
			s.abort(root, t, touched...)
			return nil, err
		}
		touched = append(touched, Record{Object: obj, Path: path})
		result.Rewritten = append(result.Rewritten, dep)
		events = append(events, Event{Root: root, ObjectID: dep, Kind: string(obj.Kind), Op: OpUpdate, FromStatus: string(obj.Status), ToStatus: string(obj.Status), Path: path, At: now})
	}

	for _, member := range plan.Removed {
		path := plan.Paths[member]
		e := snap.Index.Entries[member]
		if err := t.remove(path); err != nil {
			s.abort(root, t, touched...)
			return nil, err
		}
		rec := Record{Path: path}
		if e != nil {
			rec.Object = e.Object
			events = append(events, Event{Root: root, ObjectID: member, Kind: string(e.Object.Kind), Op: OpDelete, FromStatus: string(e.Object.Status), ToStatus: string(object.StatusDeleted), Path: path, At: now})
		}
		touched = append(touched, rec)
	}

	if e := snap.Index.Entries[plan.Target]; e != nil && e.Object.Kind != object.KindTask {
		dir := paths.ObjectDir(e.Object.Kind, e.Path)
		if t.pruneTree(dir) {
			t.prune(filepath.Dir(dir), root)
		}
	}

	if err := s.verifyDeleted(ctx, root, plan); err != nil {
		s.abort(root, t, touched...)
		return nil, fmt.Errorf("deleting %s: %w", plan.Target, err)
	}

	s.invalidate(root, touched...)
	for _, ev := range events {
		s.commit(ev)
	}
	s.logger.Info("object deleted", "id", plan.Target, "removed", len(plan.Removed), "rewritten", len(result.Rewritten))
	return result, nil
}

// verifyDeleted re-scans root and confirms the removed objects are gone
// and the surviving graph is still acyclic.
func (s *FileStore) verifyDeleted(ctx context.Context, root string, plan *validation.DeletionPlan) error {
	snap, err := s.graphs.Reload(ctx, root)
	if err != nil {
		return err
	}
	for _, id := range plan.Removed {
		if e, ok := snap.Index.Entries[id]; ok {
			return fmt.Errorf("%s still present at %s", id, e.Path)
		}
	}
	return graph.CheckGraph(snap.Graph)
}

// --- Commit helpers ---

// abort rolls t back and drops any projection built from the
// half-committed state.
func (s *FileStore) abort(root string, t *tx, touched ...Record) {
	if err := t.rollback(); err != nil {
		s.logger.Error("rollback incomplete", "root", root, "error", err)
	}
	s.invalidate(root, touched...)
}

func (s *FileStore) commit(ev Event) {
	metrics.Writes.WithLabelValues(string(ev.Op)).Inc()
	s.notify(ev)
}
