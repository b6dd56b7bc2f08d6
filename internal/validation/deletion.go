package validation

import (
	"context"
	"sort"

	"github.com/HendryAvila/trellis/internal/errs"
	"github.com/HendryAvila/trellis/internal/graph"
	"github.com/HendryAvila/trellis/internal/loader"
	"github.com/HendryAvila/trellis/internal/object"
	"github.com/HendryAvila/trellis/internal/security"
)

// DeletionPlan is the validated set of mutations for one deletion.
type DeletionPlan struct {
	Target string
	// Removed holds the target and every descendant, deepest first.
	Removed []string
	// Paths maps each removed id to its file.
	Paths map[string]string
	// Dependents are live objects outside Removed that require a member.
	Dependents []string
	// Rewrites holds the new state of every dependent (force only).
	Rewrites map[string]*object.Object
	// RewritePaths maps each rewritten id to its file.
	RewritePaths map[string]string
}

// PlanDeletion validates the deletion of id and everything below it.
// Without force, live dependents block the deletion and so does a target
// that is already done. With force, every dependent loses its references
// into the removed set. The whole resulting state is checked before the
// plan is returned, so executing it never needs a partial rollback for
// validation reasons.
func (p *Pipeline) PlanDeletion(ctx context.Context, root, id string, force bool) (*DeletionPlan, error) {
	plan, err := p.planDeletion(ctx, root, id, force)
	if err != nil {
		p.record(err)
	}
	return plan, err
}

func (p *Pipeline) planDeletion(ctx context.Context, root, id string, force bool) (*DeletionPlan, error) {
	if err := security.ValidateID(id); err != nil {
		return nil, err
	}
	res, err := p.inference.Infer(root, id)
	if err != nil {
		return nil, err
	}

	snap, err := p.graphs.Get(ctx, root)
	if err != nil {
		return nil, err
	}
	idx := snap.Index
	target, ok := idx.Entries[res.ID]
	if !ok {
		return nil, &errs.NotFoundError{Kind: string(res.Kind), ID: res.ID}
	}

	if target.Object.Status == object.StatusDone && !force {
		return nil, &errs.InvalidStatusTransitionError{Kind: string(res.Kind), From: string(object.StatusDone), To: string(object.StatusDeleted)}
	}

	set := idx.Descendants(res.ID)
	plan := &DeletionPlan{
		Target:       res.ID,
		Paths:        make(map[string]string, len(set)),
		Rewrites:     make(map[string]*object.Object),
		RewritePaths: make(map[string]string),
	}
	for member := range set {
		e, ok := idx.Entries[member]
		if !ok {
			continue
		}
		plan.Removed = append(plan.Removed, member)
		plan.Paths[member] = e.Path
	}
	sort.Slice(plan.Removed, func(i, j int) bool {
		return depth(idx, plan.Removed[i]) > depth(idx, plan.Removed[j]) ||
			(depth(idx, plan.Removed[i]) == depth(idx, plan.Removed[j]) && plan.Removed[i] < plan.Removed[j])
	})

	plan.Dependents = idx.Dependents(set)
	if len(plan.Dependents) > 0 && !force {
		return nil, &errs.DependentsExistError{ObjectID: res.ID, Dependents: plan.Dependents}
	}

	next := idx.Without(plan.Removed...)
	for _, dep := range plan.Dependents {
		e := idx.Entries[dep]
		rewritten := e.Object.Clone()
		kept := make([]string, 0, len(rewritten.Prerequisites))
		for _, ref := range rewritten.Prerequisites {
			if r, ok := idx.Lookup(ref); ok && set[r.Object.ID] {
				continue
			}
			kept = append(kept, ref)
		}
		rewritten.Prerequisites = kept
		if err := ValidateSchema(rewritten); err != nil {
			return nil, err
		}
		plan.Rewrites[dep] = rewritten
		plan.RewritePaths[dep] = e.Path
		next = next.With(rewritten)
	}

	if err := checkRemaining(idx, next, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// checkRemaining verifies that no surviving object is left pointing into
// the removed set and that the resulting graph is acyclic.
func checkRemaining(before, next *loader.Index, plan *DeletionPlan) error {
	removed := make(map[string]bool, len(plan.Removed))
	for _, id := range plan.Removed {
		removed[id] = true
	}
	var dangling []error
	for _, id := range plan.Dependents {
		for _, ref := range next.Entries[id].Object.Prerequisites {
			if e, ok := before.Lookup(ref); ok && removed[e.Object.ID] {
				dangling = append(dangling, &errs.PrerequisiteNotFoundError{ObjectID: id, Prerequisite: ref})
			}
		}
	}
	if err := errs.Join(dangling...); err != nil {
		return err
	}
	return graph.CheckGraph(graph.Build(next))
}

func depth(idx *loader.Index, id string) int {
	d := 0
	for {
		e, ok := idx.Entries[id]
		if !ok || e.Object.ParentID() == "" {
			return d
		}
		id = e.Object.CanonicalParent()
		d++
		if d > len(object.Kinds) {
			return d
		}
	}
}
