package validation

import (
	"fmt"

	"github.com/HendryAvila/trellis/internal/errs"
	"github.com/HendryAvila/trellis/internal/object"
)

// primaryPath is shared by every kind.
var primaryPath = map[object.Status][]object.Status{
	object.StatusOpen:       {object.StatusInProgress},
	object.StatusInProgress: {object.StatusReview},
	object.StatusReview:     {object.StatusDone},
}

// taskShortcuts let tasks skip review.
var taskShortcuts = map[object.Status][]object.Status{
	object.StatusOpen:       {object.StatusDone},
	object.StatusInProgress: {object.StatusDone},
}

// transitionMatrix returns the legal (from, to) pairs for kind. done and
// deleted have no outgoing transitions; deletion goes through PlanDeletion.
func transitionMatrix(kind object.Kind) map[object.Status]map[object.Status]bool {
	m := make(map[object.Status]map[object.Status]bool)
	add := func(src map[object.Status][]object.Status) {
		for from, tos := range src {
			if m[from] == nil {
				m[from] = make(map[object.Status]bool)
			}
			for _, to := range tos {
				m[from][to] = true
			}
		}
	}

	add(primaryPath)
	switch kind {
	case object.KindProject, object.KindEpic, object.KindFeature:
	case object.KindTask:
		add(taskShortcuts)
	default:
		panic(fmt.Sprintf("validation: unknown kind %q", string(kind)))
	}
	return m
}

var matrices = func() map[object.Kind]map[object.Status]map[object.Status]bool {
	out := make(map[object.Kind]map[object.Status]map[object.Status]bool, len(object.Kinds))
	for _, k := range object.Kinds {
		out[k] = transitionMatrix(k)
	}
	return out
}()

// CheckTransition returns an InvalidStatusTransitionError unless from -> to
// is in kind's matrix. Keeping the same status is not a transition.
func CheckTransition(kind object.Kind, from, to object.Status) error {
	if from == to {
		return nil
	}
	m, ok := matrices[kind]
	if !ok {
		return &errs.InvalidStatusTransitionError{Kind: string(kind), From: string(from), To: string(to)}
	}
	if !m[from][to] {
		return &errs.InvalidStatusTransitionError{Kind: string(kind), From: string(from), To: string(to)}
	}
	return nil
}

// AllowedTransitions lists the statuses reachable from from in one step.
func AllowedTransitions(kind object.Kind, from object.Status) []object.Status {
	var out []object.Status
	for _, to := range []object.Status{object.StatusOpen, object.StatusInProgress, object.StatusReview, object.StatusDone} {
		if to != from && matrices[kind][from][to] {
			out = append(out, to)
		}
	}
	return out
}
