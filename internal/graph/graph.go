// Package graph builds the prerequisite graph of a planning tree and
// detects cycles in it.
//
// Graph keys are clean ids (kind prefix stripped), so a hierarchical "T-a"
// and a bare "a" reference the same node. Only objects that take part in a
// prerequisite edge appear as nodes.
package graph

import (
	"fmt"
	"sort"

	"github.com/HendryAvila/trellis/internal/errs"
	"github.com/HendryAvila/trellis/internal/loader"
	"github.com/HendryAvila/trellis/internal/object"
)

// Graph maps a clean id to the clean ids of its prerequisites.
type Graph map[string][]string

// Operation names the kind of write being checked in memory.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Build returns the adjacency list of idx. Duplicate edges are dropped and
// every edge endpoint is present as a key.
func Build(idx *loader.Index) Graph {
	g := make(Graph)
	for _, id := range idx.IDs() {
		addEdges(g, id, idx.Entries[id].Object.Prerequisites)
	}
	return g
}

func addEdges(g Graph, id string, prereqs []string) {
	if len(prereqs) == 0 {
		return
	}
	from := object.CleanID(id)
	seen := make(map[string]bool, len(g[from]))
	for _, to := range g[from] {
		seen[to] = true
	}
	for _, p := range prereqs {
		to := object.CleanID(p)
		if to == "" || seen[to] {
			continue
		}
		seen[to] = true
		g[from] = append(g[from], to)
		if _, ok := g[to]; !ok {
			g[to] = []string{}
		}
	}
	if _, ok := g[from]; !ok {
		g[from] = []string{}
	}
}

// Clone returns a deep copy of g.
func (g Graph) Clone() Graph {
	c := make(Graph, len(g))
	for k, v := range g {
		c[k] = append([]string(nil), v...)
	}
	return c
}

// HasEdge reports whether from directly requires to.
func (g Graph) HasEdge(from, to string) bool {
	for _, v := range g[from] {
		if v == to {
			return true
		}
	}
	return false
}

// DetectCycle returns a cycle in g as a closed loop (first node repeated at
// the end), or nil when g is acyclic. Traversal order is deterministic:
// start nodes are visited first, then every key in sorted order.
func DetectCycle(g Graph, start ...string) []string {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(g))
	var stack []string

	var visit func(n string) []string
	visit = func(n string) []string {
		color[n] = gray
		stack = append(stack, n)
		for _, next := range g[n] {
			switch color[next] {
			case gray:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == next {
						cycle := append([]string(nil), stack[i:]...)
						return append(cycle, next)
					}
				}
			case white:
				if c := visit(next); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return nil
	}

	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	order := make([]string, 0, len(start)+len(keys))
	for _, s := range start {
		order = append(order, object.CleanID(s))
	}
	order = append(order, keys...)

	for _, n := range order {
		if color[n] == white {
			if c := visit(n); c != nil {
				return c
			}
		}
	}
	return nil
}

// CheckCyclesInMemory merges a proposed write into a copy of idx and
// returns a CircularDependencyError if the result has a cycle. idx is not
// modified and no file is touched.
func CheckCyclesInMemory(idx *loader.Index, proposed *object.Object, op Operation) error {
	if proposed == nil {
		return fmt.Errorf("checking cycles: no proposed object")
	}

	var next *loader.Index
	switch op {
	case OpCreate, OpUpdate:
		next = idx.With(proposed)
	case OpDelete:
		next = idx.Without(proposed.ID)
	default:
		return fmt.Errorf("checking cycles: unknown operation %q", op)
	}

	if cycle := DetectCycle(Build(next), proposed.ID); cycle != nil {
		return &errs.CircularDependencyError{Cycle: cycle}
	}
	return nil
}

// CheckGraph returns a CircularDependencyError if g has a cycle.
func CheckGraph(g Graph) error {
	if cycle := DetectCycle(g); cycle != nil {
		return &errs.CircularDependencyError{Cycle: cycle}
	}
	return nil
}
