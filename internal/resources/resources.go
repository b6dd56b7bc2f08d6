// Package resources implements MCP resource handlers for the planning tree.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (trellis://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/HendryAvila/trellis/internal/object"
	"github.com/HendryAvila/trellis/internal/paths"
	"github.com/HendryAvila/trellis/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
)

// StatusURI addresses the project status resource.
const StatusURI = "trellis://project/status"

// Status is the JSON body of the status resource.
type Status struct {
	Root    string                     `json:"root"`
	Total   int                        `json:"total"`
	ByKind  map[object.Kind]int        `json:"by_kind"`
	ByState map[object.Kind]StateCount `json:"by_status"`
	// Ready lists open tasks whose prerequisites are all done.
	Ready []string `json:"ready"`
}

// StateCount counts the objects of one kind per status.
type StateCount map[object.Status]int

// Handler manages trellis resource endpoints.
type Handler struct {
	store                store.Store
	root                 string
	ensurePlanningSubdir bool
}

// NewHandler creates a resource Handler reading the tree under root.
func NewHandler(s store.Store, root string, ensurePlanningSubdir bool) *Handler {
	return &Handler{store: s, root: root, ensurePlanningSubdir: ensurePlanningSubdir}
}

// StatusResource returns the MCP resource definition for project status.
func (h *Handler) StatusResource() mcp.Resource {
	return mcp.NewResource(
		StatusURI,
		"Trellis Project Status",
		mcp.WithResourceDescription("Object counts per kind and status, and the tasks ready to start"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleStatus returns the current project status as JSON.
func (h *Handler) HandleStatus(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	_, root, err := paths.ResolveProjectRoots(h.root, h.ensurePlanningSubdir)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	st, err := Summarize(ctx, h.store, root)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling status: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// Summarize counts every object under root, done ones included.
func Summarize(ctx context.Context, s store.Store, root string) (*Status, error) {
	recs, err := s.List(ctx, root, store.Filter{IncludeDone: true})
	if err != nil {
		return nil, err
	}

	st := &Status{
		Root:    root,
		Total:   len(recs),
		ByKind:  map[object.Kind]int{},
		ByState: map[object.Kind]StateCount{},
		Ready:   []string{},
	}
	done := map[string]bool{}
	for _, r := range recs {
		o := r.Object
		st.ByKind[o.Kind]++
		if st.ByState[o.Kind] == nil {
			st.ByState[o.Kind] = StateCount{}
		}
		st.ByState[o.Kind][o.Status]++
		if o.Status == object.StatusDone {
			done[o.ID] = true
			done[object.CleanID(o.ID)] = true
		}
	}

	// recs is already in backlog order, so Ready is too.
	for _, r := range recs {
		o := r.Object
		if o.Kind != object.KindTask || o.Status != object.StatusOpen {
			continue
		}
		ready := true
		for _, p := range o.Prerequisites {
			if !done[p] && !done[object.CleanID(p)] {
				ready = false
				break
			}
		}
		if ready {
			st.Ready = append(st.Ready, o.ID)
		}
	}
	return st, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
