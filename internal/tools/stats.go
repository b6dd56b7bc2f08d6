package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/HendryAvila/trellis/internal/children"
	"github.com/HendryAvila/trellis/internal/graph"
	"github.com/HendryAvila/trellis/internal/inference"
	"github.com/HendryAvila/trellis/internal/metrics"
	"github.com/mark3labs/mcp-go/mcp"
)

// CacheStatsTool handles the trellis_cache_stats MCP tool.
type CacheStatsTool struct {
	graphs    *graph.Cache
	children  *children.Cache
	inference *inference.Cache
}

// NewCacheStatsTool creates a CacheStatsTool. Nil caches are reported as
// disabled.
func NewCacheStatsTool(graphs *graph.Cache, kids *children.Cache, inf *inference.Cache) *CacheStatsTool {
	return &CacheStatsTool{graphs: graphs, children: kids, inference: inf}
}

// Definition returns the MCP tool definition for registration.
func (t *CacheStatsTool) Definition() mcp.Tool {
	return mcp.NewTool("trellis_cache_stats",
		mcp.WithDescription(
			"Show cache sizes and hit rates for the graph, children and kind-inference "+
				"caches, plus the process counters for invalidations and rejected writes.",
		),
	)
}

// Handle processes the trellis_cache_stats tool call.
func (t *CacheStatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var sb strings.Builder
	sb.WriteString("## Cache Statistics\n\n")
	sb.WriteString("| Cache | Entries | Hits | Misses |\n")
	sb.WriteString("|-------|---------|------|--------|\n")
	if t.graphs != nil {
		s := t.graphs.Stats()
		fmt.Fprintf(&sb, "| graph | %d | %d | %d |\n", s.Entries, s.Hits, s.Misses)
	}
	if t.children != nil {
		s := t.children.Stats()
		fmt.Fprintf(&sb, "| children | %d/%d | %d | %d |\n", s.Entries, s.Capacity, s.Hits, s.Misses)
	}
	if t.inference != nil {
		s := t.inference.Stats()
		fmt.Fprintf(&sb, "| inference | %d | %d | %d |\n", s.Entries, s.Hits, s.Misses)
	} else {
		sb.WriteString("| inference | disabled | - | - |\n")
	}

	counters, err := gatherCounters()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to gather metrics: %v", err)), nil
	}
	if len(counters) > 0 {
		sb.WriteString("\n## Counters\n\n")
		for _, c := range counters {
			fmt.Fprintf(&sb, "- `%s`: %g\n", c.name, c.value)
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

type counter struct {
	name  string
	value float64
}

// gatherCounters flattens every trellis counter series into name{labels}.
func gatherCounters() ([]counter, error) {
	families, err := metrics.Registry.Gather()
	if err != nil {
		return nil, err
	}
	var out []counter
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() == nil {
				continue
			}
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			out = append(out, counter{name: name, value: m.GetCounter().GetValue()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}
