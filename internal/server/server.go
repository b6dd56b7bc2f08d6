// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it owns every cache, builds the store on
// top of them and injects them into the tools, prompts and resources that
// depend on them. No business logic lives here, only wiring.
package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/HendryAvila/trellis/internal/children"
	"github.com/HendryAvila/trellis/internal/config"
	"github.com/HendryAvila/trellis/internal/graph"
	"github.com/HendryAvila/trellis/internal/inference"
	"github.com/HendryAvila/trellis/internal/journal"
	"github.com/HendryAvila/trellis/internal/paths"
	"github.com/HendryAvila/trellis/internal/prompts"
	"github.com/HendryAvila/trellis/internal/resources"
	"github.com/HendryAvila/trellis/internal/store"
	"github.com/HendryAvila/trellis/internal/tools"
	"github.com/HendryAvila/trellis/internal/watch"
	"github.com/mark3labs/mcp-go/server"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Deps is the object store together with the caches it reads through.
// One Deps is shared by everything a process serves.
type Deps struct {
	Graphs    *graph.Cache
	Children  *children.Cache
	Inference *inference.Engine
	Store     *store.FileStore
}

// NewDeps builds the caches and the store from settings.
func NewDeps(settings config.Settings, logger *slog.Logger) *Deps {
	tolerance := settings.MtimeTolerance.Std()
	graphs := graph.NewCache(graph.WithTolerance(tolerance), graph.WithLogger(logger))
	kids := children.NewCache(settings.ChildrenCacheSize, tolerance, children.WithLogger(logger))
	engine := inference.NewEngine(inference.NewCache(tolerance), logger)
	st := store.NewFileStore(graphs, kids, engine,
		store.WithLogger(logger),
		store.WithSchemaVersion(settings.SchemaVersion),
	)
	return &Deps{Graphs: graphs, Children: kids, Inference: engine, Store: st}
}

// New creates and configures the MCP server with all tools, prompts,
// and resources registered.
//
// The returned cleanup function stops the watcher and closes the journal;
// it must be called on shutdown (typically via defer). It is always
// non-nil and safe to call even if an optional subsystem failed to start.
func New(settings config.Settings, logger *slog.Logger) (*server.MCPServer, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := settings.Validate(); err != nil {
		return nil, noop, fmt.Errorf("invalid settings: %w", err)
	}

	// --- Create shared dependencies ---

	deps := NewDeps(settings, logger)
	roots := tools.Roots{Default: settings.ProjectRoot, EnsurePlanningSubdir: settings.EnsurePlanningSubdir}

	// --- Create the MCP server ---

	s := server.NewMCPServer(
		"trellis",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Register object tools ---

	createTool := tools.NewCreateObjectTool(deps.Store, roots)
	s.AddTool(createTool.Definition(), createTool.Handle)

	getTool := tools.NewGetObjectTool(deps.Store, roots)
	s.AddTool(getTool.Definition(), getTool.Handle)

	updateTool := tools.NewUpdateObjectTool(deps.Store, roots)
	s.AddTool(updateTool.Definition(), updateTool.Handle)

	deleteTool := tools.NewDeleteObjectTool(deps.Store, roots)
	s.AddTool(deleteTool.Definition(), deleteTool.Handle)

	listTool := tools.NewListBacklogTool(deps.Store, roots)
	s.AddTool(listTool.Definition(), listTool.Handle)

	childrenTool := tools.NewGetChildrenTool(deps.Store, roots)
	s.AddTool(childrenTool.Definition(), childrenTool.Handle)

	validateTool := tools.NewValidateProjectTool(deps.Store, roots)
	s.AddTool(validateTool.Definition(), validateTool.Handle)

	inferTool := tools.NewInferKindTool(deps.Inference, roots)
	s.AddTool(inferTool.Definition(), inferTool.Handle)

	statsTool := tools.NewCacheStatsTool(deps.Graphs, deps.Children, deps.Inference.Cache())
	s.AddTool(statsTool.Definition(), statsTool.Handle)

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// --- Journal ---
	//
	// The journal is an independent subsystem: if it fails to open, the
	// object tools keep working. We log a warning and skip the history
	// tool.

	if settings.Journal.Enabled {
		cfg := journal.DefaultConfig()
		cfg.DataDir = settings.Journal.Dir
		j, err := journal.New(cfg)
		if err != nil {
			logger.Warn("journal disabled", "dir", settings.Journal.Dir, "error", err)
		} else {
			cleanups = append(cleanups, func() {
				if err := j.Close(); err != nil {
					logger.Warn("journal close", "error", err)
				}
			})
			deps.Store.AddObserver(journal.NewBridge(j, logger))

			historyTool := tools.NewHistoryTool(j, roots)
			s.AddTool(historyTool.Definition(), historyTool.Handle)
		}
	}

	// --- Watcher ---
	//
	// Optional as well: the caches detect out-of-process edits by mtime on
	// every lookup, the watcher only drops stale entries sooner.

	if settings.Watch {
		if stop, err := startWatcher(settings, deps, logger); err != nil {
			logger.Warn("watcher disabled", "root", settings.ProjectRoot, "error", err)
		} else {
			cleanups = append(cleanups, stop)
		}
	}

	// --- Register prompts ---

	planPrompt := prompts.NewPlanPrompt()
	s.AddPrompt(planPrompt.Definition(), planPrompt.Handle)

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler(deps.Store, settings.ProjectRoot, settings.EnsurePlanningSubdir)
	s.AddResource(resourceHandler.StatusResource(), resourceHandler.HandleStatus)

	return s, cleanup, nil
}

// startWatcher watches the configured planning tree and returns a function
// that stops it and waits for its goroutine to exit.
func startWatcher(settings config.Settings, deps *Deps, logger *slog.Logger) (func(), error) {
	_, root, err := paths.ResolveProjectRoots(settings.ProjectRoot, settings.EnsurePlanningSubdir)
	if err != nil {
		return nil, err
	}
	handler := watch.Invalidator(root, deps.Graphs, deps.Children, deps.Inference.Cache(), logger)
	w, err := watch.New(root, settings.WatchDebounce.Std(), handler, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(ctx); err != nil {
			logger.Warn("watcher stopped", "root", root, "error", err)
		}
	}()
	logger.Info("watching planning tree", "root", root)

	return func() {
		cancel()
		<-done
	}, nil
}

// noop is a no-op cleanup function returned when New fails.
func noop() {}

// serverInstructions returns the system instructions that tell the AI
// how to use trellis effectively.
func serverInstructions() string {
	return `You have access to Trellis, a planning store that keeps work as a tree of
Markdown files: projects contain epics, epics contain features, features contain
tasks. Tasks may also stand alone without a parent.

## Identifiers
- Every id carries its kind prefix: P- (project), E- (epic), F- (feature), T- (task).
- Tools accept bare ids ("login") where unambiguous; tasks win over features,
  features over epics, epics over projects.
- trellis_create_object generates the id from the title when you omit it.

## Rules the store enforces
- Parents must exist and be of the right kind (epic → project, feature → epic,
  task → feature or none).
- Prerequisites must name existing objects and must never form a cycle.
- Status follows open → in-progress → review → done. Tasks may also go straight
  to done from open or in-progress. done is final.
- Deleting an object deletes everything beneath it. If other objects list any
  of them as a prerequisite, deletion fails unless you pass force=true, which
  removes those references.
- A rejected write changes nothing on disk. The error starts with a code in
  brackets (e.g. [circular_dependency]); fix the input rather than retrying.

## Workflow
1. trellis_list_backlog to see what exists and what is next.
2. trellis_create_object / trellis_update_object to plan and track work.
3. trellis_validate_project after bulk edits or when files were changed by hand.
4. trellis_history (when available) to see what changed recently.`
}
