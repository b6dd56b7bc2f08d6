package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/HendryAvila/trellis/internal/children"
	"github.com/HendryAvila/trellis/internal/errs"
	"github.com/HendryAvila/trellis/internal/graph"
	"github.com/HendryAvila/trellis/internal/inference"
	"github.com/HendryAvila/trellis/internal/object"
	"github.com/HendryAvila/trellis/internal/testfixture"
	"github.com/HendryAvila/trellis/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var fixedNow = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

func init() {
	timeNow = func() time.Time { return fixedNow }
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnCommit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = string(ev.Op) + " " + ev.ObjectID
	}
	return out
}

func newStore(t *testing.T, opts ...Option) (*testfixture.Tree, *FileStore) {
	t.Helper()
	tr := testfixture.NewTree(t)
	engine := inference.NewEngine(inference.NewCache(inference.DefaultMtimeTolerance), nil)
	s := NewFileStore(
		graph.NewCache(),
		children.NewCache(children.DefaultMaxEntries, graph.DefaultMtimeTolerance),
		engine,
		opts...,
	)
	return tr, s
}

func demoStore(t *testing.T, opts ...Option) (*testfixture.Tree, *FileStore) {
	t.Helper()
	tr, s := newStore(t, opts...)
	tr.Demo()
	return tr, s
}

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func status(s object.Status) *object.Status { return &s }

// --- Create ---

func TestCreate_ScenarioA(t *testing.T) {
	tr, s := newStore(t)
	ctx := context.Background()

	mk := func(in CreateInput) *Record {
		t.Helper()
		rec, err := s.Create(ctx, tr.Root, in)
		require.NoError(t, err)
		return rec
	}
	p := mk(CreateInput{Kind: object.KindProject, ID: "demo", Title: "Demo"})
	e := mk(CreateInput{Kind: object.KindEpic, ID: "E-demo", Parent: "P-demo", Title: "Epic"})
	f := mk(CreateInput{Kind: object.KindFeature, ID: "F-demo", Parent: "demo", Title: "Feature"})
	a := mk(CreateInput{Kind: object.KindTask, ID: "T-a", Parent: "F-demo", Title: "A"})
	b := mk(CreateInput{Kind: object.KindTask, ID: "b", Parent: "F-demo", Title: "B", Prerequisites: []string{"T-a"}})

	assert.Equal(t, filepath.Join(tr.Root, "projects", "P-demo", "project.md"), p.Path)
	assert.Equal(t, filepath.Join(filepath.Dir(p.Path), "epics", "E-demo", "epic.md"), e.Path)
	assert.Equal(t, filepath.Join(filepath.Dir(e.Path), "features", "F-demo", "feature.md"), f.Path)
	assert.Equal(t, filepath.Join(filepath.Dir(f.Path), "tasks-open", "T-a.md"), a.Path)
	assert.Equal(t, "T-b", b.Object.ID)
	assert.Equal(t, "E-demo", f.Object.ParentID())
	assert.Equal(t, "E-demo", f.Object.CanonicalParent())

	snap, err := s.graphs.Get(ctx, tr.Root)
	require.NoError(t, err)
	assert.Equal(t, graph.Graph{"a": {}, "b": {"a"}}, snap.Graph)

	onDisk := tr.Read(b.Path)
	assert.Equal(t, object.StatusOpen, onDisk.Status)
	assert.Equal(t, object.PriorityNormal, onDisk.Priority)
	assert.Equal(t, fixedNow, onDisk.Created.UTC())
	assert.Equal(t, object.SchemaVersion, onDisk.SchemaVersion)
}

func TestCreate_ScenarioC_StandaloneCrossesLayouts(t *testing.T) {
	tr, s := demoStore(t)

	rec, err := s.Create(context.Background(), tr.Root, CreateInput{
		Kind: object.KindTask, ID: "task-urgent", Title: "Urgent", Prerequisites: []string{"T-a"},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tr.Root, "tasks-open", "T-task-urgent.md"), rec.Path)
	assert.True(t, rec.Object.IsStandalone())
}

func TestCreate_GeneratesIDFromTitle(t *testing.T) {
	tr, s := newStore(t)
	ctx := context.Background()

	first, err := s.Create(ctx, tr.Root, CreateInput{Kind: object.KindTask, Title: "Fix login flow"})
	require.NoError(t, err)
	second, err := s.Create(ctx, tr.Root, CreateInput{Kind: object.KindTask, Title: "Fix login flow"})
	require.NoError(t, err)

	assert.Equal(t, "T-fix-login-flow", first.Object.ID)
	assert.Equal(t, "T-fix-login-flow-2", second.Object.ID)
}

func TestCreate_RejectsWithoutTouchingDisk(t *testing.T) {
	tests := []struct {
		name  string
		setup func(tr *testfixture.Tree)
		in    CreateInput
		code  errs.Code
	}{
		{
			name: "missing parent",
			in:   CreateInput{Kind: object.KindTask, ID: "x", Parent: "F-ghost", Title: "X"},
			code: errs.CodeParentNotFound,
		},
		{
			name: "duplicate across layouts",
			in:   CreateInput{Kind: object.KindTask, ID: "a", Title: "A again"},
			code: errs.CodeDuplicate,
		},
		{
			name: "missing prerequisite",
			in:   CreateInput{Kind: object.KindTask, ID: "x", Title: "X", Prerequisites: []string{"T-ghost"}},
			code: errs.CodePrerequisiteNotFound,
		},
		{
			name: "cycle through dangling reference",
			setup: func(tr *testfixture.Tree) {
				tr.Standalone("loop", "T-new")
			},
			in:   CreateInput{Kind: object.KindTask, ID: "new", Title: "New", Prerequisites: []string{"T-loop"}},
			code: errs.CodeCircularDependency,
		},
		{
			name: "path traversal",
			in:   CreateInput{Kind: object.KindTask, ID: "../escape", Title: "X"},
			code: errs.CodeSecurity,
		},
		{
			name: "nested kind prefix",
			in:   CreateInput{Kind: object.KindTask, ID: "T-E-commerce", Parent: "F-demo", Title: "X"},
			code: errs.CodeSecurity,
		},
		{
			name: "repeated kind prefix",
			in:   CreateInput{Kind: object.KindTask, ID: "T-T-dup", Parent: "F-demo", Title: "X"},
			code: errs.CodeSecurity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, s := demoStore(t)
			if tt.setup != nil {
				tt.setup(tr)
			}
			before := testfixture.Snapshot(t, tr.Root)

			_, err := s.Create(context.Background(), tr.Root, tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.code, errs.CodeOf(err), "error: %v", err)
			assert.Equal(t, before, testfixture.Snapshot(t, tr.Root))
		})
	}
}

func TestCreate_FailedValidationLeavesNoDirectories(t *testing.T) {
	tr, s := demoStore(t)
	_, err := s.Create(context.Background(), tr.Root, CreateInput{
		Kind: object.KindTask, ID: "x", Title: "", Prerequisites: []string{"T-ghost"},
	})
	require.Error(t, err)

	var agg *errs.ValidationError
	require.True(t, errors.As(err, &agg), "schema and prerequisite failures are aggregated: %v", err)
	assert.Len(t, agg.Errors, 2)

	_, statErr := os.Stat(filepath.Join(tr.Root, "tasks-open"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCreate_ConcurrentWritersAreSerialized(t *testing.T) {
	tr, s := newStore(t)
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("job-%d", i)
		g.Go(func() error {
			_, err := s.Create(ctx, tr.Root, CreateInput{Kind: object.KindTask, ID: id, Title: id})
			return err
		})
	}
	require.NoError(t, g.Wait())

	list, err := s.List(ctx, tr.Root, Filter{})
	require.NoError(t, err)
	assert.Len(t, list, 8)
}

func TestCreate_ConcurrentReadersDoNotFailWrites(t *testing.T) {
	tr, s := demoStore(t)
	ctx := context.Background()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, err := s.List(ctx, tr.Root, Filter{})
				assert.NoError(t, err)
				// The watcher drops the graph on every batch.
				s.graphs.Invalidate(tr.Root)
			}
		}()
	}

	for i := 0; i < 60; i++ {
		id := fmt.Sprintf("task-%d", i)
		_, err := s.Create(ctx, tr.Root, CreateInput{
			Kind: object.KindTask, ID: id, Parent: "F-demo", Title: id, Prerequisites: []string{"T-a"},
		})
		require.NoError(t, err, id)
	}
	close(stop)
	wg.Wait()

	list, err := s.List(ctx, tr.Root, Filter{Kind: object.KindTask})
	require.NoError(t, err)
	assert.Len(t, list, 62)
}

// failPostWrite makes the post-write check reject every write after
// confirming the file reached its final path.
func failPostWrite(t *testing.T) {
	t.Helper()
	orig := verifyWritten
	verifyWritten = func(_ *validation.Pipeline, _ context.Context, _ string, path string, obj *object.Object) error {
		assert.FileExists(t, path)
		return fmt.Errorf("post-write check of %s: file changed underneath", obj.ID)
	}
	t.Cleanup(func() { verifyWritten = orig })
}

func TestCreate_FailedPostWriteCheckRestoresTree(t *testing.T) {
	rec := &recorder{}
	tr, s := demoStore(t, WithObserver(rec))
	ctx := context.Background()
	before := testfixture.Snapshot(t, tr.Root)
	failPostWrite(t)

	_, err := s.Create(ctx, tr.Root, CreateInput{Kind: object.KindTask, ID: "x", Title: "X"})
	require.Error(t, err)
	assert.Equal(t, errs.CodeInternal, errs.CodeOf(err))

	assert.Equal(t, before, testfixture.Snapshot(t, tr.Root))
	assert.NoDirExists(t, filepath.Join(tr.Root, "tasks-open"))
	assert.Empty(t, rec.ops())

	_, err = s.Get(ctx, tr.Root, "T-x")
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))
}

func TestUpdate_FailedPostWriteCheckRestoresDoneMove(t *testing.T) {
	rec := &recorder{}
	tr, s := demoStore(t, WithObserver(rec))
	ctx := context.Background()
	open, err := s.Get(ctx, tr.Root, "T-a")
	require.NoError(t, err)
	before := testfixture.Snapshot(t, tr.Root)
	failPostWrite(t)

	_, err = s.Update(ctx, tr.Root, "T-a", Patch{Status: status(object.StatusDone)}, false)
	require.Error(t, err)

	assert.Equal(t, before, testfixture.Snapshot(t, tr.Root))
	featureDir := filepath.Dir(filepath.Dir(open.Path))
	assert.NoDirExists(t, filepath.Join(featureDir, "tasks-done"))
	assert.Empty(t, rec.ops())

	got, err := s.Get(ctx, tr.Root, "T-a")
	require.NoError(t, err)
	assert.Equal(t, open.Path, got.Path)
	assert.Equal(t, object.StatusOpen, got.Object.Status)
}

// --- Update ---

func TestUpdate_MergePatch(t *testing.T) {
	tr, s := demoStore(t)
	ctx := context.Background()
	before, err := s.Get(ctx, tr.Root, "T-b")
	require.NoError(t, err)

	title := "Renamed"
	body := "## Notes\n\nnew body\n"
	prereqs := []string{}
	rec, err := s.Update(ctx, tr.Root, "b", Patch{Title: &title, Body: &body, Prerequisites: &prereqs}, false)
	require.NoError(t, err)

	assert.Equal(t, before.Path, rec.Path)
	got := tr.Read(rec.Path)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, body, got.Body)
	assert.Empty(t, got.Prerequisites)
	assert.Equal(t, before.Object.Created.UTC(), got.Created.UTC())
	assert.Equal(t, fixedNow, got.Updated.UTC())
	assert.Equal(t, before.Object.Priority, got.Priority)
}

func TestUpdate_ScenarioD_DoneMovesTask(t *testing.T) {
	tr, s := demoStore(t)
	ctx := context.Background()
	open, err := s.Get(ctx, tr.Root, "T-a")
	require.NoError(t, err)

	rec, err := s.Update(ctx, tr.Root, "T-a", Patch{Status: status(object.StatusDone)}, false)
	require.NoError(t, err)

	featureDir := filepath.Dir(filepath.Dir(open.Path))
	assert.Equal(t, filepath.Join(featureDir, "tasks-done", "20250304_050607-T-a.md"), rec.Path)
	_, statErr := os.Stat(open.Path)
	assert.True(t, os.IsNotExist(statErr))

	// The id resolves to the new location and the dependent still does.
	got, err := s.Get(ctx, tr.Root, "a")
	require.NoError(t, err)
	assert.Equal(t, rec.Path, got.Path)
	_, err = s.Get(ctx, tr.Root, "T-b")
	require.NoError(t, err)

	_, err = s.Update(ctx, tr.Root, "T-a", Patch{Status: status(object.StatusOpen)}, false)
	var transition *errs.InvalidStatusTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, "done", transition.From)
}

func TestUpdate_ReviewToOpenRejected(t *testing.T) {
	tr, s := demoStore(t)
	ctx := context.Background()

	_, err := s.Update(ctx, tr.Root, "T-a", Patch{Status: status(object.StatusInProgress)}, false)
	require.NoError(t, err)
	_, err = s.Update(ctx, tr.Root, "T-a", Patch{Status: status(object.StatusReview)}, false)
	require.NoError(t, err)

	before := testfixture.Snapshot(t, tr.Root)
	_, err = s.Update(ctx, tr.Root, "T-a", Patch{Status: status(object.StatusOpen)}, false)
	assert.Equal(t, errs.CodeInvalidTransition, errs.CodeOf(err))
	assert.Equal(t, before, testfixture.Snapshot(t, tr.Root))
}

func TestUpdate_ScenarioB_CycleRejected(t *testing.T) {
	tr, s := demoStore(t)
	before := testfixture.Snapshot(t, tr.Root)

	prereqs := []string{"T-b"}
	_, err := s.Update(context.Background(), tr.Root, "T-a", Patch{Prerequisites: &prereqs}, false)
	var cyc *errs.CircularDependencyError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, []string{"a", "b", "a"}, cyc.Cycle)
	assert.Equal(t, before, testfixture.Snapshot(t, tr.Root))
}

func TestUpdate_StatusDeletedRoutesToDelete(t *testing.T) {
	tr, s := demoStore(t)
	ctx := context.Background()

	_, err := s.Update(ctx, tr.Root, "T-a", Patch{Status: status(object.StatusDeleted)}, false)
	assert.Equal(t, errs.CodeDependentsExist, errs.CodeOf(err))

	rec, err := s.Update(ctx, tr.Root, "T-b", Patch{Status: status(object.StatusDeleted)}, false)
	require.NoError(t, err)
	assert.Nil(t, rec)
	_, err = s.Get(ctx, tr.Root, "T-b")
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))
}

// --- Delete ---

func TestDelete_ScenarioE_DependentsBlock(t *testing.T) {
	tr, s := demoStore(t)
	before := testfixture.Snapshot(t, tr.Root)

	_, err := s.Delete(context.Background(), tr.Root, "T-a", false)
	var dep *errs.DependentsExistError
	require.ErrorAs(t, err, &dep)
	assert.Equal(t, []string{"T-b"}, dep.Dependents)
	assert.Equal(t, before, testfixture.Snapshot(t, tr.Root))
}

func TestDelete_ForceRewritesDependents(t *testing.T) {
	tr, s := demoStore(t)
	ctx := context.Background()
	b, err := s.Get(ctx, tr.Root, "T-b")
	require.NoError(t, err)

	res, err := s.Delete(ctx, tr.Root, "T-a", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"T-a"}, res.Removed)
	assert.Equal(t, []string{"T-b"}, res.Rewritten)

	got := tr.Read(b.Path)
	assert.Empty(t, got.Prerequisites)
	_, err = s.Get(ctx, tr.Root, "T-a")
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))

	rep, err := s.Check(ctx, tr.Root)
	require.NoError(t, err)
	assert.True(t, rep.OK(), "%+v", rep.Issues)
}

func TestDelete_CascadeRemovesSubtree(t *testing.T) {
	tr, s := demoStore(t)
	ctx := context.Background()
	p, err := s.Get(ctx, tr.Root, "P-demo")
	require.NoError(t, err)

	res, err := s.Delete(ctx, tr.Root, "E-demo", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"T-a", "T-b", "F-demo", "E-demo"}, res.Removed)

	_, statErr := os.Stat(filepath.Join(filepath.Dir(p.Path), "epics"))
	assert.True(t, os.IsNotExist(statErr), "empty collection directory is pruned")
	left := testfixture.Snapshot(t, tr.Root)
	assert.Len(t, left, 1)
	assert.Contains(t, left, filepath.Join("projects", "P-demo", "project.md"))
}

func TestDelete_DoneNeedsForce(t *testing.T) {
	tr, s := newStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, tr.Root, CreateInput{Kind: object.KindTask, ID: "fin", Title: "Fin"})
	require.NoError(t, err)
	_, err = s.Update(ctx, tr.Root, "T-fin", Patch{Status: status(object.StatusDone)}, false)
	require.NoError(t, err)

	_, err = s.Delete(ctx, tr.Root, "T-fin", false)
	assert.Equal(t, errs.CodeInvalidTransition, errs.CodeOf(err))

	_, err = s.Delete(ctx, tr.Root, "T-fin", true)
	require.NoError(t, err)
}

// --- Reads ---

func TestList_FilterAndOrder(t *testing.T) {
	tr, s := demoStore(t)
	ctx := context.Background()

	high := object.PriorityHigh
	_, err := s.Update(ctx, tr.Root, "T-b", Patch{Priority: &high}, false)
	require.NoError(t, err)
	_, err = s.Create(ctx, tr.Root, CreateInput{Kind: object.KindTask, ID: "solo", Title: "Solo", Status: object.StatusDone})
	require.NoError(t, err)

	ids := func(recs []Record) []string {
		out := make([]string, len(recs))
		for i, r := range recs {
			out[i] = r.Object.ID
		}
		return out
	}

	tasks, err := s.List(ctx, tr.Root, Filter{Kind: object.KindTask})
	require.NoError(t, err)
	assert.Equal(t, []string{"T-b", "T-a"}, ids(tasks))

	all, err := s.List(ctx, tr.Root, Filter{Kind: object.KindTask, IncludeDone: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"T-b", "T-a", "T-solo"}, ids(all))

	done, err := s.List(ctx, tr.Root, Filter{Status: object.StatusDone})
	require.NoError(t, err)
	assert.Equal(t, []string{"T-solo"}, ids(done))

	underFeature, err := s.List(ctx, tr.Root, Filter{Parent: "demo"})
	require.NoError(t, err)
	assert.Equal(t, []string{"T-b", "T-a"}, ids(underFeature), "bare parent resolves to the most specific kind")

	_, err = s.List(ctx, tr.Root, Filter{Parent: "F-ghost"})
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))
}

func TestChildren(t *testing.T) {
	tr, s := demoStore(t)
	ctx := context.Background()

	kids, err := s.Children(ctx, tr.Root, "F-demo")
	require.NoError(t, err)
	require.Len(t, kids, 2)
	assert.Equal(t, "T-a", kids[0].ID)
	assert.Equal(t, "T-b", kids[1].ID)

	_, err = s.Create(ctx, tr.Root, CreateInput{Kind: object.KindTask, ID: "c", Parent: "F-demo", Title: "C"})
	require.NoError(t, err)
	kids, err = s.Children(ctx, tr.Root, "F-demo")
	require.NoError(t, err)
	assert.Len(t, kids, 3, "create invalidates the parent's children entry")

	none, err := s.Children(ctx, tr.Root, "T-a")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCheck_ReportsProblems(t *testing.T) {
	tr, s := demoStore(t)
	ctx := context.Background()

	tr.Standalone("dangling", "T-ghost")
	broken := filepath.Join(tr.Root, "tasks-open", "T-broken.md")
	require.NoError(t, os.WriteFile(broken, []byte("no front matter"), 0o644))

	rep, err := s.Check(ctx, tr.Root)
	require.NoError(t, err)
	assert.False(t, rep.OK())

	codes := map[errs.Code]int{}
	for _, is := range rep.Issues {
		codes[is.Code]++
	}
	assert.Equal(t, 1, codes[errs.CodePrerequisiteNotFound])
	assert.Equal(t, 1, codes[errs.CodeSchema])
	assert.Equal(t, 6, rep.Objects)
}

// --- Observers and rollback ---

func TestObserverSeesCommitsOnly(t *testing.T) {
	rec := &recorder{}
	tr, s := demoStore(t, WithObserver(rec))
	ctx := context.Background()

	_, err := s.Create(ctx, tr.Root, CreateInput{Kind: object.KindTask, ID: "x", Title: "X", Prerequisites: []string{"T-ghost"}})
	require.Error(t, err)
	_, err = s.Update(ctx, tr.Root, "T-a", Patch{Status: status(object.StatusDone)}, false)
	require.NoError(t, err)
	_, err = s.Delete(ctx, tr.Root, "T-a", true)
	require.NoError(t, err)

	assert.Equal(t, []string{"move T-a", "update T-b", "delete T-a"}, rec.ops())
}

func TestTxRollbackRestoresTree(t *testing.T) {
	tr := testfixture.NewTree(t)
	tr.Demo()
	before := testfixture.Snapshot(t, tr.Root)

	existing := filepath.Join(tr.Root, "projects", "P-demo", "project.md")
	fresh := filepath.Join(tr.Root, "tasks-open", "nested", "T-new.md")

	tx := newTx(nopLogger())
	require.NoError(t, tx.write(fresh, []byte("new")))
	require.NoError(t, tx.write(existing, []byte("overwritten")))
	require.NoError(t, tx.remove(filepath.Join(tr.Root, "projects", "P-demo", "epics", "E-demo", "epic.md")))
	require.NoError(t, tx.rollback())

	assert.Equal(t, before, testfixture.Snapshot(t, tr.Root))
	_, err := os.Stat(filepath.Join(tr.Root, "tasks-open"))
	assert.True(t, os.IsNotExist(err), "directories created by the write are removed")
}
