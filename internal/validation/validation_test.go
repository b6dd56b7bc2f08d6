package validation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HendryAvila/trellis/internal/errs"
	"github.com/HendryAvila/trellis/internal/graph"
	"github.com/HendryAvila/trellis/internal/inference"
	"github.com/HendryAvila/trellis/internal/object"
	"github.com/HendryAvila/trellis/internal/paths"
	"github.com/HendryAvila/trellis/internal/testfixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeline(t *testing.T) (*testfixture.Tree, *Pipeline) {
	t.Helper()
	tr := testfixture.NewTree(t)
	engine := inference.NewEngine(inference.NewCache(0), nil)
	return tr, New(graph.NewCache(), engine, nil)
}

func create(obj *object.Object, root string) Request {
	return Request{Root: root, Object: obj, Op: graph.OpCreate}
}

// --- Schema ---

func TestValidateSchema_CollectsEveryIssue(t *testing.T) {
	obj := &object.Object{Kind: object.KindEpic, ID: "E-x", Status: "started", Priority: "urgent"}
	err := ValidateSchema(obj)

	var schema *errs.SchemaValidationError
	require.ErrorAs(t, err, &schema)

	fields := map[string]bool{}
	for _, is := range schema.Issues {
		fields[is.Field] = true
	}
	for _, f := range []string{"status", "title", "priority", "created", "updated", "schema_version", "parent"} {
		assert.True(t, fields[f], "missing issue for %s: %v", f, schema.Issues)
	}
}

func TestValidateSchema_KindRules(t *testing.T) {
	tr := testfixture.NewTree(t)

	project := tr.Object(object.KindProject, "P-x", "P-other")
	assert.Error(t, ValidateSchema(project))

	legacy := tr.Object(object.KindTask, "T-legacy", "")
	legacy.SchemaVersion = "1.0"
	err := ValidateSchema(legacy)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "standalone tasks require schema_version 1.1")

	hierarchical := tr.Object(object.KindTask, "T-legacy", "F-x")
	hierarchical.SchemaVersion = "1.0"
	assert.NoError(t, ValidateSchema(hierarchical))

	wrongPrefix := tr.Object(object.KindTask, "T-x", "F-x")
	wrongPrefix.ID = "F-x"
	assert.Error(t, ValidateSchema(wrongPrefix))

	self := tr.Object(object.KindTask, "T-x", "F-x", "T-x")
	err = ValidateSchema(self)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prerequisites[0]")

	badVersion := tr.Object(object.KindTask, "T-x", "F-x")
	badVersion.SchemaVersion = "one"
	assert.Error(t, ValidateSchema(badVersion))

	assert.NoError(t, ValidateSchema(tr.Object(object.KindTask, "T-ok", "")))
}

func TestAtLeast(t *testing.T) {
	assert.True(t, AtLeast("1.1", 1, 1))
	assert.True(t, AtLeast("1.10", 1, 1))
	assert.True(t, AtLeast("2", 1, 1))
	assert.False(t, AtLeast("1.0", 1, 1))
	assert.False(t, AtLeast("x.y", 1, 1))
}

// --- Transitions ---

func TestCheckTransition_Matrix(t *testing.T) {
	for _, kind := range object.Kinds {
		assert.NoError(t, CheckTransition(kind, object.StatusOpen, object.StatusInProgress), kind)
		assert.NoError(t, CheckTransition(kind, object.StatusInProgress, object.StatusReview), kind)
		assert.NoError(t, CheckTransition(kind, object.StatusReview, object.StatusDone), kind)
		assert.NoError(t, CheckTransition(kind, object.StatusReview, object.StatusReview), kind)

		for _, bad := range [][2]object.Status{
			{object.StatusDone, object.StatusOpen},
			{object.StatusReview, object.StatusOpen},
			{object.StatusDone, object.StatusInProgress},
			{object.StatusOpen, object.StatusDeleted},
			{object.StatusDeleted, object.StatusOpen},
			{object.StatusOpen, object.StatusReview},
		} {
			err := CheckTransition(kind, bad[0], bad[1])
			var inv *errs.InvalidStatusTransitionError
			assert.True(t, errors.As(err, &inv), "%s %s->%s", kind, bad[0], bad[1])
		}
	}

	assert.NoError(t, CheckTransition(object.KindTask, object.StatusOpen, object.StatusDone))
	assert.NoError(t, CheckTransition(object.KindTask, object.StatusInProgress, object.StatusDone))
	assert.Error(t, CheckTransition(object.KindFeature, object.StatusOpen, object.StatusDone))
	assert.Error(t, CheckTransition(object.KindEpic, object.StatusInProgress, object.StatusDone))
	assert.Error(t, CheckTransition("story", object.StatusOpen, object.StatusDone))
}

func TestAllowedTransitions(t *testing.T) {
	assert.Equal(t, []object.Status{object.StatusInProgress, object.StatusDone}, AllowedTransitions(object.KindTask, object.StatusOpen))
	assert.Equal(t, []object.Status{object.StatusInProgress}, AllowedTransitions(object.KindProject, object.StatusOpen))
	assert.Empty(t, AllowedTransitions(object.KindTask, object.StatusDone))
}

// --- Pipeline ---

func TestValidateObjectData_ScenarioA(t *testing.T) {
	tr, p := newPipeline(t)
	ctx := context.Background()

	steps := []*object.Object{
		tr.Object(object.KindProject, "P-demo", ""),
		tr.Object(object.KindEpic, "E-demo", "P-demo"),
		tr.Object(object.KindFeature, "F-demo", "E-demo"),
		tr.Object(object.KindTask, "T-a", "F-demo"),
		tr.Object(object.KindTask, "T-b", "F-demo", "T-a"),
	}
	for _, obj := range steps {
		require.NoError(t, p.ValidateObjectData(ctx, create(obj, tr.Root)), obj.ID)
		tr.Write(obj)
	}

	snap, err := p.graphs.Get(ctx, tr.Root)
	require.NoError(t, err)
	assert.Equal(t, graph.Graph{"a": {}, "b": {"a"}}, snap.Graph)
}

func TestValidateObjectData_ScenarioB(t *testing.T) {
	tr, p := newPipeline(t)
	tr.Demo()
	before := testfixture.Snapshot(t, tr.Root)

	path, err := paths.IDToPath(object.KindTask, "T-a", tr.Root)
	require.NoError(t, err)
	prev := tr.Read(path)
	next := prev.Clone()
	next.Prerequisites = []string{"T-b"}

	err = p.ValidateObjectData(context.Background(), Request{Root: tr.Root, Object: next, Op: graph.OpUpdate, Previous: prev})
	var cyc *errs.CircularDependencyError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, []string{"a", "b", "a"}, cyc.Cycle)
	assert.Equal(t, before, testfixture.Snapshot(t, tr.Root))
}

func TestValidateObjectData_ScenarioC(t *testing.T) {
	tr, p := newPipeline(t)
	tr.Demo()

	urgent := tr.Object(object.KindTask, "task-urgent", "", "T-a")
	assert.NoError(t, p.ValidateObjectData(context.Background(), create(urgent, tr.Root)))

	bare := tr.Object(object.KindTask, "task-bare", "", "a")
	assert.NoError(t, p.ValidateObjectData(context.Background(), create(bare, tr.Root)))
}

func TestValidateObjectData_ScenarioD(t *testing.T) {
	tr, p := newPipeline(t)
	tr.Demo()
	ctx := context.Background()

	path, err := paths.IDToPath(object.KindTask, "T-a", tr.Root)
	require.NoError(t, err)
	prev := tr.Read(path)

	done := prev.Clone()
	done.Status = object.StatusDone
	assert.NoError(t, p.ValidateObjectData(ctx, Request{Root: tr.Root, Object: done, Op: graph.OpUpdate, Previous: prev}))

	review := prev.Clone()
	review.Status = object.StatusReview
	reopened := prev.Clone()
	reopened.Status = object.StatusOpen
	err = p.ValidateObjectData(ctx, Request{Root: tr.Root, Object: reopened, Op: graph.OpUpdate, Previous: review})
	assert.Equal(t, errs.CodeInvalidTransition, errs.CodeOf(err))
}

func TestValidateObjectData_Parent(t *testing.T) {
	tr, p := newPipeline(t)
	tr.Demo()
	ctx := context.Background()

	missing := tr.Object(object.KindTask, "T-x", "F-nope")
	err := p.ValidateObjectData(ctx, create(missing, tr.Root))
	var pnf *errs.ParentNotFoundError
	require.ErrorAs(t, err, &pnf)
	assert.Equal(t, "F-nope", pnf.ParentID)

	wrongKind := tr.Object(object.KindTask, "T-x", "E-demo")
	err = p.ValidateObjectData(ctx, create(wrongKind, tr.Root))
	assert.Equal(t, errs.CodeParentNotFound, errs.CodeOf(err))

	bare := tr.Object(object.KindTask, "T-x", "demo")
	assert.NoError(t, p.ValidateObjectData(ctx, create(bare, tr.Root)))
}

func TestValidateObjectData_Duplicate(t *testing.T) {
	tr, p := newPipeline(t)
	tr.Demo()
	ctx := context.Background()

	// A standalone task may not reuse a hierarchical task id.
	dup := tr.Object(object.KindTask, "T-a", "")
	err := p.ValidateObjectData(ctx, create(dup, tr.Root))
	var d *errs.DuplicateObjectError
	require.ErrorAs(t, err, &d)

	// An unparseable file still occupies its id.
	require.NoError(t, os.MkdirAll(filepath.Join(tr.Root, "tasks-open"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tr.Root, "tasks-open", "T-broken.md"), []byte("junk"), 0o644))
	err = p.ValidateObjectData(ctx, create(tr.Object(object.KindTask, "T-broken", ""), tr.Root))
	assert.Equal(t, errs.CodeDuplicate, errs.CodeOf(err))
}

func TestValidateObjectData_AggregatesPrerequisites(t *testing.T) {
	tr, p := newPipeline(t)
	tr.Demo()

	obj := tr.Object(object.KindTask, "T-c", "F-demo", "T-a", "T-aa", "T-zzz")
	obj.Title = ""
	err := p.ValidateObjectData(context.Background(), create(obj, tr.Root))

	var ve *errs.ValidationError
	require.ErrorAs(t, err, &ve)
	leaves := errs.Flatten(err)
	require.Len(t, leaves, 3)

	var schema *errs.SchemaValidationError
	assert.True(t, errors.As(leaves[0], &schema))

	var first, second *errs.PrerequisiteNotFoundError
	require.True(t, errors.As(leaves[1], &first))
	require.True(t, errors.As(leaves[2], &second))
	assert.Equal(t, "T-aa", first.Prerequisite)
	assert.Contains(t, first.Suggestions, "T-a")
	assert.Equal(t, "T-zzz", second.Prerequisite)
}

func TestValidateObjectData_SecurityIsFailFast(t *testing.T) {
	tr, p := newPipeline(t)
	tr.Demo()

	obj := tr.Object(object.KindTask, "T-c", "F-demo", "../../etc/passwd")
	obj.Title = ""
	err := p.ValidateObjectData(context.Background(), create(obj, tr.Root))
	var sec *errs.SecurityValidationError
	require.ErrorAs(t, err, &sec)
	assert.Len(t, errs.Flatten(err), 1)
}

func TestValidateObjectData_ImmutableAndDeleted(t *testing.T) {
	tr, p := newPipeline(t)
	tr.Demo()
	path, err := paths.IDToPath(object.KindTask, "T-b", tr.Root)
	require.NoError(t, err)
	prev := tr.Read(path)

	moved := prev.Clone()
	moved.Parent = object.StringPtr("F-elsewhere")
	moved.Created = prev.Created.Add(time.Hour)
	err = p.ValidateObjectData(context.Background(), Request{Root: tr.Root, Object: moved, Op: graph.OpUpdate, Previous: prev})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parent: is immutable")
	assert.Contains(t, err.Error(), "created: is immutable")

	deleted := prev.Clone()
	deleted.Status = object.StatusDeleted
	err = p.ValidateObjectData(context.Background(), Request{Root: tr.Root, Object: deleted, Op: graph.OpUpdate, Previous: deleted})
	assert.Equal(t, errs.CodeSchema, errs.CodeOf(err))
}

func TestValidateWritten(t *testing.T) {
	tr, p := newPipeline(t)
	tr.Demo()
	ctx := context.Background()

	obj := tr.Object(object.KindTask, "T-c", "F-demo", "T-b")
	require.NoError(t, p.ValidateObjectData(ctx, create(obj, tr.Root)))
	path := tr.Write(obj)
	assert.NoError(t, p.ValidateWritten(ctx, tr.Root, path, obj))

	// A concurrent writer closed a loop behind our back.
	aPath, err := paths.IDToPath(object.KindTask, "T-a", tr.Root)
	require.NoError(t, err)
	a := tr.Read(aPath)
	a.Prerequisites = []string{"T-c"}
	tr.WriteAt(aPath, a)
	assert.Equal(t, errs.CodeCircularDependency, errs.CodeOf(p.ValidateWritten(ctx, tr.Root, path, obj)))

	require.NoError(t, os.Remove(path))
	assert.Error(t, p.ValidateWritten(ctx, tr.Root, path, obj))
}

// --- Deletion ---

func TestPlanDeletion_ScenarioE(t *testing.T) {
	tr, p := newPipeline(t)
	tr.Demo()
	tr.Standalone("task-urgent", "T-a", "T-b")
	ctx := context.Background()
	before := testfixture.Snapshot(t, tr.Root)

	_, err := p.PlanDeletion(ctx, tr.Root, "T-a", false)
	var dep *errs.DependentsExistError
	require.ErrorAs(t, err, &dep)
	assert.Equal(t, []string{"T-b", "T-task-urgent"}, dep.Dependents)
	assert.Equal(t, before, testfixture.Snapshot(t, tr.Root))

	plan, err := p.PlanDeletion(ctx, tr.Root, "T-a", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"T-a"}, plan.Removed)
	assert.Empty(t, plan.Rewrites["T-b"].Prerequisites)
	assert.Equal(t, []string{"T-b"}, plan.Rewrites["T-task-urgent"].Prerequisites)
}

func TestPlanDeletion_Cascade(t *testing.T) {
	tr, p := newPipeline(t)
	tr.Demo()
	ctx := context.Background()

	plan, err := p.PlanDeletion(ctx, tr.Root, "E-demo", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"T-a", "T-b", "F-demo", "E-demo"}, plan.Removed)
	assert.Empty(t, plan.Dependents)
	assert.Len(t, plan.Paths, 4)

	tr.Standalone("task-urgent", "T-b")
	_, err = p.PlanDeletion(ctx, tr.Root, "F-demo", false)
	assert.Equal(t, errs.CodeDependentsExist, errs.CodeOf(err))
}

func TestPlanDeletion_DoneNeedsForce(t *testing.T) {
	tr, p := newPipeline(t)
	obj := tr.Object(object.KindTask, "T-finished", "")
	obj.Status = object.StatusDone
	tr.Write(obj)

	_, err := p.PlanDeletion(context.Background(), tr.Root, "T-finished", false)
	assert.Equal(t, errs.CodeInvalidTransition, errs.CodeOf(err))

	_, err = p.PlanDeletion(context.Background(), tr.Root, "T-finished", true)
	assert.NoError(t, err)
}

func TestPlanDeletion_Errors(t *testing.T) {
	tr, p := newPipeline(t)
	tr.Demo()

	_, err := p.PlanDeletion(context.Background(), tr.Root, "T-nope", true)
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))

	_, err = p.PlanDeletion(context.Background(), tr.Root, "T-..", true)
	assert.Equal(t, errs.CodeSecurity, errs.CodeOf(err))
}
