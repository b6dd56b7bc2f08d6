// Package testfixture builds planning trees on disk for package tests.
package testfixture

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HendryAvila/trellis/internal/object"
	"github.com/HendryAvila/trellis/internal/paths"
	"github.com/stretchr/testify/require"
)

// Epoch is the creation time of the first fixture object. Each following
// object is created one minute later so ordering by creation is stable.
var Epoch = time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)

// Tree writes objects under a temporary resolution root.
type Tree struct {
	t       testing.TB
	Root    string
	created time.Time
}

// NewTree creates an empty planning directory in t.TempDir().
func NewTree(t testing.TB) *Tree {
	t.Helper()
	root := filepath.Join(t.TempDir(), paths.PlanningDirName)
	require.NoError(t, os.MkdirAll(root, 0o755))
	return &Tree{t: t, Root: root, created: Epoch}
}

// Object returns a valid object of kind with defaults filled in.
func (tr *Tree) Object(kind object.Kind, id, parent string, prereqs ...string) *object.Object {
	created := tr.created
	tr.created = tr.created.Add(time.Minute)
	if prereqs == nil {
		prereqs = []string{}
	}
	return &object.Object{
		Kind:          kind,
		ID:            object.CanonicalID(kind, id),
		Parent:        object.StringPtr(parent),
		Status:        object.StatusOpen,
		Title:         "Title of " + id,
		Priority:      object.PriorityNormal,
		Prerequisites: prereqs,
		Created:       created,
		Updated:       created,
		SchemaVersion: object.SchemaVersion,
	}
}

// Write stores obj at its resolved path and returns the path.
func (tr *Tree) Write(obj *object.Object) string {
	tr.t.Helper()
	path, err := paths.ResolveNewObjectPath(obj.Kind, obj.ID, obj.ParentID(), tr.Root, obj.Status)
	require.NoError(tr.t, err)
	return tr.WriteAt(path, obj)
}

// WriteAt stores obj at an explicit path.
func (tr *Tree) WriteAt(path string, obj *object.Object) string {
	tr.t.Helper()
	data, err := object.Marshal(obj)
	require.NoError(tr.t, err)
	require.NoError(tr.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(tr.t, os.WriteFile(path, data, 0o644))
	return path
}

// Project writes a project and returns its path.
func (tr *Tree) Project(id string) string {
	return tr.Write(tr.Object(object.KindProject, id, ""))
}

// Epic writes an epic under parent.
func (tr *Tree) Epic(id, parent string) string {
	return tr.Write(tr.Object(object.KindEpic, id, parent))
}

// Feature writes a feature under parent.
func (tr *Tree) Feature(id, parent string) string {
	return tr.Write(tr.Object(object.KindFeature, id, parent))
}

// Task writes an open hierarchical task.
func (tr *Tree) Task(id, parent string, prereqs ...string) string {
	return tr.Write(tr.Object(object.KindTask, id, parent, prereqs...))
}

// Standalone writes an open standalone task.
func (tr *Tree) Standalone(id string, prereqs ...string) string {
	return tr.Write(tr.Object(object.KindTask, id, "", prereqs...))
}

// Demo writes P-demo, E-demo, F-demo, T-a and T-b (T-b requires T-a).
func (tr *Tree) Demo() {
	tr.Project("P-demo")
	tr.Epic("E-demo", "P-demo")
	tr.Feature("F-demo", "E-demo")
	tr.Task("T-a", "F-demo")
	tr.Task("T-b", "F-demo", "T-a")
}

// Read parses the object stored at path.
func (tr *Tree) Read(path string) *object.Object {
	tr.t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(tr.t, err)
	obj, err := object.Parse(data)
	require.NoError(tr.t, err)
	return obj
}

// Touch sets the modification time of path to at.
func Touch(t testing.TB, path string, at time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, at, at))
}

// Snapshot returns the content of every file under root keyed by relative
// path, for asserting that an operation left the tree untouched.
func Snapshot(t testing.TB, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		out[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}
