package inference

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HendryAvila/trellis/internal/errs"
	"github.com/HendryAvila/trellis/internal/object"
	"github.com/HendryAvila/trellis/internal/testfixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferKind(t *testing.T) {
	tr := testfixture.NewTree(t)
	tr.Demo()
	tr.Standalone("task-urgent")
	e := NewEngine(NewCache(0), nil)

	tests := []struct {
		id   string
		want object.Kind
	}{
		{"P-demo", object.KindProject},
		{"E-demo", object.KindEpic},
		{"F-demo", object.KindFeature},
		{"T-a", object.KindTask},
		{"T-task-urgent", object.KindTask},
	}
	for _, tt := range tests {
		got, err := e.InferKind(tr.Root, tt.id)
		require.NoError(t, err, tt.id)
		assert.Equal(t, tt.want, got, tt.id)
	}
}

func TestInferKind_Errors(t *testing.T) {
	tr := testfixture.NewTree(t)
	tr.Demo()
	e := NewEngine(NewCache(0), nil)

	_, err := e.InferKind(tr.Root, "task-urgent")
	assert.Equal(t, errs.CodeInvalidID, errs.CodeOf(err))

	_, err = e.InferKind(tr.Root, "T-missing")
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))

	_, err = e.InferKind(tr.Root, "T-../x")
	assert.Equal(t, errs.CodeSecurity, errs.CodeOf(err))

	// A task file whose front matter claims to be a feature.
	wrong := tr.Object(object.KindFeature, "F-liar", "E-demo")
	tr.WriteAt(filepath.Join(tr.Root, "tasks-open", "T-liar.md"), wrong)
	_, err = e.InferKind(tr.Root, "T-liar")
	var mismatch *errs.KindMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "task", mismatch.Expected)
	assert.Equal(t, "feature", mismatch.Actual)
}

func TestInfer_CacheHitMatchesRecompute(t *testing.T) {
	tr := testfixture.NewTree(t)
	tr.Demo()
	cache := NewCache(time.Millisecond)
	e := NewEngine(cache, nil)

	cold, err := e.Infer(tr.Root, "T-b")
	require.NoError(t, err)
	warm, err := e.Infer(tr.Root, "T-b")
	require.NoError(t, err)
	fresh, err := e.Recompute(tr.Root, "T-b")
	require.NoError(t, err)

	assert.Equal(t, cold, warm)
	assert.Equal(t, fresh, warm)
	assert.Equal(t, CacheStats{Entries: 1, Hits: 1, Misses: 1}, cache.Stats())
}

func TestInfer_CacheMissOnMtimeChange(t *testing.T) {
	tr := testfixture.NewTree(t)
	tr.Demo()
	cache := NewCache(time.Millisecond)
	e := NewEngine(cache, nil)

	first, err := e.Infer(tr.Root, "T-a")
	require.NoError(t, err)

	testfixture.Touch(t, first.Path, first.ModTime.Add(time.Second))
	second, err := e.Infer(tr.Root, "T-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cache.Stats().Misses)
	assert.True(t, second.ModTime.After(first.ModTime))

	// Within tolerance is still a hit.
	testfixture.Touch(t, first.Path, second.ModTime.Add(200*time.Microsecond))
	_, err = e.Infer(tr.Root, "T-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cache.Stats().Hits)
}

func TestInfer_CacheMissOnMove(t *testing.T) {
	tr := testfixture.NewTree(t)
	tr.Demo()
	e := NewEngine(NewCache(0), nil)

	first, err := e.Infer(tr.Root, "T-a")
	require.NoError(t, err)

	done := filepath.Join(filepath.Dir(filepath.Dir(first.Path)), "tasks-done", "20250101_000000-T-a.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(done), 0o755))
	require.NoError(t, os.Rename(first.Path, done))

	second, err := e.Infer(tr.Root, "T-a")
	require.NoError(t, err)
	assert.Equal(t, done, second.Path)
}

func TestExpect(t *testing.T) {
	tr := testfixture.NewTree(t)
	tr.Demo()
	e := NewEngine(nil, nil)

	_, err := e.Expect(tr.Root, "F-demo", object.KindFeature)
	assert.NoError(t, err)
	_, err = e.Expect(tr.Root, "E-demo", object.KindFeature)
	assert.Equal(t, errs.CodeKindMismatch, errs.CodeOf(err))
}

func TestCacheInvalidate(t *testing.T) {
	tr := testfixture.NewTree(t)
	tr.Demo()
	cache := NewCache(0)
	e := NewEngine(cache, nil)

	for _, id := range []string{"T-a", "T-b", "F-demo"} {
		_, err := e.Infer(tr.Root, id)
		require.NoError(t, err)
	}
	require.Equal(t, 3, cache.Stats().Entries)

	cache.Invalidate(tr.Root, "T-a")
	assert.Equal(t, 2, cache.Stats().Entries)

	cache.InvalidateRoot(tr.Root)
	assert.Equal(t, 0, cache.Stats().Entries)
}
