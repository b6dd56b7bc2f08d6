package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/HendryAvila/trellis/internal/children"
	"github.com/HendryAvila/trellis/internal/graph"
	"github.com/HendryAvila/trellis/internal/inference"
	"github.com/HendryAvila/trellis/internal/testfixture"
	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// TestMain fails the package if the watcher leaves goroutines behind.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type batches struct {
	mu  sync.Mutex
	got [][]string
	ch  chan struct{}
}

func newBatches() *batches {
	return &batches{ch: make(chan struct{}, 16)}
}

func (b *batches) handle(changed []string) {
	b.mu.Lock()
	b.got = append(b.got, changed)
	b.mu.Unlock()
	b.ch <- struct{}{}
}

func (b *batches) all() map[string]bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := map[string]bool{}
	for _, batch := range b.got {
		for _, p := range batch {
			out[p] = true
		}
	}
	return out
}

func (b *batches) wait(t *testing.T) {
	t.Helper()
	select {
	case <-b.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a debounced batch")
	}
}

func start(t *testing.T, root string, h Handler) (cancel func()) {
	t.Helper()
	w, err := New(root, 20*time.Millisecond, h, nil)
	require.NoError(t, err)

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return func() {
		stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("watcher did not stop")
		}
	}
}

func TestWatcher_ReportsObjectFilesInNewDirectories(t *testing.T) {
	root := t.TempDir()
	b := newBatches()
	cancel := start(t, root, b.handle)
	defer cancel()

	dir := filepath.Join(root, "tasks-open")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	b.wait(t)

	file := filepath.Join(dir, "T-a.md")
	require.NoError(t, os.WriteFile(file, []byte("---\n---\n"), 0o644))

	require.Eventually(t, func() bool { return b.all()[file] }, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	root := t.TempDir()
	b := newBatches()
	cancel := start(t, root, b.handle)
	defer cancel()

	file := filepath.Join(root, "T-a.md")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(file, []byte{byte('a' + i)}, 0o644))
	}
	b.wait(t)

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, []string{file}, b.got[0], "a burst on one file arrives as one deduplicated path")
}

func TestRelevant(t *testing.T) {
	assert.True(t, relevant(fsnotify.Event{Name: "/r/T-a.md", Op: fsnotify.Write}))
	assert.True(t, relevant(fsnotify.Event{Name: "/r/tasks-open", Op: fsnotify.Remove}))
	assert.False(t, relevant(fsnotify.Event{Name: "/r/T-a.md123456", Op: fsnotify.Create}))
}

func TestInvalidator_DropsEveryCache(t *testing.T) {
	tr := testfixture.NewTree(t)
	tr.Demo()
	ctx := context.Background()

	graphs := graph.NewCache()
	kids := children.NewCache(4, graph.DefaultMtimeTolerance)
	inf := inference.NewCache(inference.DefaultMtimeTolerance)
	engine := inference.NewEngine(inf, nil)

	_, err := graphs.Get(ctx, tr.Root)
	require.NoError(t, err)
	res, err := engine.Infer(tr.Root, "F-demo")
	require.NoError(t, err)
	_, err = kids.Get(res.Path)
	require.NoError(t, err)

	Invalidator(tr.Root, graphs, kids, inf, nil)([]string{res.Path})

	assert.Equal(t, 0, graphs.Stats().Entries)
	assert.Equal(t, 0, inf.Stats().Entries)
	assert.Equal(t, 0, kids.Len())
}
