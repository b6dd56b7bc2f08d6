// Package watch invalidates cached projections when the planning tree is
// edited outside the process. The caches already detect stale entries by
// mtime on every lookup; the watcher drops them eagerly so the next read
// does not pay for a stale-check miss.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/HendryAvila/trellis/internal/children"
	"github.com/HendryAvila/trellis/internal/graph"
	"github.com/HendryAvila/trellis/internal/inference"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for more events before
// flushing a batch.
const DefaultDebounce = 200 * time.Millisecond

// Handler receives the deduplicated paths of one debounced batch.
type Handler func(changed []string)

// Watcher recursively watches one resolution root.
type Watcher struct {
	root     string
	fsw      *fsnotify.Watcher
	debounce time.Duration
	handler  Handler
	logger   *slog.Logger
}

// New creates a watcher over root. Call Run to start delivering events.
func New(root string, debounce time.Duration, handler Handler, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{root: root, fsw: fsw, debounce: debounce, handler: handler, logger: logger}
	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run delivers debounced batches to the handler until ctx is canceled.
// It closes the underlying watcher before returning, and flushes any
// pending batch first.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	pending := map[string]bool{}
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if len(pending) == 0 {
			return
		}
		batch := make([]string, 0, len(pending))
		for p := range pending {
			batch = append(batch, p)
		}
		clear(pending)
		if w.handler != nil {
			w.handler(batch)
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				flush()
				return nil
			}
			dir := false
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					dir = true
					if err := w.addRecursive(ev.Name); err != nil {
						w.logger.Warn("watch: add directory", "path", ev.Name, "error", err)
					}
				}
			}
			if !dir && !relevant(ev) {
				continue
			}
			pending[ev.Name] = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				flush()
				return nil
			}
			w.logger.Warn("watch: fsnotify error", "root", w.root, "error", err)
		case <-timerC:
			timer, timerC = nil, nil
			flush()
		}
	}
}

// relevant reports whether ev can change an object file. Temporary files
// written by the atomic writer only matter once renamed onto a .md name.
func relevant(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		return true
	}
	return strings.HasSuffix(ev.Name, ".md")
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Vanished between the event and the walk.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// Invalidator returns a Handler that drops every cached projection for
// root: the graph snapshot, the inference entries and the children lists.
func Invalidator(root string, graphs *graph.Cache, kids *children.Cache, inf *inference.Cache, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(changed []string) {
		graphs.Invalidate(root)
		if inf != nil {
			inf.InvalidateRoot(root)
		}
		if kids != nil {
			kids.Clear()
		}
		logger.Debug("watch: caches invalidated", "root", root, "changes", len(changed))
	}
}
