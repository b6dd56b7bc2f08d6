package store

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/HendryAvila/trellis/internal/errs"
	"github.com/HendryAvila/trellis/internal/metrics"
	"github.com/natefinch/atomic"
)

// tx is an undo log over filesystem mutations. Each applied step pushes
// its inverse; rollback replays the inverses newest first.
type tx struct {
	logger *slog.Logger
	undo   []undoStep
}

type undoStep struct {
	desc string
	fn   func() error
}

func newTx(logger *slog.Logger) *tx {
	return &tx{logger: logger}
}

func (t *tx) push(desc string, fn func() error) {
	t.undo = append(t.undo, undoStep{desc: desc, fn: fn})
}

// mkdirs creates dir and its missing ancestors, remembering which ones
// it created.
func (t *tx) mkdirs(dir string) error {
	var missing []string
	for d := dir; ; d = filepath.Dir(d) {
		if _, err := os.Stat(d); err == nil {
			break
		}
		missing = append(missing, d)
		if filepath.Dir(d) == d {
			break
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.FS("mkdir", dir, err)
	}
	// missing is deepest first, which is the removal order.
	t.push("mkdir "+dir, func() error {
		for _, d := range missing {
			if err := os.Remove(d); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
		return nil
	})
	return nil
}

// write atomically replaces path with data.
func (t *tx) write(path string, data []byte) error {
	prev, readErr := os.ReadFile(path)
	existed := readErr == nil

	if err := t.mkdirs(filepath.Dir(path)); err != nil {
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return errs.FS("write", path, err)
	}
	if existed {
		t.push("restore "+path, func() error {
			return atomic.WriteFile(path, bytes.NewReader(prev))
		})
	} else {
		t.push("remove "+path, func() error {
			return os.Remove(path)
		})
	}
	return nil
}

// remove deletes path, keeping its content for undo.
func (t *tx) remove(path string) error {
	prev, err := os.ReadFile(path)
	if err != nil {
		return errs.FS("read", path, err)
	}
	if err := os.Remove(path); err != nil {
		return errs.FS("remove", path, err)
	}
	t.push("recreate "+path, func() error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		return atomic.WriteFile(path, bytes.NewReader(prev))
	})
	return nil
}

// prune removes dir and then its parents while they are empty, stopping
// at stop. Directories that still hold anything are left alone.
func (t *tx) prune(dir, stop string) {
	stop = filepath.Clean(stop)
	for d := filepath.Clean(dir); d != stop && len(d) > len(stop); d = filepath.Dir(d) {
		entries, err := os.ReadDir(d)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(d); err != nil {
			return
		}
		removed := d
		t.push("mkdir "+removed, func() error {
			return os.MkdirAll(removed, 0o755)
		})
	}
}

// pruneTree removes dir if it holds nothing but empty directories, and
// reports whether it did.
func (t *tx) pruneTree(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	empty := true
	for _, e := range entries {
		if !e.IsDir() || !t.pruneTree(filepath.Join(dir, e.Name())) {
			empty = false
		}
	}
	if !empty {
		return false
	}
	if err := os.Remove(dir); err != nil {
		return false
	}
	t.push("mkdir "+dir, func() error {
		return os.MkdirAll(dir, 0o755)
	})
	return true
}

// rollback undoes every applied step. It keeps going after a failed step
// so as much state as possible is restored.
func (t *tx) rollback() error {
	metrics.Rollbacks.Inc()
	var failed []error
	for i := len(t.undo) - 1; i >= 0; i-- {
		step := t.undo[i]
		if err := step.fn(); err != nil {
			t.logger.Error("rollback step failed", "step", step.desc, "error", err)
			failed = append(failed, fmt.Errorf("%s: %w", step.desc, err))
		}
	}
	t.undo = nil
	return errors.Join(failed...)
}
