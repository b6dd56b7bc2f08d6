// Package children resolves the immediate children of a container object.
package children

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/HendryAvila/trellis/internal/errs"
	"github.com/HendryAvila/trellis/internal/loader"
	"github.com/HendryAvila/trellis/internal/object"
	"github.com/HendryAvila/trellis/internal/paths"
)

// Child is the summary of one immediate child.
type Child struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	Status  object.Status `json:"status"`
	Kind    object.Kind   `json:"kind"`
	Created time.Time     `json:"created"`
	Path    string        `json:"path"`
}

// childPatterns returns the patterns, relative to the parent directory, that
// hold children of a parent of kind k.
func childPatterns(k object.Kind) []string {
	switch k {
	case object.KindProject:
		return []string{"epics/E-*/epic.md"}
	case object.KindEpic:
		return []string{"features/F-*/feature.md"}
	case object.KindFeature:
		return []string{paths.TasksOpenDir + "/*.md", paths.TasksDoneDir + "/*.md"}
	}
	return nil
}

// listChildFiles returns every child file of parentPath with its mtime.
func listChildFiles(parentPath string) (object.Kind, map[string]time.Time, error) {
	kind, _, err := paths.PathToID(parentPath)
	if err != nil {
		return "", nil, err
	}
	files := make(map[string]time.Time)
	dir := filepath.Dir(parentPath)
	for _, pattern := range childPatterns(kind) {
		matches, err := paths.Glob(dir, pattern)
		if err != nil {
			return "", nil, err
		}
		for _, m := range matches {
			if _, _, err := paths.PathToID(m); err != nil {
				continue
			}
			info, err := os.Stat(m)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return "", nil, errs.FS("stat", m, err)
			}
			files[m] = info.ModTime()
		}
	}
	return kind, files, nil
}

// DiscoverImmediateChildren returns the direct children of the object
// stored at parentPath, ordered by creation time (then id). Tasks have no
// children. Files that fail to parse are skipped with a warning on the
// default logger.
func DiscoverImmediateChildren(parentPath string) ([]Child, error) {
	if _, err := os.Stat(parentPath); err != nil {
		return nil, errs.FS("stat", parentPath, err)
	}
	_, files, err := listChildFiles(parentPath)
	if err != nil {
		return nil, err
	}
	return readChildren(files, slog.Default())
}

func readChildren(files map[string]time.Time, logger *slog.Logger) ([]Child, error) {
	out := make([]Child, 0, len(files))
	for path := range files {
		e, err := loader.ReadEntry(path)
		if err != nil {
			var fsErr *errs.FileSystemError
			if errors.As(err, &fsErr) && !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
			if !errors.Is(err, fs.ErrNotExist) {
				logger.Warn("skipping unreadable child", "path", path, "error", err)
			}
			continue
		}
		out = append(out, Child{
			ID:      e.Object.ID,
			Title:   e.Object.Title,
			Status:  e.Object.Status,
			Kind:    e.Object.Kind,
			Created: e.Object.Created,
			Path:    path,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
