// Package paths maps object identifiers to files and back.
//
// Two layouts share one resolution root:
//
//	projects/P-x/project.md
//	projects/P-x/epics/E-x/epic.md
//	projects/P-x/epics/E-x/features/F-x/feature.md
//	projects/P-x/epics/E-x/features/F-x/tasks-open/T-x.md
//	projects/P-x/epics/E-x/features/F-x/tasks-done/20250102_150405-T-x.md
//	tasks-open/T-x.md                  (standalone)
//	tasks-done/20250102_150405-T-x.md  (standalone)
package paths

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/HendryAvila/trellis/internal/errs"
	"github.com/HendryAvila/trellis/internal/object"
	"github.com/HendryAvila/trellis/internal/security"
	"github.com/bmatcuk/doublestar/v4"
)

const (
	// PlanningDirName is the conventional name of the resolution root.
	PlanningDirName = "planning"

	TasksOpenDir = "tasks-open"
	TasksDoneDir = "tasks-done"

	// DoneTimestampLayout prefixes completed task file names.
	DoneTimestampLayout = "20060102_150405"
)

var (
	openTaskFile = regexp.MustCompile(`^(T-.+)\.md$`)
	doneTaskFile = regexp.MustCompile(`^\d{8}_\d{6}-(T-.+)\.md$`)
)

// timeNow is a package-level var so tests can pin done-file timestamps.
var timeNow = time.Now

// --- Project roots ---

// ResolveProjectRoots returns the scanning root (the project directory that
// holds settings) and the resolution root (the planning directory that holds
// objects).
//
// A root already named "planning" is used as-is. Otherwise, when
// ensurePlanningSubdir is true the planning subdirectory is created if
// needed; when false an existing planning subdirectory is used and root
// itself is treated as the planning directory if there is none.
func ResolveProjectRoots(root string, ensurePlanningSubdir bool) (scanningRoot, resolutionRoot string, err error) {
	if strings.TrimSpace(root) == "" {
		return "", "", &errs.SecurityValidationError{Value: root, Reason: "project root is empty"}
	}
	if strings.ContainsRune(root, 0) {
		return "", "", &errs.SecurityValidationError{Value: root, Reason: "control character"}
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return "", "", errs.FS("resolve", root, err)
	}

	if filepath.Base(abs) == PlanningDirName {
		return filepath.Dir(abs), abs, nil
	}

	planning := filepath.Join(abs, PlanningDirName)
	if ensurePlanningSubdir {
		if err := os.MkdirAll(planning, 0o755); err != nil {
			return "", "", errs.FS("create", planning, err)
		}
		return abs, planning, nil
	}

	if info, err := os.Stat(planning); err == nil && info.IsDir() {
		return abs, planning, nil
	}
	return abs, abs, nil
}

// --- Identifier to path ---

// IDToPath locates the file of an existing object. Tasks are looked up in
// the standalone layout first and then in the hierarchy; a standalone match
// wins when both exist.
func IDToPath(kind object.Kind, id, root string) (string, error) {
	if err := object.ValidateKind(kind); err != nil {
		return "", &errs.InvalidIDError{ID: id, Reason: err.Error()}
	}
	if err := security.ValidateID(id); err != nil {
		return "", err
	}
	if err := object.CheckPrefix(kind, id); err != nil {
		return "", &errs.KindMismatchError{ObjectID: id, Expected: string(kind), Actual: prefixKindName(id), Path: "(identifier)"}
	}
	canonical := object.CanonicalID(kind, id)

	var candidates []string
	if kind == object.KindTask {
		candidates = []string{
			TasksOpenDir + "/" + canonical + ".md",
			TasksDoneDir + "/*-" + canonical + ".md",
		}
	}
	candidates = append(candidates, hierarchyPatterns(kind, canonical)...)

	for _, pattern := range candidates {
		matches, err := glob(root, pattern)
		if err != nil {
			return "", err
		}
		for _, m := range matches {
			k, got, err := PathToID(m)
			if err == nil && k == kind && got == canonical {
				if err := security.ValidatePathWithin(root, m); err != nil {
					return "", err
				}
				return m, nil
			}
		}
	}
	return "", &errs.NotFoundError{Kind: string(kind), ID: canonical}
}

// hierarchyPatterns returns the doublestar patterns that can hold an object
// of kind with the given canonical id, open files before done files.
func hierarchyPatterns(kind object.Kind, canonical string) []string {
	const (
		project = "projects/P-*"
		epic    = project + "/epics/E-*"
		feature = epic + "/features/F-*"
	)
	switch kind {
	case object.KindProject:
		return []string{"projects/" + canonical + "/project.md"}
	case object.KindEpic:
		return []string{project + "/epics/" + canonical + "/epic.md"}
	case object.KindFeature:
		return []string{epic + "/features/" + canonical + "/feature.md"}
	case object.KindTask:
		return []string{
			feature + "/" + TasksOpenDir + "/" + canonical + ".md",
			feature + "/" + TasksDoneDir + "/*-" + canonical + ".md",
		}
	}
	panic(fmt.Sprintf("paths: unknown kind %q", string(kind)))
}

// glob runs a slash pattern against root and returns sorted native paths.
// A missing root yields no matches.
func glob(root, pattern string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(root), pattern)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errs.FS("glob", filepath.Join(root, filepath.FromSlash(pattern)), err)
	}
	sort.Strings(matches)
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = filepath.Join(root, filepath.FromSlash(m))
	}
	return out, nil
}

// Glob exposes the layout globbing to the loader and children discovery.
func Glob(root, pattern string) ([]string, error) {
	return glob(root, pattern)
}

// --- Path to identifier ---

// PathToID parses an object path into its kind and canonical id. Container
// kinds take their id from the enclosing directory; tasks from the file
// name, ignoring the done timestamp.
func PathToID(path string) (object.Kind, string, error) {
	name := filepath.Base(path)
	dir := filepath.Dir(path)
	dirName := filepath.Base(dir)

	containerKind := func(k object.Kind) (object.Kind, string, error) {
		if !strings.HasPrefix(dirName, k.Prefix()) || len(dirName) <= 2 {
			return "", "", &errs.InvalidIDError{ID: path, Reason: fmt.Sprintf("%s must live in a %s* directory", name, k.Prefix())}
		}
		return k, dirName, nil
	}

	switch name {
	case object.KindProject.Filename():
		return containerKind(object.KindProject)
	case object.KindEpic.Filename():
		return containerKind(object.KindEpic)
	case object.KindFeature.Filename():
		return containerKind(object.KindFeature)
	}

	switch dirName {
	case TasksOpenDir:
		if m := openTaskFile.FindStringSubmatch(name); m != nil {
			return object.KindTask, m[1], nil
		}
	case TasksDoneDir:
		if m := doneTaskFile.FindStringSubmatch(name); m != nil {
			return object.KindTask, m[1], nil
		}
	}
	return "", "", &errs.InvalidIDError{ID: path, Reason: "not an object file"}
}

// --- New object paths ---

// ResolveNewObjectPath builds the path a new object will be written to.
// Standalone tasks (empty parentID) go under root/tasks-{open,done}; every
// other object nests under its resolved parent directory. No directories
// are created.
func ResolveNewObjectPath(kind object.Kind, id, parentID, root string, status object.Status) (string, error) {
	if err := object.ValidateKind(kind); err != nil {
		return "", &errs.InvalidIDError{ID: id, Reason: err.Error()}
	}
	if err := security.ValidateID(id); err != nil {
		return "", err
	}
	canonical := object.CanonicalID(kind, id)

	var path string
	switch kind {
	case object.KindProject:
		path = filepath.Join(root, "projects", canonical, kind.Filename())
	case object.KindEpic, object.KindFeature:
		parentDir, err := parentDirectory(kind, id, parentID, root)
		if err != nil {
			return "", err
		}
		path = filepath.Join(parentDir, kind.CollectionDir(), canonical, kind.Filename())
	case object.KindTask:
		dir := root
		if parentID != "" {
			parentDir, err := parentDirectory(kind, id, parentID, root)
			if err != nil {
				return "", err
			}
			dir = parentDir
		}
		path = TaskPath(dir, canonical, status, timeNow())
	}

	if err := security.ValidatePathWithin(root, path); err != nil {
		return "", err
	}
	return path, nil
}

// TaskPath returns the task file path inside a feature directory (or the
// resolution root for standalone tasks).
func TaskPath(dir, canonicalID string, status object.Status, doneAt time.Time) string {
	if status == object.StatusDone {
		return filepath.Join(dir, TasksDoneDir, doneAt.Format(DoneTimestampLayout)+"-"+canonicalID+".md")
	}
	return filepath.Join(dir, TasksOpenDir, canonicalID+".md")
}

// ObjectDir returns the directory that owns an object's children: the
// directory of a container file, or "" for tasks.
func ObjectDir(kind object.Kind, path string) string {
	if kind == object.KindTask {
		return ""
	}
	return filepath.Dir(path)
}

func parentDirectory(kind object.Kind, id, parentID, root string) (string, error) {
	parentKind, _ := kind.ParentKind()
	canonical := object.CanonicalID(kind, id)
	if parentID == "" {
		return "", &errs.ParentNotFoundError{ObjectID: canonical, Reason: fmt.Sprintf("a %s requires a %s parent", kind, parentKind)}
	}
	if err := security.ValidateID(parentID); err != nil {
		return "", err
	}
	if pk, ok := object.PrefixKind(parentID); ok && pk != parentKind {
		return "", &errs.ParentNotFoundError{ObjectID: canonical, ParentID: parentID, Reason: fmt.Sprintf("parent must be a %s", parentKind)}
	}
	parentPath, err := IDToPath(parentKind, parentID, root)
	if err != nil {
		var nf *errs.NotFoundError
		if errors.As(err, &nf) {
			return "", &errs.ParentNotFoundError{ObjectID: canonical, ParentID: object.CanonicalID(parentKind, parentID)}
		}
		return "", err
	}
	return filepath.Dir(parentPath), nil
}

func prefixKindName(id string) string {
	if k, ok := object.PrefixKind(id); ok {
		return string(k)
	}
	return "unknown"
}

// ParentFromPath derives the parent id implied by an object's location, or
// "" for projects and standalone tasks.
func ParentFromPath(kind object.Kind, path string) string {
	var dir string
	switch kind {
	case object.KindProject:
		return ""
	case object.KindEpic, object.KindFeature:
		// .../P-x/epics/E-y/epic.md -> P-x
		dir = filepath.Dir(filepath.Dir(filepath.Dir(path)))
	case object.KindTask:
		// .../F-x/tasks-open/T-y.md -> F-x
		dir = filepath.Dir(filepath.Dir(path))
	default:
		panic(fmt.Sprintf("paths: unknown kind %q", string(kind)))
	}
	parentKind, _ := kind.ParentKind()
	name := filepath.Base(dir)
	if strings.HasPrefix(name, parentKind.Prefix()) && len(name) > 2 {
		return name
	}
	return ""
}
