// Package object defines the TrellisObject model shared by every layer of
// the store: the closed Kind, Status and Priority enums, identifier helpers
// and the YAML front-matter codec used for the on-disk format.
package object

import (
	"fmt"
	"time"
)

// --- Kind enum ---

// Kind is the closed set of object types.
type Kind string

const (
	KindProject Kind = "project"
	KindEpic    Kind = "epic"
	KindFeature Kind = "feature"
	KindTask    Kind = "task"
)

// Kinds lists every kind, parents before children.
var Kinds = []Kind{KindProject, KindEpic, KindFeature, KindTask}

// validKinds is the set of allowed kinds.
var validKinds = map[Kind]bool{
	KindProject: true,
	KindEpic:    true,
	KindFeature: true,
	KindTask:    true,
}

// ValidateKind returns an error if the kind is not recognized.
func ValidateKind(k Kind) error {
	if !validKinds[k] {
		return fmt.Errorf("invalid kind %q: must be one of: project, epic, feature, task", k)
	}
	return nil
}

// Prefix returns the identifier prefix of the kind, e.g. "T-".
func (k Kind) Prefix() string {
	switch k {
	case KindProject:
		return "P-"
	case KindEpic:
		return "E-"
	case KindFeature:
		return "F-"
	case KindTask:
		return "T-"
	}
	panic(fmt.Sprintf("object: unknown kind %q", string(k)))
}

// ParentKind returns the kind a parent must have. Projects have no parent.
func (k Kind) ParentKind() (Kind, bool) {
	switch k {
	case KindProject:
		return "", false
	case KindEpic:
		return KindProject, true
	case KindFeature:
		return KindEpic, true
	case KindTask:
		return KindFeature, true
	}
	panic(fmt.Sprintf("object: unknown kind %q", string(k)))
}

// ChildKind returns the kind of the immediate children. Tasks have none.
func (k Kind) ChildKind() (Kind, bool) {
	switch k {
	case KindProject:
		return KindEpic, true
	case KindEpic:
		return KindFeature, true
	case KindFeature:
		return KindTask, true
	case KindTask:
		return "", false
	}
	panic(fmt.Sprintf("object: unknown kind %q", string(k)))
}

// Filename returns the fixed file name of container kinds. Tasks are named
// after their id and return "".
func (k Kind) Filename() string {
	switch k {
	case KindProject:
		return "project.md"
	case KindEpic:
		return "epic.md"
	case KindFeature:
		return "feature.md"
	case KindTask:
		return ""
	}
	panic(fmt.Sprintf("object: unknown kind %q", string(k)))
}

// CollectionDir returns the directory that holds objects of this kind inside
// their parent directory ("projects", "epics", "features"). Tasks live in
// tasks-open/tasks-done and return "".
func (k Kind) CollectionDir() string {
	switch k {
	case KindProject:
		return "projects"
	case KindEpic:
		return "epics"
	case KindFeature:
		return "features"
	case KindTask:
		return ""
	}
	panic(fmt.Sprintf("object: unknown kind %q", string(k)))
}

// KindForPrefix maps a single prefix letter to its kind.
func KindForPrefix(letter byte) (Kind, bool) {
	switch letter {
	case 'P':
		return KindProject, true
	case 'E':
		return KindEpic, true
	case 'F':
		return KindFeature, true
	case 'T':
		return KindTask, true
	}
	return "", false
}

// --- Status enum ---

// Status is the lifecycle state of an object.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in-progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
	StatusDeleted    Status = "deleted"
)

// validStatuses is the set of allowed statuses.
var validStatuses = map[Status]bool{
	StatusOpen:       true,
	StatusInProgress: true,
	StatusReview:     true,
	StatusDone:       true,
	StatusDeleted:    true,
}

// ValidateStatus returns an error if the status is not recognized.
func ValidateStatus(s Status) error {
	if !validStatuses[s] {
		return fmt.Errorf("invalid status %q: must be one of: open, in-progress, review, done, deleted", s)
	}
	return nil
}

// --- Priority enum ---

// Priority orders work inside a backlog.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// validPriorities is the set of allowed priorities.
var validPriorities = map[Priority]bool{
	PriorityHigh:   true,
	PriorityNormal: true,
	PriorityLow:    true,
}

// ValidatePriority returns an error if the priority is not recognized.
func ValidatePriority(p Priority) error {
	if !validPriorities[p] {
		return fmt.Errorf("invalid priority %q: must be one of: high, normal, low", p)
	}
	return nil
}

// Rank sorts high before normal before low. Unknown values sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

// --- Core data structures ---

// SchemaVersion is written into new objects.
const SchemaVersion = "1.1"

// Object is a single TrellisObject. The front matter fields are persisted as
// YAML; Body is the Markdown that follows the closing delimiter.
type Object struct {
	Kind          Kind      `yaml:"kind" json:"kind" validate:"required,trellis_kind"`
	ID            string    `yaml:"id" json:"id" validate:"required,max=120,trellis_id"`
	Parent        *string   `yaml:"parent" json:"parent"`
	Status        Status    `yaml:"status" json:"status" validate:"required,trellis_status"`
	Title         string    `yaml:"title" json:"title" validate:"required,max=200"`
	Priority      Priority  `yaml:"priority" json:"priority" validate:"required,trellis_priority"`
	Prerequisites []string  `yaml:"prerequisites" json:"prerequisites" validate:"dive,required"`
	Created       time.Time `yaml:"created" json:"created" validate:"required"`
	Updated       time.Time `yaml:"updated" json:"updated" validate:"required"`
	SchemaVersion string    `yaml:"schema_version" json:"schema_version" validate:"required,trellis_schema_version"`
	Worktree      *string   `yaml:"worktree" json:"worktree"`
	Body          string    `yaml:"-" json:"body,omitempty"`
}

// ParentID returns the parent id or "" for none.
func (o *Object) ParentID() string {
	if o.Parent == nil {
		return ""
	}
	return *o.Parent
}

// CanonicalParent returns the parent id with the prefix implied by o's
// kind, or "" for none.
func (o *Object) CanonicalParent() string {
	ref := o.ParentID()
	if ref == "" || ValidateKind(o.Kind) != nil {
		return ref
	}
	pk, ok := o.Kind.ParentKind()
	if !ok {
		return ref
	}
	if _, prefixed := PrefixKind(ref); prefixed {
		return ref
	}
	return CanonicalID(pk, ref)
}

// IsStandalone reports whether o is a task without a parent.
func (o *Object) IsStandalone() bool {
	return o.Kind == KindTask && o.ParentID() == ""
}

// Clone returns a deep copy of o.
func (o *Object) Clone() *Object {
	c := *o
	if o.Parent != nil {
		p := *o.Parent
		c.Parent = &p
	}
	if o.Worktree != nil {
		w := *o.Worktree
		c.Worktree = &w
	}
	if o.Prerequisites != nil {
		c.Prerequisites = append([]string(nil), o.Prerequisites...)
	}
	return &c
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
