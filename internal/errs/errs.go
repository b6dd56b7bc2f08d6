// Package errs defines the typed failures surfaced by the object store.
//
// Every error carries a machine-readable Code so the tool layer can report a
// structured cause. Field and existence problems are collected into a
// ValidationError; transition, cycle, security and mismatch problems are
// returned on their own because the operation cannot proceed at all.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies the category of a failure.
type Code string

const (
	CodeSchema               Code = "schema_validation"
	CodeInvalidTransition    Code = "invalid_status_transition"
	CodeParentNotFound       Code = "parent_not_found"
	CodePrerequisiteNotFound Code = "prerequisite_not_found"
	CodeCircularDependency   Code = "circular_dependency"
	CodeSecurity             Code = "security_validation"
	CodeKindMismatch         Code = "kind_mismatch"
	CodeFileSystem           Code = "filesystem"
	CodeNotFound             Code = "not_found"
	CodeInvalidID            Code = "invalid_id"
	CodeDependentsExist      Code = "dependents_exist"
	CodeDuplicate            Code = "duplicate_object"
	CodeValidation           Code = "validation_failed"
	CodeInternal             Code = "internal"
)

// Coder is implemented by every error in this package.
type Coder interface {
	Code() Code
}

// CodeOf returns the code of the first Coder found in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var c Coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeInternal
}

// --- Schema ---

// FieldIssue is a single field-level schema failure.
type FieldIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// SchemaValidationError aggregates every field and enum failure of one object.
type SchemaValidationError struct {
	ObjectID string
	Issues   []FieldIssue
}

func (e *SchemaValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", is.Field, is.Message))
	}
	if e.ObjectID != "" {
		return fmt.Sprintf("schema validation failed for %s: %s", e.ObjectID, strings.Join(parts, "; "))
	}
	return "schema validation failed: " + strings.Join(parts, "; ")
}

func (e *SchemaValidationError) Code() Code { return CodeSchema }

// Add appends an issue.
func (e *SchemaValidationError) Add(field, msg string) {
	e.Issues = append(e.Issues, FieldIssue{Field: field, Message: msg})
}

// --- Status transition ---

// InvalidStatusTransitionError reports a (from, to) pair absent from the
// kind's transition matrix.
type InvalidStatusTransitionError struct {
	Kind string
	From string
	To   string
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition for %s: %s -> %s", e.Kind, e.From, e.To)
}

func (e *InvalidStatusTransitionError) Code() Code { return CodeInvalidTransition }

// --- Referential integrity ---

// ParentNotFoundError reports a missing parent or a parent of the wrong kind.
type ParentNotFoundError struct {
	ObjectID string
	ParentID string
	Reason   string
}

func (e *ParentNotFoundError) Error() string {
	msg := fmt.Sprintf("parent %q of %s not found", e.ParentID, e.ObjectID)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *ParentNotFoundError) Code() Code { return CodeParentNotFound }

// PrerequisiteNotFoundError reports one prerequisite that does not resolve.
type PrerequisiteNotFoundError struct {
	ObjectID     string
	Prerequisite string
	Suggestions  []string
}

func (e *PrerequisiteNotFoundError) Error() string {
	msg := fmt.Sprintf("prerequisite %q of %s not found", e.Prerequisite, e.ObjectID)
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(e.Suggestions, ", "))
	}
	return msg
}

func (e *PrerequisiteNotFoundError) Code() Code { return CodePrerequisiteNotFound }

// CircularDependencyError carries the closed loop, first node repeated last.
type CircularDependencyError struct {
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	return "circular dependency detected: " + strings.Join(e.Cycle, " -> ")
}

func (e *CircularDependencyError) Code() Code { return CodeCircularDependency }

// DependentsExistError blocks a non-forced deletion.
type DependentsExistError struct {
	ObjectID   string
	Dependents []string
}

func (e *DependentsExistError) Error() string {
	return fmt.Sprintf("cannot delete %s: required by %s (use force to cascade)",
		e.ObjectID, strings.Join(e.Dependents, ", "))
}

func (e *DependentsExistError) Code() Code { return CodeDependentsExist }

// DuplicateObjectError reports an id already used in either layout.
type DuplicateObjectError struct {
	ObjectID string
	Path     string
}

func (e *DuplicateObjectError) Error() string {
	return fmt.Sprintf("object %s already exists at %s", e.ObjectID, e.Path)
}

func (e *DuplicateObjectError) Code() Code { return CodeDuplicate }

// --- Identity ---

// SecurityValidationError reports an identifier or path that violates the
// traversal, character or reserved-name rules.
type SecurityValidationError struct {
	Value  string
	Reason string
}

func (e *SecurityValidationError) Error() string {
	return fmt.Sprintf("security validation failed for %q: %s", e.Value, e.Reason)
}

func (e *SecurityValidationError) Code() Code { return CodeSecurity }

// KindMismatchError reports an inferred kind that disagrees with the file.
type KindMismatchError struct {
	ObjectID string
	Expected string
	Actual   string
	Path     string
}

func (e *KindMismatchError) Error() string {
	return fmt.Sprintf("kind mismatch for %s: id implies %s but %s declares %s",
		e.ObjectID, e.Expected, e.Path, e.Actual)
}

func (e *KindMismatchError) Code() Code { return CodeKindMismatch }

// InvalidIDError reports an identifier whose prefix maps to no kind.
type InvalidIDError struct {
	ID     string
	Reason string
}

func (e *InvalidIDError) Error() string {
	return fmt.Sprintf("invalid id %q: %s", e.ID, e.Reason)
}

func (e *InvalidIDError) Code() Code { return CodeInvalidID }

// NotFoundError reports an object with no file on disk.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("object %s not found", e.ID)
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Code() Code { return CodeNotFound }

// --- I/O ---

// FileSystemError wraps an I/O failure with the operation and path involved.
type FileSystemError struct {
	Op   string
	Path string
	Err  error
}

// FS wraps err as a FileSystemError. It returns nil for a nil err.
func FS(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &FileSystemError{Op: op, Path: path, Err: err}
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error { return e.Err }

func (e *FileSystemError) Code() Code { return CodeFileSystem }

// --- Aggregation ---

// ValidationError collects every failure found in one validation pass.
type ValidationError struct {
	Errors []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d validation errors: %s", len(e.Errors), strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() []error { return e.Errors }

func (e *ValidationError) Code() Code { return CodeValidation }

// Join drops nil errors and returns nil, the single remaining error, or a
// ValidationError holding all of them.
func Join(errs ...error) error {
	var kept []error
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return &ValidationError{Errors: kept}
	}
}

// Flatten returns the leaf errors of err, expanding nested ValidationErrors.
func Flatten(err error) []error {
	if err == nil {
		return nil
	}
	if ve, ok := err.(*ValidationError); ok {
		var out []error
		for _, e := range ve.Errors {
			out = append(out, Flatten(e)...)
		}
		return out
	}
	return []error{err}
}
