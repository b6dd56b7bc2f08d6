// Package security holds the identifier and path rules applied before any
// identifier is used to build a filesystem path.
package security

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/HendryAvila/trellis/internal/errs"
)

// MaxIDLength bounds identifiers so file names stay portable.
const MaxIDLength = 120

// reservedNames are device names that cannot be used as file names on
// Windows, with or without an extension.
var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// ValidateID checks an object identifier or reference. It rejects traversal
// sequences, absolute-path markers, separators, control characters,
// reserved device names and anything outside [A-Za-z0-9._-]. A kind prefix
// may not be followed by another one ("T-E-x"): clean ids strip every
// leading prefix, so such an id would not round-trip through its path.
func ValidateID(id string) error {
	fail := func(reason string) error {
		return &errs.SecurityValidationError{Value: id, Reason: reason}
	}

	if strings.TrimSpace(id) == "" {
		return fail("identifier is empty")
	}
	if len(id) > MaxIDLength {
		return fail("identifier is longer than 120 characters")
	}
	if strings.Contains(id, "..") {
		return fail("path traversal sequence")
	}
	if strings.HasPrefix(id, "/") || strings.HasPrefix(id, `\`) || filepath.IsAbs(id) || hasDriveLetter(id) {
		return fail("absolute path marker")
	}
	if strings.ContainsAny(id, `/\`) {
		return fail("path separator")
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fail("control character")
		}
		if !allowed(r) {
			return fail("character " + quoteRune(r) + " is not allowed")
		}
	}
	if id == "." || strings.HasPrefix(id, ".") {
		return fail("identifier starts with a dot")
	}
	if kindPrefixed(id) && kindPrefixed(id[2:]) {
		return fail("nested kind prefix")
	}
	for _, candidate := range []string{id, stripPrefix(id)} {
		base := strings.ToUpper(candidate)
		if i := strings.IndexByte(base, '.'); i >= 0 {
			base = base[:i]
		}
		if reservedNames[base] {
			return fail("reserved filesystem name")
		}
	}
	return nil
}

// ValidateIDs checks every id and returns all failures joined.
func ValidateIDs(ids ...string) error {
	var failures []error
	for _, id := range ids {
		if err := ValidateID(id); err != nil {
			failures = append(failures, err)
		}
	}
	return errs.Join(failures...)
}

// ValidatePathWithin rejects path if, once cleaned, it is not root itself or
// a descendant of root.
func ValidatePathWithin(root, path string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return errs.FS("resolve", root, err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return errs.FS("resolve", path, err)
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return &errs.SecurityValidationError{Value: path, Reason: "path escapes " + root}
	}
	return nil
}

func allowed(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
		r == '-' || r == '_' || r == '.'
}

func hasDriveLetter(id string) bool {
	return len(id) >= 2 && id[1] == ':' && ((id[0] >= 'a' && id[0] <= 'z') || (id[0] >= 'A' && id[0] <= 'Z'))
}

// stripPrefix removes one "X-" kind prefix so "T-CON" is caught too.
// kindPrefixed reports whether id starts with P-, E-, F- or T-.
func kindPrefixed(id string) bool {
	return len(id) > 2 && id[1] == '-' && strings.IndexByte("PEFT", id[0]) >= 0
}

func stripPrefix(id string) string {
	if len(id) > 2 && id[1] == '-' {
		return id[2:]
	}
	return id
}

func quoteRune(r rune) string {
	return "'" + string(r) + "'"
}
