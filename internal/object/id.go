package object

import (
	"fmt"
	"strings"
)

// CleanID strips kind prefixes ("P-", "E-", "F-", "T-") from ref so that
// hierarchical ("T-foo") and standalone ("foo") references share one graph
// key. Prefixes are stripped repeatedly, which makes CleanID idempotent.
func CleanID(ref string) string {
	for len(ref) > 2 && ref[1] == '-' {
		if _, ok := KindForPrefix(ref[0]); !ok {
			break
		}
		ref = ref[2:]
	}
	return ref
}

// CanonicalID returns the prefixed identifier of ref for kind k.
func CanonicalID(k Kind, ref string) string {
	return k.Prefix() + CleanID(ref)
}

// PrefixKind returns the kind named by ref's single-letter prefix.
func PrefixKind(ref string) (Kind, bool) {
	if len(ref) < 3 || ref[1] != '-' {
		return "", false
	}
	return KindForPrefix(ref[0])
}

// NormalizeRef canonicalises a reference whose kind is implied by its
// prefix, or returns it cleaned when it carries none.
func NormalizeRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if k, ok := PrefixKind(ref); ok {
		return CanonicalID(k, ref)
	}
	return ref
}

// CheckPrefix returns an error if ref carries a prefix for a kind other
// than k.
func CheckPrefix(k Kind, ref string) error {
	if pk, ok := PrefixKind(ref); ok && pk != k {
		return fmt.Errorf("id %q has %s prefix but object is a %s", ref, pk, k)
	}
	return nil
}
