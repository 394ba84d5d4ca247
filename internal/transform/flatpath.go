// Package transform implements the Transformer (spec §4.3): preserve and
// flatten representations of one composition body, plus the flatpath
// helper both this package's flatten mode and internal/pii's traversal
// share instead of ad hoc string splitting.
package transform

import "strings"

// Path is a path-like key into a composition body, represented as
// segments rather than a pre-joined string so callers can append/compare
// without repeated splitting.
type Path []string

// Join renders p using the source's internal separator ("/").
func (p Path) Join() string {
	return strings.Join(p, "/")
}

// Flattened renders p the way flatten mode does: segments joined with
// underscore instead of the source separator.
func (p Path) Flattened() string {
	return strings.Join(p, "_")
}

// Child returns a copy of p with segment appended.
func (p Path) Child(segment string) Path {
	next := make(Path, len(p), len(p)+1)
	copy(next, p)
	return append(next, segment)
}
