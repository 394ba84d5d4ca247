package anonymize

import "strings"

// leafRef is a settable reference to one string leaf inside a
// map[string]any/[]any tree, located by a "/"-joined path whose index
// segments look like "[3]" (see internal/transform.Path).
type leafRef struct {
	get func() string
	set func(string)
}

// lookup resolves path against body and returns a leafRef for its
// terminal string leaf, or ok=false if path does not resolve to a
// string leaf (e.g. the tree changed shape since detection, which
// should not happen within one Apply call over one document).
func lookup(body any, path string) (leafRef, bool) {
	if path == "" {
		return leafRef{}, false
	}
	return resolve(body, strings.Split(path, "/"))
}

func resolve(node any, segments []string) (leafRef, bool) {
	if len(segments) == 0 {
		return leafRef{}, false
	}
	seg := segments[0]
	last := len(segments) == 1

	if idx, ok := indexOf(seg); ok {
		slice, ok := node.([]any)
		if !ok || idx < 0 || idx >= len(slice) {
			return leafRef{}, false
		}
		if last {
			return sliceLeaf(slice, idx)
		}
		return resolve(slice[idx], segments[1:])
	}

	m, ok := node.(map[string]any)
	if !ok {
		return leafRef{}, false
	}
	child, present := m[seg]
	if !present {
		return leafRef{}, false
	}
	if last {
		return mapLeaf(m, seg)
	}
	return resolve(child, segments[1:])
}

func mapLeaf(m map[string]any, key string) (leafRef, bool) {
	s, ok := m[key].(string)
	if !ok {
		return leafRef{}, false
	}
	return leafRef{
		get: func() string { return s },
		set: func(v string) { m[key] = v },
	}, true
}

func sliceLeaf(slice []any, idx int) (leafRef, bool) {
	s, ok := slice[idx].(string)
	if !ok {
		return leafRef{}, false
	}
	return leafRef{
		get: func() string { return s },
		set: func(v string) { slice[idx] = v },
	}, true
}

// indexOf parses a "[N]" segment produced by internal/pii's array walk.
func indexOf(segment string) (int, bool) {
	if len(segment) < 3 || segment[0] != '[' || segment[len(segment)-1] != ']' {
		return 0, false
	}
	n := 0
	for _, r := range segment[1 : len(segment)-1] {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
