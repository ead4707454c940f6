// Package pathutil implements dotted-path access into nested maps and
// slices: get/set/unset/merge over the loosely typed trees produced by
// encoding/json (map[string]any, []any, and scalars).
package pathutil

import (
	"strconv"
	"strings"
)

// Split breaks a dotted path ("a.b.0.c") into its segments.
func Split(path string) []string {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Get resolves path against root. It returns (nil, false) for any
// invalid path: missing key, out-of-range index, or indexing into a
// scalar.
func Get(root any, path string) (any, bool) {
	segs := Split(path)
	if len(segs) == 0 {
		return root, true
	}
	cur := root
	for _, seg := range segs {
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// GetOr is Get with a fallback for a missing path.
func GetOr(root any, path string, fallback any) any {
	if v, ok := Get(root, path); ok {
		return v
	}
	return fallback
}

func step(cur any, seg string) (any, bool) {
	switch node := cur.(type) {
	case map[string]any:
		v, ok := node[seg]
		return v, ok
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(node) {
			return nil, false
		}
		return node[idx], true
	default:
		return nil, false
	}
}

// Set returns a copy of root with path set to value. Only the chain of
// containers from root to the mutated leaf is cloned (structural
// sharing); sibling subtrees are returned by reference. Missing
// intermediate containers are created as map[string]any, except when
// the next segment is purely numeric and the container does not yet
// exist, in which case a []any is grown to fit.
func Set(root any, path string, value any) any {
	segs := Split(path)
	if len(segs) == 0 {
		return value
	}
	return setAt(root, segs, value)
}

func setAt(cur any, segs []string, value any) any {
	seg := segs[0]
	rest := segs[1:]

	_, curIsMap := cur.(map[string]any)
	if idx, isIndex := asIndex(seg); isIndex && !curIsMap {
		arr := cloneSlice(cur)
		for len(arr) <= idx {
			arr = append(arr, nil)
		}
		if len(rest) == 0 {
			arr[idx] = value
		} else {
			arr[idx] = setAt(arr[idx], rest, value)
		}
		return arr
	}

	m := cloneMap(cur)
	if len(rest) == 0 {
		m[seg] = value
	} else {
		m[seg] = setAt(m[seg], rest, value)
	}
	return m
}

// Unset returns a copy of root with path removed. Removing a path that
// does not exist is a no-op (returns root, possibly with benign
// cloning of the containers along the way).
func Unset(root any, path string) any {
	segs := Split(path)
	if len(segs) == 0 {
		return root
	}
	return unsetAt(root, segs)
}

func unsetAt(cur any, segs []string) any {
	seg := segs[0]
	rest := segs[1:]

	if idx, isIndex := asIndex(seg); isIndex {
		arr, ok := cur.([]any)
		if !ok || idx < 0 || idx >= len(arr) {
			return cur
		}
		out := cloneSlice(arr)
		if len(rest) == 0 {
			out[idx] = nil
		} else {
			out[idx] = unsetAt(out[idx], rest)
		}
		return out
	}

	m, ok := cur.(map[string]any)
	if !ok {
		return cur
	}
	if _, exists := m[seg]; !exists {
		return cur
	}
	out := cloneMap(m)
	if len(rest) == 0 {
		delete(out, seg)
	} else {
		out[seg] = unsetAt(out[seg], rest)
	}
	return out
}

// Merge deep-merges patch into root: matching maps are merged key by
// key, recursively; any other value type (including arrays) in patch
// replaces the corresponding value in root wholesale. Arrays are never
// concatenated.
func Merge(root, patch any) any {
	patchMap, patchIsMap := patch.(map[string]any)
	if !patchIsMap {
		return patch
	}
	rootMap, rootIsMap := root.(map[string]any)
	if !rootIsMap {
		rootMap = map[string]any{}
	}
	out := cloneMap(rootMap)
	for k, pv := range patchMap {
		out[k] = Merge(out[k], pv)
	}
	return out
}

func asIndex(seg string) (int, bool) {
	idx, err := strconv.Atoi(seg)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

func cloneMap(v any) map[string]any {
	m, ok := v.(map[string]any)
	out := make(map[string]any, len(m))
	if !ok {
		return out
	}
	for k, vv := range m {
		out[k] = vv
	}
	return out
}

func cloneSlice(v any) []any {
	s, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]any, len(s))
	copy(out, s)
	return out
}
