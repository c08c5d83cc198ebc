package store

import (
	"slices"
)

// DeepMerge merges src into dst recursively and returns dst. Where both sides
// hold a map the merge recurses; otherwise the src value wins. dst is mutated.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for key, value := range src {
		if srcMap, ok := asMap(value); ok {
			if dstMap, ok := asMap(dst[key]); ok {
				dst[key] = DeepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

// deepCopy copies nested maps and slices; scalars and opaque values (process
// handles, functions) are shared.
func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, inner := range v {
			out[key] = deepCopy(inner)
		}
		return out
	case Update:
		out := make(map[string]any, len(v))
		for key, inner := range v {
			out[key] = deepCopy(inner)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = deepCopy(inner)
		}
		return out
	default:
		return value
	}
}

// asMap normalizes the map-shaped types that flow through updates and
// topologies to a plain map[string]any.
func asMap(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case Update:
		return v, true
	case Topology:
		return v, true
	default:
		return nil, false
	}
}

// getIn walks a nested map along path, returning nil when any step is absent.
func getIn(tree map[string]any, path Path) any {
	if len(path) == 0 {
		return tree
	}
	head, ok := tree[path[0]]
	if !ok {
		return nil
	}
	if len(path) == 1 {
		return head
	}
	inner, ok := asMap(head)
	if !ok {
		return nil
	}
	return getIn(inner, path[1:])
}

// assocPath assigns value at path inside tree, creating intermediate maps.
func assocPath(tree map[string]any, path Path, value any) {
	if len(path) == 0 {
		return
	}
	if len(path) == 1 {
		tree[path[0]] = value
		return
	}
	inner, ok := asMap(tree[path[0]])
	if !ok {
		inner = make(map[string]any)
		tree[path[0]] = inner
	}
	assocPath(inner, path[1:], value)
}

// sortedKeys returns the keys of m in sorted order. The store iterates
// children and update keys in this order so runs are deterministic.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
