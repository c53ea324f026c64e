// Package graph resolves the embedded reference-graph document delivered
// with each listing page: a flattened node table whose values may contain
// reference tokens pointing back into the table.
package graph

import "fmt"

// refKey is the field marking a value as a reference token.
const refKey = "__ref"

// Graph is the parsed node table, keyed by opaque node key
// (e.g. "Listing:229036"). Loaded per page and discarded after resolution.
type Graph map[string]any

// CycleSentinel returns the marker substituted for a reference that points
// back into a chain currently being resolved.
func CycleSentinel(key string) string {
	return fmt.Sprintf("__CYCLE:%s__", key)
}

// Resolve recursively replaces reference tokens in value with the graph
// entries they name, descending into maps and slices. Scalars pass through
// untouched and a reference to a missing key resolves to nil.
//
// Malformed upstream data can make tokens form a cycle; Resolve tracks the
// set of keys currently in progress and substitutes a deterministic
// sentinel instead of recursing unboundedly.
func Resolve(value any, g Graph) any {
	return resolve(value, g, make(map[string]struct{}))
}

func resolve(value any, g Graph, inProgress map[string]struct{}) any {
	switch v := value.(type) {
	case map[string]any:
		if ref, ok := v[refKey].(string); ok {
			if _, active := inProgress[ref]; active {
				return CycleSentinel(ref)
			}
			target, ok := g[ref]
			if !ok {
				return nil
			}
			inProgress[ref] = struct{}{}
			resolved := resolve(target, g, inProgress)
			delete(inProgress, ref)
			return resolved
		}
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = resolve(child, g, inProgress)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = resolve(child, g, inProgress)
		}
		return out
	default:
		return value
	}
}

// ResolveNode resolves the named graph entry into a fully materialized map.
func ResolveNode(key string, g Graph) (map[string]any, bool) {
	entry, ok := g[key]
	if !ok {
		return nil, false
	}
	resolved, ok := Resolve(entry, g).(map[string]any)
	return resolved, ok
}
