package settings

import (
	"fmt"
	"sort"
	"strings"
)

// Tree is the nested settings document. Keys are stored lower-case and
// addressed with dotted paths such as "server.version.release".
type Tree map[string]any

// ConfigPathMissing is returned when a dotted path cannot be resolved.
// Segment is the first path element that was not found.
type ConfigPathMissing struct {
	Path    string
	Segment string
}

func (e *ConfigPathMissing) Error() string {
	if e.Segment == "" || e.Segment == e.Path {
		return fmt.Sprintf("settings path %q is not set", e.Path)
	}
	return fmt.Sprintf("settings path %q is not set (missing %q)", e.Path, e.Segment)
}

func splitPath(path string) []string {
	return strings.Split(strings.ToLower(strings.TrimSpace(path)), ".")
}

// Get returns the value at path or a *ConfigPathMissing error.
func (t Tree) Get(path string) (any, error) {
	parts := splitPath(path)
	var cur any = map[string]any(t)
	for i, p := range parts {
		m, ok := asMap(cur)
		if !ok {
			return nil, &ConfigPathMissing{Path: path, Segment: strings.Join(parts[:i+1], ".")}
		}
		next, ok := m[p]
		if !ok {
			return nil, &ConfigPathMissing{Path: path, Segment: strings.Join(parts[:i+1], ".")}
		}
		cur = next
	}
	return cur, nil
}

// Lookup is Get without the error value.
func (t Tree) Lookup(path string) (any, bool) {
	v, err := t.Get(path)
	return v, err == nil
}

// Set stores value at path, creating intermediate maps. A scalar sitting
// where a map is needed is replaced.
func (t Tree) Set(path string, value any) {
	parts := splitPath(path)
	cur := map[string]any(t)
	for _, p := range parts[:len(parts)-1] {
		next, ok := asMap(cur[p])
		if !ok {
			next = make(map[string]any)
		}
		cur[p] = next
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// Has reports whether the top-level section exists.
func (t Tree) Has(section string) bool {
	_, ok := t[strings.ToLower(section)]
	return ok
}

// Sections returns the top-level keys, sorted.
func (t Tree) Sections() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of the tree. Maps and slices are copied while
// leaf values are shared.
func (t Tree) Clone() Tree {
	return Tree(deepCopy(map[string]any(t)).(map[string]any))
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case Tree:
		return deepCopy(map[string]any(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Tree:
		return map[string]any(m), true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, item := range m {
			out[strings.ToLower(fmt.Sprint(k))] = item
		}
		return out, true
	}
	return nil, false
}

// nest turns dotted keys into a nested map, lower-casing every segment.
func nest(flat map[string]any) map[string]any {
	out := Tree{}
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	// Shorter keys first so "a.b" set after "a" replaces the scalar.
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) < len(keys[j]) })
	for _, k := range keys {
		out.Set(k, flat[k])
	}
	return map[string]any(out)
}
