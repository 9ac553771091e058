// Package path implements dotted-key (by default ':'-delimited) navigation
// into nested mappings and sequences, as used to address a location in a
// merged Parameters tree or inside a predicate/query expression.
package path

import (
	"strconv"
	"strings"
)

// Path is an ordered, immutable sequence of key parts. A Path holds a slice,
// so it is not comparable with == and cannot be a map key; callers that
// need one use String(), which is equal for two Paths with the same
// delimiter and parts (e.g. the interpolator's in-progress set).
type Path struct {
	delimiter string
	key       string // parts joined by delimiter; cached for String/equality
	parts     []string
}

// New splits s on delimiter into a Path. An empty string produces a
// zero-length Path.
func New(delimiter, s string) Path {
	var parts []string
	if s != "" {
		parts = strings.Split(s, delimiter)
	}
	return FromParts(delimiter, parts...)
}

// FromParts builds a Path directly from its components.
func FromParts(delimiter string, parts ...string) Path {
	cp := make([]string, len(parts))
	copy(cp, parts)
	return Path{delimiter: delimiter, parts: cp, key: strings.Join(cp, delimiter)}
}

// String renders p using its delimiter.
func (p Path) String() string { return p.key }

// Delimiter returns the delimiter p was constructed with.
func (p Path) Delimiter() string { return p.delimiter }

// Parts returns a copy of p's key parts.
func (p Path) Parts() []string {
	cp := make([]string, len(p.parts))
	copy(cp, p.parts)
	return cp
}

// Len returns the number of key parts in p.
func (p Path) Len() int { return len(p.parts) }

// Empty reports whether p has no key parts.
func (p Path) Empty() bool { return len(p.parts) == 0 }

// Child returns p with part appended.
func (p Path) Child(part string) Path {
	parts := append(append([]string{}, p.parts...), part)
	return FromParts(p.delimiter, parts...)
}

// Parent returns p with its last key part removed, and false if p is
// already empty.
func (p Path) Parent() (Path, bool) {
	if len(p.parts) == 0 {
		return p, false
	}
	return FromParts(p.delimiter, p.parts[:len(p.parts)-1]...), true
}

// Last returns the final key part of p, or "" if p is empty.
func (p Path) Last() string {
	if len(p.parts) == 0 {
		return ""
	}
	return p.parts[len(p.parts)-1]
}

// DropFirst returns p with its first key part removed; used to strip the
// leading "exports"/"self" discriminator off a query-expression path.
func (p Path) DropFirst() Path {
	if len(p.parts) == 0 {
		return p
	}
	return FromParts(p.delimiter, p.parts[1:]...)
}

// Ancestors returns every proper ancestor of p, root-first (shortest
// first), not including p itself.
func (p Path) Ancestors() []Path {
	out := make([]Path, 0, len(p.parts))
	for i := 0; i < len(p.parts); i++ {
		out = append(out, FromParts(p.delimiter, p.parts[:i]...))
	}
	return out
}

// IsAncestorOf reports whether p is a proper ancestor of other.
func (p Path) IsAncestorOf(other Path) bool {
	if len(p.parts) >= len(other.parts) {
		return false
	}
	for i, part := range p.parts {
		if other.parts[i] != part {
			return false
		}
	}
	return true
}

// asIndex reports whether part names an integer sequence index.
func asIndex(part string) (int, bool) {
	n, err := strconv.Atoi(part)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Get navigates root (expected to be built from map[string]any/[]any, as
// produced by a YAML/JSON decode) along p and returns the value found
// there, or ok=false if any component of the path does not exist.
func Get(root any, p Path) (any, bool) {
	cur := root
	for _, part := range p.parts {
		switch c := cur.(type) {
		case map[string]any:
			v, ok := c[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, ok := asIndex(part)
			if !ok || idx >= len(c) {
				return nil, false
			}
			cur = c[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Exists reports whether p names a value reachable from root.
func Exists(root any, p Path) bool {
	_, ok := Get(root, p)
	return ok
}

// Set navigates root along all but the last component of p, creating
// intermediate map[string]any nodes as needed, and assigns value at the
// final component. It returns false if an intermediate component exists
// but is not a map (sequences cannot be auto-vivified).
func Set(root map[string]any, p Path, value any) bool {
	if p.Empty() {
		return false
	}
	cur := root
	for _, part := range p.parts[:len(p.parts)-1] {
		next, ok := cur[part]
		if !ok {
			m := map[string]any{}
			cur[part] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return false
		}
		cur = m
	}
	cur[p.Last()] = value
	return true
}

// Delete removes the value at p from root, if present.
func Delete(root map[string]any, p Path) {
	if p.Empty() {
		return
	}
	parent, _ := p.Parent()
	v, ok := Get(root, parent)
	if !ok {
		if parent.Empty() {
			delete(root, p.Last())
		}
		return
	}
	if m, ok := v.(map[string]any); ok {
		delete(m, p.Last())
	}
}
