// Package valuelist implements the ordered stack of Items accumulated at a
// single Parameters tree path across successive merges, and the render-time
// logic that collapses the stack into one concrete value. Scalar-over-scalar
// merges only ever replace the top of the stack conceptually, but the stack
// itself is kept until render so that a later reference/query layer does
// not silently erase an earlier, still-relevant one; a stack whose layers
// render to maps or lists is combined at render time instead of replaced.
package valuelist

import (
	"fmt"

	"github.com/reclass-go/reclass/internal/item"
)

// ValueList is the layered stack of Items recorded at one tree path.
type ValueList struct {
	Items []item.Item
}

// New returns a ValueList containing a single layer.
func New(it item.Item) *ValueList {
	return &ValueList{Items: []item.Item{it}}
}

// Append adds it as the newest (topmost) layer.
func (vl *ValueList) Append(it item.Item) {
	vl.Items = append(vl.Items, it)
}

// Len returns the number of layers.
func (vl *ValueList) Len() int { return len(vl.Items) }

// IsComplex reports whether any layer contains a Reference or Query,
// requiring Phase B interpolation instead of Phase A's immediate collapse.
func (vl *ValueList) IsComplex() bool {
	for _, it := range vl.Items {
		if item.IsComplex(it) {
			return true
		}
	}
	return false
}

// HasQuery reports whether any layer contains a Query item.
func (vl *ValueList) HasQuery() bool {
	for _, it := range vl.Items {
		if item.HasQuery(it) {
			return true
		}
	}
	return false
}

// Render collapses every layer in order, combining consecutive map/list
// results and otherwise letting the newest layer win, per §4.3's
// scalar-replaces / mapping-deep-merges / sequence-extends table.
//
// ignoreOverwrittenMissingRefs, when set, downgrades a missing reference
// target to nil instead of failing for every layer except the topmost
// (last) one: a non-topmost layer is expected to be overwritten by a later
// one, per §4.4, so a dangling reference inside it should not itself fail
// the whole render.
func (vl *ValueList) Render(delimiter string, r item.Resolver, ignoreOverwrittenMissingRefs bool) (any, error) {
	var out any
	haveOutput := false
	for i, it := range vl.Items {
		ignoreMissingRef := ignoreOverwrittenMissingRefs && i != len(vl.Items)-1
		v, err := item.Render(it, delimiter, r, ignoreMissingRef)
		if err != nil {
			return nil, err
		}
		if !haveOutput {
			out = v
			haveOutput = true
			continue
		}
		merged, err := MergeRendered(out, v)
		if err != nil {
			return nil, err
		}
		out = merged
	}
	return out, nil
}

// MergeRendered combines two already-rendered layer values the way the
// reference implementation's ValueList.render does: maps deep-merge
// key-by-key, lists extend, and anything else lets the newer value replace
// the older one. Mixing a container with a non-container of the same leaf
// is rejected, mirroring the original's TypeError. Exported so
// internal/parameters can apply the same combine rule when a leaf holding a
// dict-shaped node was stacked against a Reference/Composite/Query leaf
// whose real type is only known once rendered (see Parameters'
// node.layers).
func MergeRendered(existing, incoming any) (any, error) {
	em, eIsMap := existing.(map[string]any)
	im, iIsMap := incoming.(map[string]any)
	if eIsMap && iIsMap {
		out := make(map[string]any, len(em)+len(im))
		for k, v := range em {
			out[k] = v
		}
		for k, v := range im {
			if ev, ok := out[k]; ok {
				merged, err := MergeRendered(ev, v)
				if err != nil {
					return nil, err
				}
				out[k] = merged
				continue
			}
			out[k] = v
		}
		return out, nil
	}

	el, eIsList := existing.([]any)
	il, iIsList := incoming.([]any)
	if eIsList && iIsList {
		out := make([]any, 0, len(el)+len(il))
		out = append(out, el...)
		out = append(out, il...)
		return out, nil
	}

	_, eContainer := existing.(map[string]any)
	_, eContainerL := existing.([]any)
	_, iContainer := incoming.(map[string]any)
	_, iContainerL := incoming.([]any)
	if eContainer || eContainerL || iContainer || iContainerL {
		return nil, fmt.Errorf("cannot merge %#v over %#v", incoming, existing)
	}

	return incoming, nil
}
