// Package parameters implements the merged, interpolated value tree
// described in the specification's §4.3 (merge engine) and §4.4
// (interpolator). A Parameters tree is built by repeatedly merging raw
// YAML-decoded values (map[string]any / []any / scalars) and Parameters
// objects into an accumulator, in the order the class resolver visits a
// node's ancestry, and then interpolated once the whole ancestry has been
// merged in.
//
// Grounded on the reference implementation's reclass/datatypes/parameters.py
// (_merge_recurse/_merge_dict/_update_value for the merge engine,
// interpolate/_interpolate_inner for the two-phase interpolator), adapted
// to Go: rather than mutating a single unrendered/in-progress bookkeeping
// map ahead of a fixed dependency list (the original's "bad reference
// count" retry loop), this port resolves references on demand — Resolve
// recursively interpolates whatever a reference depends on the first time
// it is asked for, marking paths in-progress for cycle detection exactly as
// the original does. This sidesteps needing to reassemble a reference's
// dependency list after a partial resolution, at the cost of not
// threading every compound-structure edge case the original's ancestor
// pre-resolution step covers (see DESIGN.md).
package parameters

import (
	"sort"
	"strings"

	rerrors "github.com/reclass-go/reclass/internal/errors"
	"github.com/reclass-go/reclass/internal/item"
	"github.com/reclass-go/reclass/internal/parser"
	"github.com/reclass-go/reclass/internal/path"
	"github.com/reclass-go/reclass/internal/query"
	"github.com/reclass-go/reclass/internal/settings"
	"github.com/reclass-go/reclass/internal/valuelist"
)

// node is one point in the merged tree: either a dict (recursed into
// key-by-key on every merge) or a leaf (a ValueList of layered Items,
// combined only at render time). Sequences are leaves, not recursed into,
// matching the reference implementation's itemisation of a list value as a
// single Value wrapping the whole list.
type node struct {
	isDict    bool
	dict      map[string]*node
	keys      []string
	constants map[string]bool

	vl         *valuelist.ValueList
	rendered   any
	isRendered bool

	// layers holds a stack of alternative sub-nodes recorded at this same
	// path when a merge paired a dict-shaped node with a leaf whose real
	// type (dict/list/scalar) is unknown until it renders — a
	// Reference/Composite/Query. Each layer is rendered independently and
	// the results combined in order with the same dict-deep-merge/
	// list-extend/else-replace rule ValueList.Render applies to its own
	// Items, mirroring the reference implementation's _update_value
	// (parameters.py), which stacks unconditionally rather than checking
	// type compatibility before a reference has been resolved.
	layers []*node
}

// Parameters is a merged, (optionally) interpolated value tree.
type Parameters struct {
	Delimiter string
	root      *node
	// inProgress holds the paths currently being rendered by ensureResolved,
	// so that a reference back into one of them is caught as a cycle
	// instead of recursing forever. stack holds the same paths in the
	// order they were entered, so a cycle can be reported as "referrer,
	// referenced" (the path whose render led to the repeat lookup, and the
	// path that repeats) rather than naming the same path twice. inProgress
	// is keyed by Path.String(), since a Path itself is not comparable.
	inProgress map[string]bool
	stack      []path.Path

	// ignoreOverwrittenMissingReferences mirrors Settings of the same name,
	// latched in from whichever MergeRaw/Merge call last supplied it (a
	// single build uses one immutable Settings value throughout, so this is
	// stable by the time Interpolate runs).
	ignoreOverwrittenMissingReferences bool
	// inventoryIgnoreFailedRender mirrors Settings.InventoryIgnoreFailedRender,
	// the process-wide default for a query's own "+IgnoreErrors" option (a
	// query can still turn it on for itself; this only ever forces it on,
	// never off, matching the reference implementation's InvItem seeding
	// _ignore_failed_render from the setting before parsing its own options).
	inventoryIgnoreFailedRender bool
}

// New returns an empty Parameters tree.
func New(delimiter string) *Parameters {
	return &Parameters{Delimiter: delimiter, root: &node{isDict: true, dict: map[string]*node{}}}
}

// AsMap renders the tree (which must already be interpolated, or at least
// have no complex leaves) into a plain map[string]any.
func (p *Parameters) AsMap() map[string]any {
	v := nodeValue(p.root)
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func nodeValue(n *node) any {
	if n.isDict {
		out := make(map[string]any, len(n.dict))
		for k, child := range n.dict {
			out[k] = nodeValue(child)
		}
		return out
	}
	if n.isRendered {
		return n.rendered
	}
	return nil
}

// getNode navigates the tree along pth, returning nil if any component is
// missing or passes through a non-dict node.
func (p *Parameters) getNode(pth path.Path) *node {
	cur := p.root
	for _, part := range pth.Parts() {
		if !cur.isDict {
			return nil
		}
		next, ok := cur.dict[part]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// Exists reports whether pth names a node in the tree (rendered or not).
func (p *Parameters) Exists(pth path.Path) bool {
	return p.getNode(pth) != nil
}

// itemise converts a raw decoded-YAML value into a node tree, tokenizing
// any string scalars it finds via internal/parser.
func itemise(raw any, st settings.Settings) (*node, error) {
	switch v := raw.(type) {
	case map[string]any:
		n := &node{isDict: true, dict: map[string]*node{}}
		keys := sortedKeys(v)
		for _, k := range keys {
			child, err := itemise(v[k], st)
			if err != nil {
				return nil, err
			}
			n.dict[k] = child
			n.keys = append(n.keys, k)
		}
		return n, nil
	default:
		it, err := itemiseLeaf(raw, st)
		if err != nil {
			return nil, err
		}
		return &node{vl: valuelist.New(it)}, nil
	}
}

// itemiseLeaf converts a raw value that sits below the top of a leaf (a
// list element, or a nested dict/list found inside one) into an Item.
func itemiseLeaf(raw any, st settings.Settings) (item.Item, error) {
	switch v := raw.(type) {
	case map[string]any:
		d := item.NewDict()
		for _, k := range sortedKeys(v) {
			child, err := itemiseLeaf(v[k], st)
			if err != nil {
				return nil, err
			}
			d.Set(k, child)
		}
		return *d, nil
	case []any:
		elems := make([]item.Item, len(v))
		for i, e := range v {
			it, err := itemiseLeaf(e, st)
			if err != nil {
				return nil, err
			}
			elems[i] = it
		}
		return item.List{Elems: elems}, nil
	case string:
		toks, err := parser.Parse(st, v)
		if err != nil {
			return nil, err
		}
		return item.FromTokens(toks), nil
	default:
		return item.Scalar{Value: v}, nil
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MergeRaw merges a raw decoded-YAML mapping into p. initmerge must be true
// only for the single merge that first populates an entity's own
// Parameters object from its own YAML body: override (~) and constant (=)
// key prefixes are preserved as literal characters during that merge, so
// that an entity's own top-level keys cannot accidentally trigger them.
func (p *Parameters) MergeRaw(raw any, st settings.Settings, initmerge bool) error {
	p.ignoreOverwrittenMissingReferences = st.IgnoreOverwrittenMissingReferences
	p.inventoryIgnoreFailedRender = st.InventoryIgnoreFailedRender
	src, err := itemise(raw, st)
	if err != nil {
		return err
	}
	merged, err := mergeNode(p.root, src, st, initmerge)
	if err != nil {
		return err
	}
	if !merged.isDict {
		return rerrors.NewExpressionError("a parameters/exports document must be a mapping")
	}
	p.root = merged
	return nil
}

// Merge merges another, already-built Parameters tree into p (the ordinary,
// non-initializing merge used to fold a class's or node's Parameters into
// the resolver's accumulator).
func (p *Parameters) Merge(other *Parameters, st settings.Settings) error {
	if other == nil {
		return nil
	}
	p.ignoreOverwrittenMissingReferences = st.IgnoreOverwrittenMissingReferences
	p.inventoryIgnoreFailedRender = st.InventoryIgnoreFailedRender
	merged, err := mergeNode(p.root, other.root, st, false)
	if err != nil {
		return err
	}
	p.root = merged
	return nil
}

func mergeNode(dst, src *node, st settings.Settings, initmerge bool) (*node, error) {
	if dst == nil {
		return src, nil
	}
	dk, dNil := classify(dst)
	sk, sNil := classify(src)

	// Either side being "unknown" means its eventual type (dict/list/
	// scalar) is not decidable until a Reference/Composite/Query it holds
	// (directly, or via an earlier stacked layer) actually renders: defer
	// the whole §4.3 truth table to render time instead of guessing now.
	if dk == "unknown" || sk == "unknown" {
		return mergeDeferred(dst, src), nil
	}

	switch {
	case dk == "dict" && sk == "dict":
		return mergeDict(dst, src, st, initmerge)

	case dk == "list" && sk == "list":
		for _, it := range src.vl.Items {
			dst.vl.Append(it)
		}
		return dst, nil

	case dk == "scalar" && sk == "scalar":
		if sNil && !dNil && !st.AllowNoneOverride {
			return nil, rerrors.NewExpressionError("cannot override a value with null unless allow_none_override is set")
		}
		for _, it := range src.vl.Items {
			dst.vl.Append(it)
		}
		return dst, nil

	case dk == "dict" && sk == "scalar":
		if sNil {
			return dst, nil
		}
		if !st.AllowScalarOverDict {
			return nil, rerrors.NewExpressionError("cannot merge scalar over mapping unless allow_scalar_over_dict is set")
		}
		return src, nil

	case dk == "list" && sk == "scalar":
		if !st.AllowScalarOverList {
			return nil, rerrors.NewExpressionError("cannot merge scalar over sequence unless allow_scalar_over_list is set")
		}
		return src, nil

	case dk == "scalar" && sk == "list":
		if !st.AllowListOverScalar {
			return nil, rerrors.NewExpressionError("cannot merge sequence over scalar unless allow_list_over_scalar is set")
		}
		return src, nil

	case dk == "scalar" && sk == "dict":
		if dNil {
			return src, nil
		}
		if !st.AllowDictOverScalar {
			return nil, rerrors.NewExpressionError("cannot merge mapping over scalar unless allow_dict_over_scalar is set")
		}
		return src, nil

	default:
		return nil, rerrors.NewExpressionError("incompatible types at merge: " + dk + " vs " + sk)
	}
}

// mergeDeferred stacks dst and src as layers at the same path without
// checking type compatibility, for a pairing where at least one side's
// real type is unknown until a Reference/Composite/Query it holds renders
// (e.g. a dict merged over/under "${alpha}"). asLayers flattens an
// already-deferred node's own layers so repeated merges accumulate one
// flat stack instead of nesting.
func mergeDeferred(dst, src *node) *node {
	layers := append([]*node{}, asLayers(dst)...)
	layers = append(layers, asLayers(src)...)
	return &node{layers: layers}
}

// asLayers returns n's own layers if n is already a deferred stack,
// otherwise a single-element stack holding n itself: a plain dict or leaf
// node renders as one opaque unit within the outer stack.
func asLayers(n *node) []*node {
	if n.layers != nil {
		return n.layers
	}
	return []*node{n}
}

func mergeDict(dst, src *node, st settings.Settings, initmerge bool) (*node, error) {
	for _, key := range src.keys {
		srcChild := src.dict[key]
		incomingKey := key
		mode := "normal"
		if !initmerge {
			switch {
			case st.OverridePrefix != "" && strings.HasPrefix(key, st.OverridePrefix) && key != st.OverridePrefix:
				incomingKey = strings.TrimPrefix(key, st.OverridePrefix)
				mode = "override"
			case st.ConstantPrefix != "" && strings.HasPrefix(key, st.ConstantPrefix) && key != st.ConstantPrefix:
				incomingKey = strings.TrimPrefix(key, st.ConstantPrefix)
				mode = "constant"
			}
		}

		if dst.constants[incomingKey] {
			if st.StrictConstantParams {
				return nil, rerrors.NewExpressionError("cannot merge into constant parameter " + incomingKey)
			}
			continue
		}

		if mode == "override" {
			dst.setChild(incomingKey, srcChild)
		} else {
			merged, err := mergeNode(dst.dict[incomingKey], srcChild, st, initmerge)
			if err != nil {
				return nil, err
			}
			dst.setChild(incomingKey, merged)
		}

		if mode == "constant" {
			if dst.constants == nil {
				dst.constants = map[string]bool{}
			}
			dst.constants[incomingKey] = true
		}
	}
	return dst, nil
}

func (n *node) setChild(key string, child *node) {
	if n.dict == nil {
		n.dict = map[string]*node{}
	}
	if _, ok := n.dict[key]; !ok {
		n.keys = append(n.keys, key)
	}
	n.dict[key] = child
}

// classify reports a node's merge-compatibility class ("dict", "list",
// "scalar", or "unknown") and whether it is a bare scalar nil (the YAML
// null/~ literal). A leaf whose topmost layer is a Composite/Reference/
// Query is "unknown": its real type isn't decidable until that item
// renders, so the §4.3 dict/list/scalar truth table cannot be applied to
// it at merge time — it must be stacked and deferred to render instead
// (mirroring the reference implementation's _update_value, which never
// type-checks a merge against an unrendered value). A node already
// carrying deferred layers is likewise "unknown", so further merges keep
// stacking rather than re-triggering a truth-table check.
func classify(n *node) (kind string, isNil bool) {
	if n.isDict {
		return "dict", false
	}
	if n.layers != nil {
		return "unknown", false
	}
	first := n.vl.Items[0]
	switch first.Kind() {
	case item.KindList:
		return "list", false
	case item.KindComposite, item.KindReference, item.KindQuery:
		return "unknown", false
	}
	if sc, ok := first.(item.Scalar); ok && sc.Value == nil {
		return "scalar", true
	}
	return "scalar", false
}

// HasQuery reports whether any leaf anywhere in the tree contains an
// inventory query, i.e. whether this Parameters needs the second,
// union-of-exports interpolation pass.
func (p *Parameters) HasQuery() bool {
	return nodeHasQuery(p.root)
}

func nodeHasQuery(n *node) bool {
	if n.isDict {
		for _, k := range n.keys {
			if nodeHasQuery(n.dict[k]) {
				return true
			}
		}
		return false
	}
	if n.layers != nil {
		for _, layer := range n.layers {
			if nodeHasQuery(layer) {
				return true
			}
		}
		return false
	}
	for _, it := range n.vl.Items {
		if item.HasQuery(it) {
			return true
		}
	}
	return false
}

// treeResolver implements item.Resolver against a Parameters tree,
// resolving references on demand: asking for a path that has not yet been
// rendered recursively renders it (and whatever it, in turn, depends on)
// before returning its value. This is what lets "${${x}}"-style nested
// references, and references addressing parts of the tree merged in from
// later ancestors, resolve regardless of tree-walk order.
type treeResolver struct {
	// walk is the tree whose leaves are currently being rendered (tracks
	// in-progress paths for cycle detection).
	walk *Parameters
	// resolve is the tree that Reference targets and query "self:" operands
	// are looked up against. It equals walk for ordinary self-contained
	// interpolation, but is the owning node's Parameters tree (already
	// interpolated) when rendering an Exports tree against external context
	// (see Parameters.InterpolateFromContext).
	resolve *Parameters
	inv     query.Inventory
	env     string
}

func (tr *treeResolver) Resolve(pth path.Path) (any, bool, error) {
	n := tr.resolve.getNode(pth)
	if n == nil {
		return nil, false, nil
	}
	sub := tr
	if tr.resolve != tr.walk {
		sub = &treeResolver{walk: tr.resolve, resolve: tr.resolve, inv: tr.inv, env: tr.env}
	}
	v, err := tr.resolve.ensureResolved(pth, n, sub)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (tr *treeResolver) Query(expr string) (any, error) {
	if tr.inv == nil {
		return nil, rerrors.NewExpressionError("inventory queries are not available in this context")
	}
	q, err := query.Parse(expr, tr.resolve.Delimiter)
	if err != nil {
		return nil, err
	}
	if tr.resolve.inventoryIgnoreFailedRender {
		q.Options.IgnoreErrors = true
	}
	self := func(pth path.Path) (any, bool) {
		v, ok, err := tr.Resolve(pth)
		if err != nil || !ok {
			return nil, false
		}
		return v, true
	}
	return query.Eval(q, tr.inv, tr.env, self)
}

// ensureResolved returns n's fully-rendered value, rendering it (and
// recursively, any node it references) if it has not been rendered yet.
// A dict node is rendered by recursively resolving its children; a
// deferred (layered) node combines each layer's own rendered value in
// order, exactly as a leaf's ValueList combines its Items; an ordinary
// leaf defers to its ValueList, with tr supplying Reference/Query values.
func (p *Parameters) ensureResolved(pth path.Path, n *node, tr *treeResolver) (any, error) {
	return p.ensureResolvedLayer(pth, n, tr, false)
}

// ensureResolvedLayer is ensureResolved with forceIgnoreMissingRef: true
// when n is itself one of several stacked node.layers and is not the last
// one, so a reference missing anywhere within it is expected to be
// overwritten by a later layer and should downgrade to nil, matching
// §4.4's "missing reference in a non-topmost layer" rule for the same
// reason it applies within an ordinary ValueList's own Items.
func (p *Parameters) ensureResolvedLayer(pth path.Path, n *node, tr *treeResolver, forceIgnoreMissingRef bool) (any, error) {
	if n.isDict {
		out := make(map[string]any, len(n.dict))
		for _, k := range n.keys {
			cv, err := p.ensureResolvedLayer(pth.Child(k), n.dict[k], tr, forceIgnoreMissingRef)
			if err != nil {
				return nil, err
			}
			out[k] = cv
		}
		return out, nil
	}
	if n.isRendered {
		return n.rendered, nil
	}
	if n.layers != nil {
		// Every layer sits at this same path and marks it in progress while
		// it renders, so a cycle back into pth is still caught there.
		v, err := p.renderLayers(pth, n.layers, tr, forceIgnoreMissingRef)
		if err != nil {
			return nil, err
		}
		n.rendered = v
		n.isRendered = true
		return v, nil
	}
	key := pth.String()
	if p.inProgress[key] {
		referrer := pth
		if len(p.stack) > 0 {
			referrer = p.stack[len(p.stack)-1]
		}
		return nil, rerrors.NewInfiniteRecursionError(referrer.String(), pth.String())
	}
	if p.inProgress == nil {
		p.inProgress = map[string]bool{}
	}
	p.inProgress[key] = true
	p.stack = append(p.stack, pth)
	var v any
	var err error
	if forceIgnoreMissingRef {
		// A later layer overwrites this whole leaf, so every one of its
		// Items, the topmost included, downgrades a missing reference to nil.
		for i, it := range n.vl.Items {
			var iv any
			if iv, err = item.Render(it, p.Delimiter, tr, true); err != nil {
				break
			}
			if i == 0 {
				v = iv
			} else if v, err = valuelist.MergeRendered(v, iv); err != nil {
				break
			}
		}
	} else {
		v, err = n.vl.Render(p.Delimiter, tr, p.ignoreOverwrittenMissingReferences)
	}
	p.stack = p.stack[:len(p.stack)-1]
	delete(p.inProgress, key)
	if err != nil {
		return nil, err
	}
	n.rendered = v
	n.isRendered = true
	return v, nil
}

// renderLayers renders each of a deferred node's stacked layers at pth in
// order and combines the results with the same dict-deep-merge/
// list-extend/else-replace rule ValueList.Render applies to its own Items,
// so a dict-shaped layer and a Reference/Composite/Query layer merge
// correctly once the reference's real type is known.
func (p *Parameters) renderLayers(pth path.Path, layers []*node, tr *treeResolver, forceIgnoreMissingRef bool) (any, error) {
	var out any
	haveOutput := false
	for i, layer := range layers {
		layerForce := forceIgnoreMissingRef || (p.ignoreOverwrittenMissingReferences && i != len(layers)-1)
		v, err := p.ensureResolvedLayer(pth, layer, tr, layerForce)
		if err != nil {
			return nil, err
		}
		if !haveOutput {
			out = v
			haveOutput = true
			continue
		}
		merged, err := valuelist.MergeRendered(out, v)
		if err != nil {
			return nil, err
		}
		out = merged
	}
	return out, nil
}

// Interpolate renders every leaf in the tree, substituting Reference and
// Query values via inv/currentEnv (either of which may be the zero value
// when no inventory query can legally occur, e.g. during a node's
// self-only first pass — a Query item encountered with inv == nil fails
// with an error rather than silently resolving to nothing). References
// resolve against p itself.
func (p *Parameters) Interpolate(inv query.Inventory, currentEnv string) error {
	return p.interpolate(p, inv, currentEnv)
}

// InterpolateFromContext renders every leaf in p, but resolves every
// Reference target and query "self:" operand against ctx instead of p —
// used to interpolate an Entity's Exports tree against its own,
// already-interpolated Parameters tree, per the reference implementation's
// Exports.interpolate_from_external (see package doc).
func (p *Parameters) InterpolateFromContext(ctx *Parameters, inv query.Inventory, currentEnv string) error {
	return p.interpolate(ctx, inv, currentEnv)
}

func (p *Parameters) interpolate(resolveTree *Parameters, inv query.Inventory, currentEnv string) error {
	p.inProgress = map[string]bool{}
	tr := &treeResolver{walk: p, resolve: resolveTree, inv: inv, env: currentEnv}
	_, err := p.ensureResolved(path.FromParts(p.Delimiter), p.root, tr)
	return err
}

// Resolve exposes the tree as an item.Resolver over already-merged (but
// perhaps not yet rendered) content, letting another Parameters tree's
// interpolation reference into this one.
func (p *Parameters) Resolve(pth path.Path) (any, bool, error) {
	tr := &treeResolver{walk: p, resolve: p}
	return tr.Resolve(pth)
}
