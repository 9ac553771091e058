// Package item implements the tagged-variant value tree the interpolator
// operates on. A raw parameter value, once tokenized by internal/parser, is
// converted into exactly one of the six Item kinds below: this is the
// "tagged variant / sealed interface" representation the specification
// calls for in place of the reference implementation's isinstance-branching
// Value class (see reclass/values/value.py).
package item

import (
	"fmt"
	"strings"

	rerrors "github.com/reclass-go/reclass/internal/errors"
	"github.com/reclass-go/reclass/internal/parser"
	"github.com/reclass-go/reclass/internal/path"
)

// Kind tags the concrete type of an Item.
type Kind int

const (
	KindScalar Kind = iota
	KindComposite
	KindReference
	KindQuery
	KindList
	KindDict
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "SCALAR"
	case KindComposite:
		return "COMPOSITE"
	case KindReference:
		return "REFERENCE"
	case KindQuery:
		return "QUERY"
	case KindList:
		return "LIST"
	case KindDict:
		return "DICT"
	default:
		return "?"
	}
}

// Item is implemented by the six concrete kinds below. A type switch on the
// concrete type (rather than a Kind() dispatch method per value) keeps
// rendering logic in one place; Kind() remains for callers (notably
// the parameters package's classify) that only need to classify a value cheaply.
type Item interface {
	Kind() Kind
}

// Scalar is a primitive value or nil ("None").
type Scalar struct{ Value any }

func (Scalar) Kind() Kind { return KindScalar }

// Composite concatenates the string form of its Parts. It always renders to
// a string, even when one of its Parts is a Reference to a non-string
// value, per the interpolator's type-preservation rule: only a leaf
// consisting of a single Reference item preserves its target's native
// type; anything mixed degrades to string concatenation.
type Composite struct{ Parts []Item }

func (Composite) Kind() Kind { return KindComposite }

// Reference's Parts assemble (by the same string-concatenation rule as
// Composite) into the delimited path text the reference names. A bare
// "${a:b}" has a single Scalar part; "${${x}:b}" has a Reference part
// followed by a Scalar part.
type Reference struct{ Parts []Item }

func (Reference) Kind() Kind { return KindReference }

// Query holds a query body's raw, escape-resolved expression text, to be
// handed to internal/query.
type Query struct{ Expr string }

func (Query) Kind() Kind { return KindQuery }

// List is an ordered sequence of Items.
type List struct{ Elems []Item }

func (List) Kind() Kind { return KindList }

// Dict is an insertion-ordered mapping of Items.
type Dict struct {
	Keys   []string
	Values map[string]Item
}

func (Dict) Kind() Kind { return KindDict }

// Set assigns value at key, appending key to Keys if not already present.
func (d *Dict) Set(key string, value Item) {
	if d.Values == nil {
		d.Values = map[string]Item{}
	}
	if _, ok := d.Values[key]; !ok {
		d.Keys = append(d.Keys, key)
	}
	d.Values[key] = value
}

// NewDict returns an empty Dict ready for Set calls.
func NewDict() *Dict { return &Dict{Values: map[string]Item{}} }

// FromTokens converts a parser token list (the tokenization of one raw
// string value) into a single Item, per the interpolator's
// type-preservation rule: a single token keeps its own Kind (so a lone
// REFERENCE token stays a Reference, eligible to preserve its target's
// native type); more than one token is wrapped in a Composite, which
// always collapses to a string.
func FromTokens(toks []parser.Token) Item {
	if len(toks) == 0 {
		return Scalar{Value: ""}
	}
	if len(toks) == 1 {
		return fromToken(toks[0])
	}
	parts := make([]Item, len(toks))
	for i, t := range toks {
		parts[i] = fromToken(t)
	}
	return Composite{Parts: parts}
}

func fromToken(t parser.Token) Item {
	switch t.Kind {
	case parser.KindStr:
		return Scalar{Value: t.Text}
	case parser.KindQuery:
		return Query{Expr: t.Text}
	case parser.KindRef:
		parts := make([]Item, len(t.Sub))
		for i, s := range t.Sub {
			parts[i] = fromToken(s)
		}
		return Reference{Parts: parts}
	default:
		return Scalar{Value: ""}
	}
}

// IsComplex reports whether it (or anything nested within it) contains a
// Reference or Query, i.e. whether it requires Phase B interpolation rather
// than Phase A's immediate collapse.
func IsComplex(it Item) bool {
	switch v := it.(type) {
	case Scalar:
		return false
	case Composite:
		return anyComplex(v.Parts)
	case Reference:
		return true
	case Query:
		return true
	case List:
		return anyComplex(v.Elems)
	case Dict:
		for _, k := range v.Keys {
			if IsComplex(v.Values[k]) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func anyComplex(items []Item) bool {
	for _, it := range items {
		if IsComplex(it) {
			return true
		}
	}
	return false
}

// HasQuery reports whether it (or anything nested within it) contains a
// Query item; used by Parameters.HasQuery.
func HasQuery(it Item) bool {
	switch v := it.(type) {
	case Query:
		return true
	case Composite:
		return anyHasQuery(v.Parts)
	case Reference:
		return anyHasQuery(v.Parts)
	case List:
		return anyHasQuery(v.Elems)
	case Dict:
		for _, k := range v.Keys {
			if HasQuery(v.Values[k]) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func anyHasQuery(items []Item) bool {
	for _, it := range items {
		if HasQuery(it) {
			return true
		}
	}
	return false
}

// DirectRefs returns the Reference and Query items directly reachable from
// it without descending into another Reference's own Parts (those are a
// separate, nested dependency resolved by rendering that inner Reference
// first). Used by the interpolator to discover what a given tree leaf
// depends on.
func DirectRefs(it Item) []Item {
	switch v := it.(type) {
	case Reference:
		return []Item{v}
	case Query:
		return []Item{v}
	case Composite:
		var out []Item
		for _, p := range v.Parts {
			out = append(out, DirectRefs(p)...)
		}
		return out
	default:
		return nil
	}
}

// Resolver is implemented by the interpolator to supply values for
// Reference targets and to evaluate Query expressions. Resolve may itself
// trigger on-demand resolution of the target path (recursively rendering
// whatever it depends on) rather than requiring every dependency to be
// pre-rendered, which is how cycle detection and deep-reference support are
// implemented; a non-nil error there propagates a cycle or a downstream
// resolution failure.
type Resolver interface {
	Resolve(p path.Path) (any, bool, error)
	// Query evaluates a query expression's body against the inventory
	// view.
	Query(expr string) (any, error)
}

// Render collapses it into a concrete Go value (string/number/bool/nil,
// []any, or map[string]any), using r to substitute Reference/Query values.
// It assumes every Reference/Query reachable from it without crossing
// another unrendered Reference boundary already has a resolvable target;
// the interpolator is responsible for calling Render only once that holds.
//
// ignoreMissingRef, when true, downgrades a Reference with no resolvable
// target to nil instead of a ResolveError — set by ValueList.Render for
// every layer but the topmost one, and by the parameters package for every
// Item of a stacked layer that a later layer overwrites, per §4.4's "a reference in a layer
// expected to be overwritten should not itself fail the render".
func Render(it Item, delimiter string, r Resolver, ignoreMissingRef bool) (any, error) {
	switch v := it.(type) {
	case Scalar:
		return v.Value, nil
	case Query:
		return r.Query(v.Expr)
	case Reference:
		target, err := renderPath(v.Parts, delimiter, r, ignoreMissingRef)
		if err != nil {
			return nil, err
		}
		p := path.New(delimiter, target)
		val, ok, err := r.Resolve(p)
		if err != nil {
			return nil, err
		}
		if !ok {
			if ignoreMissingRef {
				return nil, nil
			}
			return nil, rerrors.NewResolveError(target)
		}
		return val, nil
	case Composite:
		return renderPath(v.Parts, delimiter, r, ignoreMissingRef)
	case List:
		out := make([]any, len(v.Elems))
		for i, e := range v.Elems {
			rv, err := Render(e, delimiter, r, ignoreMissingRef)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	case Dict:
		out := make(map[string]any, len(v.Keys))
		for _, k := range v.Keys {
			rv, err := Render(v.Values[k], delimiter, r, ignoreMissingRef)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	default:
		return nil, nil
	}
}

// renderPath renders parts (as used by both Composite and Reference) to
// their concatenated string form.
func renderPath(parts []Item, delimiter string, r Resolver, ignoreMissingRef bool) (string, error) {
	var b strings.Builder
	for _, p := range parts {
		v, err := Render(p, delimiter, r, ignoreMissingRef)
		if err != nil {
			return "", err
		}
		b.WriteString(Stringify(v))
	}
	return b.String(), nil
}

// Stringify renders a Go value the way the interpolator's string
// concatenation does: nil becomes the empty string, everything else its
// default formatting.
func Stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
