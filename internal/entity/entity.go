// Package entity implements the unit of merge described in the
// specification's §3: a tuple of class names, application names, a
// Parameters tree, and an Exports tree, plus the identity fields (name,
// uri, environment) that travel with whichever source last contributed to
// it.
//
// Grounded on the reference implementation's reclass/datatypes/entity.py
// (Entity.merge/interpolate) and reclass/datatypes/exports.py
// (Exports.interpolate_from_external, confirming exports interpolate
// self-only against the owning node's own merged parameters, never against
// peers — see DESIGN.md Open Question decision 2).
package entity

import (
	"strings"

	"github.com/reclass-go/reclass/internal/parameters"
	"github.com/reclass-go/reclass/internal/query"
	"github.com/reclass-go/reclass/internal/settings"
)

// Entity is one node's or class's merge unit.
type Entity struct {
	Name        string
	URI         string
	Environment string

	Classes      []string
	Applications []string

	Parameters *parameters.Parameters
	Exports    *parameters.Parameters
}

// New returns an empty Entity ready to receive raw data via MergeRaw, or
// to be merged into an accumulator via Merge.
func New(delimiter, name, uri, environment string) *Entity {
	return &Entity{
		Name:        name,
		URI:         uri,
		Environment: environment,
		Parameters:  parameters.New(delimiter),
		Exports:     parameters.New(delimiter),
	}
}

// MergeRaw folds a decoded on-disk document's classes/applications/
// parameters/exports into e, treating e as freshly constructed: the
// parameters/exports merges run with initmerge=true, so any literal
// "~key"/"=key" in the document's own top-level mapping is kept as a
// literal key rather than triggering override/constant semantics (see
// §4.3's "outermost merge... preserved as literal keys").
func (e *Entity) MergeRaw(doc RawDocument, st settings.Settings) error {
	for _, c := range doc.Classes {
		appendUniqueClass(&e.Classes, c)
	}
	for _, a := range doc.Applications {
		applyApplication(&e.Applications, a, st)
	}
	if doc.Parameters != nil {
		if err := e.Parameters.MergeRaw(doc.Parameters, st, true); err != nil {
			return err
		}
	}
	if doc.Exports != nil {
		if err := e.Exports.MergeRaw(doc.Exports, st, true); err != nil {
			return err
		}
	}
	if doc.Environment != "" {
		e.Environment = doc.Environment
	}
	return nil
}

// RawDocument is the decoded shape of one on-disk node/class document (§6).
type RawDocument struct {
	Classes      []string
	Applications []string
	Parameters   map[string]any
	Exports      map[string]any
	Environment  string
}

// Merge folds other into e: the accumulator pattern used while walking an
// ancestry (§4.5) — other is the Entity most recently visited (a class
// body, or finally the node's own body), e is the accumulator built from
// everything visited so far. e's identity fields (name/uri/environment)
// are overwritten by each of other's that is non-empty, mirroring the reference implementation's
// Entity.merge (the entity being merged in "wins" identity, since post-order
// traversal means the last merge is always the node's own body).
func (e *Entity) Merge(other *Entity, st settings.Settings) error {
	if other == nil {
		return nil
	}
	for _, c := range other.Classes {
		appendUniqueClass(&e.Classes, c)
	}
	for _, a := range other.Applications {
		applyApplication(&e.Applications, a, st)
	}
	if err := e.Parameters.Merge(other.Parameters, st); err != nil {
		return err
	}
	if err := e.Exports.Merge(other.Exports, st); err != nil {
		return err
	}
	if other.Name != "" {
		e.Name = other.Name
	}
	if other.URI != "" {
		e.URI = other.URI
	}
	if other.Environment != "" {
		e.Environment = other.Environment
	}
	return nil
}

func appendUniqueClass(classes *[]string, name string) {
	for _, c := range *classes {
		if c == name {
			return
		}
	}
	*classes = append(*classes, name)
}

// applyApplication implements §3's two application operations: a bare
// name is unique-appended; a name carrying the removal sentinel ("~name")
// removes any existing entry equal to the remainder instead of being
// appended itself.
func applyApplication(apps *[]string, name string, st settings.Settings) {
	if st.OverridePrefix != "" && strings.HasPrefix(name, st.OverridePrefix) && name != st.OverridePrefix {
		target := strings.TrimPrefix(name, st.OverridePrefix)
		out := (*apps)[:0]
		for _, a := range *apps {
			if a != target {
				out = append(out, a)
			}
		}
		*apps = out
		return
	}
	appendUniqueClass(apps, name)
}

// Interpolate runs the node-self-only interpolation pass over both
// Parameters and Exports: Exports is interpolated with e's own merged
// Parameters tree available as the resolution context for "self:"-style
// references inside exported values, but never against any other node's
// data. inv is nil when this is the first, §4.6-pass-1 build (currentEnv
// is then the entity's own environment); the second pass supplies the built inventory only to entities
// whose Parameters reported HasQuery.
func (e *Entity) Interpolate(inv query.Inventory, currentEnv string) error {
	if err := e.Parameters.Interpolate(inv, currentEnv); err != nil {
		return err
	}
	return e.Exports.InterpolateFromContext(e.Parameters, inv, currentEnv)
}

// HasQuery reports whether either the parameters or the exports tree
// contains an inventory query, i.e. whether this Entity needs re-
// interpolation once the inventory view exists (§4.6 pass 2).
func (e *Entity) HasQuery() bool {
	return e.Parameters.HasQuery() || e.Exports.HasQuery()
}

// AsDocument renders e into the public mapping shape used by nodeinfo/
// inventory output (§4.6/§6): classes, applications, parameters, exports,
// environment.
func (e *Entity) AsDocument() map[string]any {
	return map[string]any{
		"classes":      append([]string{}, e.Classes...),
		"applications": append([]string{}, e.Applications...),
		"parameters":   e.Parameters.AsMap(),
		"exports":      e.Exports.AsMap(),
		"environment":  e.Environment,
	}
}
