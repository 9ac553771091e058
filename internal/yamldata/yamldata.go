// Package yamldata decodes one on-disk node/class document (a YAML mapping
// with top-level "classes"/"applications"/"parameters"/"exports"/
// "environment" keys) into an entity.RawDocument, resolving any
// relative class name ("." or ".." prefix) against the declaring
// document's own dotted name.
//
// Grounded on the reference implementation's reclass/storage/yamldata.py
// (YamlData.get_entity, set_absolute_names/get_parent_directory/
// get_grandparent_directory).
package yamldata

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/reclass-go/reclass/internal/entity"
)

// Decode parses data as a YAML document belonging to name (name's own
// dotted class/node name, used to resolve relative class references) and
// returns the document's RawDocument shape. An empty or entirely-null
// document decodes to a zero-value RawDocument, matching the reference
// implementation's "missing keys default to empty" behaviour.
func Decode(data []byte, name string) (entity.RawDocument, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return entity.RawDocument{}, err
	}
	return fromMap(raw, name)
}

func fromMap(raw map[string]any, name string) (entity.RawDocument, error) {
	var doc entity.RawDocument

	classes, err := stringList(raw["classes"])
	if err != nil {
		return doc, err
	}
	doc.Classes = resolveRelativeClasses(name, classes)

	applications, err := stringList(raw["applications"])
	if err != nil {
		return doc, err
	}
	doc.Applications = applications

	if p, ok := raw["parameters"]; ok && p != nil {
		m, ok := p.(map[string]any)
		if !ok {
			return doc, parametersNotAMapping(name)
		}
		doc.Parameters = m
	}

	if x, ok := raw["exports"]; ok && x != nil {
		m, ok := x.(map[string]any)
		if !ok {
			return doc, exportsNotAMapping(name)
		}
		doc.Exports = m
	}

	if env, ok := raw["environment"]; ok && env != nil {
		if s, ok := env.(string); ok {
			doc.Environment = s
		}
	}

	return doc, nil
}

// resolveRelativeClasses expands "." (parent) and ".." (grandparent)
// relative class-name prefixes against name's own dotted namespace,
// mirroring YamlData.set_absolute_names. A class name with no leading dot
// passes through unchanged.
func resolveRelativeClasses(name string, classes []string) []string {
	if classes == nil {
		return nil
	}
	structure := strings.Split(name, ".")
	parent := ""
	if len(structure) > 1 {
		parent = strings.Join(structure[:len(structure)-1], ".")
	}
	grandparent := ""
	if len(structure) > 2 {
		grandparent = strings.Join(structure[:len(structure)-2], ".")
	}

	out := make([]string, len(classes))
	for i, c := range classes {
		if strings.HasPrefix(c, "..") {
			out[i] = expandGrandparent(c, parent, grandparent)
		} else if strings.HasPrefix(c, ".") {
			out[i] = expandParent(c, parent)
		} else {
			out[i] = c
		}
	}
	return out
}

// expandParent implements get_parent_directory: name is "." followed by
// zero or more characters naming a sibling of the declaring document.
func expandParent(name, parent string) string {
	switch {
	case parent == "":
		return name[1:]
	case len(name) == 1:
		return parent
	default:
		return parent + name
	}
}

// expandGrandparent implements get_grandparent_directory: name is ".."
// followed by zero or more characters naming a cousin one level further up.
func expandGrandparent(name, parent, grandparent string) string {
	switch {
	case len(name) == 2:
		return grandparent
	case parent == "" || grandparent == "":
		return name[2:]
	default:
		return grandparent + name[1:]
	}
}

func stringList(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, notAList()
	}
	out := make([]string, len(items))
	for i, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, notAList()
		}
		out[i] = s
	}
	return out, nil
}

type decodeError string

func (e decodeError) Error() string { return string(e) }

func notAList() error {
	return decodeError("expected a YAML sequence of strings")
}

func parametersNotAMapping(name string) error {
	return decodeError("parameters of " + name + " must be a mapping")
}

func exportsNotAMapping(name string) error {
	return decodeError("exports of " + name + " must be a mapping")
}
