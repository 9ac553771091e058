// Package output renders a nodeinfo/inventory document (§6, "Output
// format") to bytes. Two formats are registered: "tree", a YAML rendering
// with aliases disabled so repeated sub-trees serialize independently, and
// "json".
//
// Grounded on the reference implementation's reclass/output/yaml_outputter.py
// (Outputter.dump, ExplicitDumper.ignore_aliases) for the tree format; the
// teacher's yang.go formatter-registry ("each format registers a function
// called once with the data to render") for the wiring idiom, adapted from
// a map of Entry-tree formatters to a map of document formatters.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

// Format renders doc to w. PrettyPrint selects a 4-space indent over a
// 2-space one for the tree format, and indented over compact output for
// json.
type Format struct {
	Name string
	Help string
	Func func(w io.Writer, doc map[string]any, prettyPrint bool) error
}

var formats = map[string]*Format{}

func register(f *Format) {
	formats[f.Name] = f
}

func init() {
	register(&Format{Name: "tree", Help: "YAML tree, aliases disabled", Func: renderTree})
	register(&Format{Name: "json", Help: "JSON document", Func: renderJSON})
}

// Lookup returns the registered Format named name, or nil if none exists.
func Lookup(name string) *Format {
	return formats[name]
}

// Names returns every registered format name, sorted.
func Names() []string {
	names := make([]string, 0, len(formats))
	for n := range formats {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// renderTree encodes doc as YAML. Aliasing is disabled unconditionally (the
// spec requires repeated sub-trees to serialize independently, a stricter
// default than the reference implementation's "only when --no-refs"), by
// encoding the copy noAlias makes, in which no map or slice is shared.
func renderTree(w io.Writer, doc map[string]any, prettyPrint bool) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	if !prettyPrint {
		enc.SetIndent(2)
	} else {
		enc.SetIndent(4)
	}
	return enc.Encode(noAlias(doc))
}

// noAlias walks v and rebuilds every map/slice as a fresh value, so the
// yaml.v3 encoder (which tracks Go pointer identity to decide when to alias)
// never sees the same pointer twice and so never emits a "&anchor"/"*alias"
// pair for a sub-tree shared by reference in memory.
func noAlias(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = noAlias(val)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = noAlias(val)
		}
		return out
	default:
		return v
	}
}

func renderJSON(w io.Writer, doc map[string]any, prettyPrint bool) error {
	var b []byte
	var err error
	if prettyPrint {
		b, err = json.MarshalIndent(doc, "", "  ")
	} else {
		b, err = json.Marshal(doc)
	}
	if err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// Render is a convenience wrapper returning the rendered bytes directly.
func Render(name string, doc map[string]any, prettyPrint bool) ([]byte, error) {
	f := Lookup(name)
	if f == nil {
		return nil, fmt.Errorf("unknown output format %q", name)
	}
	var buf bytes.Buffer
	if err := f.Func(&buf, doc, prettyPrint); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
