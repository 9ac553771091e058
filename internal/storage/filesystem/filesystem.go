// Package filesystem implements the plain-directory storage.Backend (§6):
// two separate trees, one for nodes and one for classes, each walked once
// at construction time into a name → path index. Node and class documents
// are plain YAML files (".yml"/".yaml") decoded via internal/yamldata.
//
// Grounded on the reference implementation's reclass/storage/yaml_fs/__init__.py
// (path_mangler, ExternalNodeStorage._enumerate_inventory/get_node/get_class).
package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/reclass-go/reclass/internal/entity"
	rerrors "github.com/reclass-go/reclass/internal/errors"
	"github.com/reclass-go/reclass/internal/settings"
	"github.com/reclass-go/reclass/internal/yamldata"
)

const name = "yaml_fs"

var extensions = []string{".yml", ".yaml"}

// entry is one discovered on-disk document: its absolute path.
type entry struct {
	path string
}

// Backend is a storage.Backend backed by two directory trees. Both trees
// are enumerated once, at New, so repeated EnumerateNodes/GetNode/GetClass
// calls never touch the filesystem beyond reading the one matched file;
// this mirrors the reference implementation's eager __init__-time walk and
// makes every method here safe for concurrent use (§5) — the shared index
// maps are built before any goroutine can observe them and never mutated
// afterward.
type Backend struct {
	nodesURI, classesURI string
	settings             settings.Settings

	nodes   map[string]entry
	classes map[string]entry
}

// New walks nodesURI and classesURI and returns a Backend indexing every
// YAML document found under each. The two URIs must be distinct and
// neither may be a path-prefix ancestor of the other.
func New(nodesURI, classesURI string, st settings.Settings) (*Backend, error) {
	absNodes, err := filepath.Abs(nodesURI)
	if err != nil {
		return nil, err
	}
	absClasses, err := filepath.Abs(classesURI)
	if err != nil {
		return nil, err
	}
	if absNodes == absClasses {
		return nil, rerrors.NewDuplicateURIError(absNodes, absClasses)
	}
	if pathOverlaps(absNodes, absClasses) {
		return nil, rerrors.NewURIOverlapError(absNodes, absClasses)
	}

	nodes, err := enumerate(absNodes, st.ComposeNodeName)
	if err != nil {
		return nil, err
	}
	classes, err := enumerate(absClasses, true)
	if err != nil {
		return nil, err
	}

	return &Backend{
		nodesURI:   absNodes,
		classesURI: absClasses,
		settings:   st,
		nodes:      nodes,
		classes:    classes,
	}, nil
}

// pathOverlaps reports whether a is an ancestor of b or vice versa.
func pathOverlaps(a, b string) bool {
	rel, err := filepath.Rel(a, b)
	if err == nil && !strings.HasPrefix(rel, "..") {
		return true
	}
	rel, err = filepath.Rel(b, a)
	return err == nil && !strings.HasPrefix(rel, "..")
}

// enumerate walks basedir for YAML documents, composing each one's
// inventory name from its path relative to basedir. When compose is
// false, only the bare file stem is used (a flat namespace) and a
// document nested in a subdirectory is addressed by that stem alone —
// matching the distinction the settings package documents
// for ComposeNodeName. Classes are always composed, since the class
// hierarchy's addressing ("." / ".." relative references, §6) depends on
// a class's storage path.
func enumerate(basedir string, compose bool) (map[string]entry, error) {
	out := make(map[string]entry)
	info, err := os.Stat(basedir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", basedir)
	}

	err = filepath.Walk(basedir, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		ext := filepath.Ext(p)
		if !hasExtension(ext) {
			return nil
		}
		rel, err := filepath.Rel(basedir, p)
		if err != nil {
			return err
		}
		composed := composeName(rel, compose)
		if prev, ok := out[composed]; ok {
			return rerrors.NewDuplicateNodeNameError(name, composed, prev.path, p)
		}
		out[composed] = entry{path: p}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func hasExtension(ext string) bool {
	for _, e := range extensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

// composeName turns a basedir-relative file path into a dotted inventory
// name: "role/app/web.yml" → "role.app.web". When compose is false, only
// the final path component's stem is used.
func composeName(rel string, compose bool) string {
	rel = filepath.ToSlash(rel)
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	if !compose {
		parts := strings.Split(rel, "/")
		return parts[len(parts)-1]
	}
	return strings.ReplaceAll(rel, "/", ".")
}

// EnumerateNodes returns every indexed node name, sorted for reproducible
// inventory iteration order (§4.6).
func (b *Backend) EnumerateNodes(ctx context.Context) ([]string, error) {
	out := make([]string, 0, len(b.nodes))
	for n := range b.nodes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// GetNode decodes the node document indexed under name.
func (b *Backend) GetNode(ctx context.Context, nodeName string) (*entity.Entity, error) {
	e, ok := b.nodes[nodeName]
	if !ok {
		return nil, rerrors.NewNodeNotFound(name, nodeName, b.nodesURI)
	}
	return b.load(e.path, nodeName, b.nodesURI)
}

// GetClass decodes the class document indexed under classname. environment
// is accepted to satisfy storage.Backend but unused: a plain filesystem
// tree has exactly one environment (the version-controlled backend wires
// environment to a branch checkout instead, see internal/storage/vcs).
func (b *Backend) GetClass(ctx context.Context, classname, environment string) (*entity.Entity, error) {
	e, ok := b.classes[classname]
	if !ok {
		return nil, rerrors.NewClassNotFound(name, classname, b.classesURI)
	}
	return b.load(e.path, classname, b.classesURI)
}

func (b *Backend) load(path, docName, uri string) (*entity.Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := yamldata.Decode(data, docName)
	if err != nil {
		return nil, err
	}
	ent := entity.New(b.settings.Delimiter, docName, "yaml_fs://"+path, "")
	if err := ent.MergeRaw(doc, b.settings); err != nil {
		return nil, err
	}
	return ent, nil
}
