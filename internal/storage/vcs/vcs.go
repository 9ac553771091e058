// Package vcs implements a storage.Backend backed by two git repositories:
// a nodes repository (read at a single fixed ref) and a classes repository
// whose branches are exposed as environments (§6's "version-controlled-
// repository walker that enumerates branches of a classes repository as
// environments").
//
// Grounded on the reference implementation's reclass/storage/git_fs/__init__.py
// (ExternalNodeStorage: one repo per tree, get_class taking a branch,
// list_files_in_branch's recursive tree walk). The original shells out to
// libgit2 via pygit2; nothing in this module's example pack carries a git
// client library (pure-Go or cgo), so this port drives the "git" binary
// through os/exec instead — the same boundary the reference implementation
// draws, just on the other side of a process rather than a C binding.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path"
	"strings"

	"github.com/reclass-go/reclass/internal/entity"
	rerrors "github.com/reclass-go/reclass/internal/errors"
	"github.com/reclass-go/reclass/internal/settings"
	"github.com/reclass-go/reclass/internal/yamldata"
)

const name = "git_fs"

// DefaultNodesRef is the ref the nodes repository is read at when no
// override is supplied, mirroring the reference implementation's
// hard-coded "master".
const DefaultNodesRef = "master"

// Backend reads nodes from one repository at a single ref, and classes
// from another repository where every branch is a distinct environment.
type Backend struct {
	nodesRepo, classesRepo string
	nodesRef               string
	settings               settings.Settings

	nodes   map[string]string            // node name -> repo-relative path
	classes map[string]map[string]string // environment (branch) -> class name -> path
}

// New validates the two repository paths and indexes every YAML file
// reachable from nodesRef in nodesRepo, and from every branch of
// classesRepo. nodesRef defaults to DefaultNodesRef when empty.
func New(ctx context.Context, nodesRepo, classesRepo, nodesRef string, st settings.Settings) (*Backend, error) {
	if nodesRepo == classesRepo {
		return nil, rerrors.NewDuplicateURIError(nodesRepo, classesRepo)
	}
	if nodesRef == "" {
		nodesRef = DefaultNodesRef
	}

	nodeFiles, err := listYAMLFiles(ctx, nodesRepo, nodesRef)
	if err != nil {
		return nil, err
	}
	nodes, err := indexByName(nodeFiles, name, st.ComposeNodeName)
	if err != nil {
		return nil, err
	}

	branches, err := listBranches(ctx, classesRepo)
	if err != nil {
		return nil, err
	}
	classes := make(map[string]map[string]string, len(branches))
	for _, branch := range branches {
		files, err := listYAMLFiles(ctx, classesRepo, branch)
		if err != nil {
			return nil, err
		}
		idx, err := indexByName(files, name, true)
		if err != nil {
			return nil, err
		}
		classes[branch] = idx
	}

	return &Backend{
		nodesRepo:   nodesRepo,
		classesRepo: classesRepo,
		nodesRef:    nodesRef,
		settings:    st,
		nodes:       nodes,
		classes:     classes,
	}, nil
}

// indexByName groups repo-relative file paths by their composed inventory
// name, erroring on collisions.
func indexByName(files []string, storageName string, compose bool) (map[string]string, error) {
	out := make(map[string]string, len(files))
	for _, f := range files {
		if !strings.HasSuffix(f, ".yml") && !strings.HasSuffix(f, ".yaml") {
			continue
		}
		rel := strings.TrimSuffix(f, path.Ext(f))
		composed := rel
		if compose {
			composed = strings.ReplaceAll(rel, "/", ".")
		} else {
			parts := strings.Split(rel, "/")
			composed = parts[len(parts)-1]
		}
		if prev, ok := out[composed]; ok {
			return nil, rerrors.NewDuplicateNodeNameError(storageName, composed, prev, f)
		}
		out[composed] = f
	}
	return out, nil
}

// EnumerateNodes returns every node name indexed at the nodes ref.
func (b *Backend) EnumerateNodes(ctx context.Context) ([]string, error) {
	out := make([]string, 0, len(b.nodes))
	for n := range b.nodes {
		out = append(out, n)
	}
	return out, nil
}

// GetNode decodes the node document named name from the nodes repository.
func (b *Backend) GetNode(ctx context.Context, nodeName string) (*entity.Entity, error) {
	relpath, ok := b.nodes[nodeName]
	if !ok {
		return nil, rerrors.NewNodeNotFound(name, nodeName, b.nodesRepo)
	}
	data, err := showFile(ctx, b.nodesRepo, b.nodesRef, relpath)
	if err != nil {
		return nil, err
	}
	uri := fmt.Sprintf("git_fs://%s:%s/%s", b.nodesRepo, b.nodesRef, relpath)
	return b.build(nodeName, uri, data)
}

// GetClass decodes the class document named classname from the branch of
// classesRepo matching environment.
func (b *Backend) GetClass(ctx context.Context, classname, environment string) (*entity.Entity, error) {
	branch := environment
	if branch == "" {
		branch = b.settings.DefaultEnvironment
	}
	idx, ok := b.classes[branch]
	if !ok {
		return nil, rerrors.NewClassNotFound(name, classname, b.classesRepo)
	}
	relpath, ok := idx[classname]
	if !ok {
		return nil, rerrors.NewClassNotFound(name, classname, b.classesRepo)
	}
	data, err := showFile(ctx, b.classesRepo, branch, relpath)
	if err != nil {
		return nil, err
	}
	uri := fmt.Sprintf("git_fs://%s:%s/%s", b.classesRepo, branch, relpath)
	return b.build(classname, uri, data)
}

func (b *Backend) build(docName, uri string, data []byte) (*entity.Entity, error) {
	doc, err := yamldata.Decode(data, docName)
	if err != nil {
		return nil, err
	}
	ent := entity.New(b.settings.Delimiter, docName, uri, "")
	if err := ent.MergeRaw(doc, b.settings); err != nil {
		return nil, err
	}
	return ent, nil
}

// listYAMLFiles returns every file path (repo-relative, forward-slashed)
// reachable from ref, mirroring list_files_in_branch's recursive tree walk
// via a single "git ls-tree -r" call.
func listYAMLFiles(ctx context.Context, repo, ref string) ([]string, error) {
	out, err := runGit(ctx, repo, "ls-tree", "-r", "--name-only", ref)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		files = append(files, line)
	}
	return files, nil
}

// listBranches returns every local branch name of repo, used as the set
// of environments a classes repository exposes.
func listBranches(ctx context.Context, repo string) ([]string, error) {
	out, err := runGit(ctx, repo, "for-each-ref", "--format=%(refname:short)", "refs/heads/")
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		branches = append(branches, line)
	}
	return branches, nil
}

// showFile returns the content of path as committed at ref.
func showFile(ctx context.Context, repo, ref, path string) ([]byte, error) {
	out, err := runGitBytes(ctx, repo, "show", ref+":"+path)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func runGit(ctx context.Context, repoDir string, args ...string) (string, error) {
	out, err := runGitBytes(ctx, repoDir, args...)
	return string(out), err
}

func runGitBytes(ctx context.Context, repoDir string, args ...string) ([]byte, error) {
	full := append([]string{"-C", repoDir}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
