// Package resolver implements the class-ancestry walk (§4.5): given a
// base Entity, recursively fetch and merge every class it names, each
// class's own ancestry first (post-order), so a node's own and a class's
// own data always wins over anything inherited from further up the tree.
//
// Grounded on the reference implementation's reclass/core.py
// (Core._recurse_entity), adapted from its recursive-merge shape; the
// "seen" de-duplication set is shared across the whole walk, mirroring the
// teacher's pkg/yang/modules.go import-merge recursion with a shared seen
// map to avoid revisiting (and re-erroring on) a class reachable through
// more than one path in the ancestry DAG.
package resolver

import (
	"context"
	"regexp"

	"github.com/reclass-go/reclass/internal/entity"
	rerrors "github.com/reclass-go/reclass/internal/errors"
	"github.com/reclass-go/reclass/internal/settings"
	"github.com/reclass-go/reclass/internal/storage"
)

// Seen tracks which class names have already been fetched and folded into
// the current node's ancestry walk, so a class reachable via two different
// parents is merged (and fetched) only once.
type Seen map[string]bool

// Recurse walks ent's class list depth-first, fetching each class Entity
// from backend under environment, folding its own ancestry in first and
// then ent itself, so ent's own body is the last (and therefore winning)
// contributor at every level. nodename is carried along only to annotate
// a ClassNotFound error with the node whose build surfaced it.
func Recurse(ctx context.Context, backend storage.Backend, ent *entity.Entity, seen Seen, nodename, environment string, st settings.Settings) (*entity.Entity, error) {
	mergeBase := entity.New(st.Delimiter, "empty (@"+nodename+")", "", environment)
	return Continue(ctx, backend, ent, mergeBase, seen, nodename, environment, st)
}

// Continue resumes an ancestry walk with an existing accumulator: used by
// internal/core to walk a node's own declared classes on top of whatever
// its synthetic class-mappings/input-data/automatic-parameters base
// already accumulated, sharing the same "seen" set so a class already
// folded in by the synthetic base isn't fetched or merged twice.
func Continue(ctx context.Context, backend storage.Backend, ent *entity.Entity, mergeBase *entity.Entity, seen Seen, nodename, environment string, st settings.Settings) (*entity.Entity, error) {
	for _, klass := range ent.Classes {
		if seen[klass] {
			continue
		}

		classEntity, err := backend.GetClass(ctx, klass, environment)
		if err != nil {
			if cnf, ok := err.(*rerrors.ClassNotFound); ok {
				cnf = cnf.WithNodename(nodename)
				if ignoreClassNotFound(st, klass) {
					seen[klass] = true
					continue
				}
				return nil, cnf
			}
			return nil, err
		}

		descentBase := entity.New(st.Delimiter, "empty (@"+nodename+")", "", environment)
		descent, err := Continue(ctx, backend, classEntity, descentBase, seen, nodename, environment, st)
		if err != nil {
			return nil, err
		}
		if err := mergeBase.Merge(descent, st); err != nil {
			return nil, err
		}
		seen[klass] = true
	}

	if err := mergeBase.Merge(ent, st); err != nil {
		return nil, err
	}
	return mergeBase, nil
}

// ignoreClassNotFound reports whether a missing klass should be silently
// skipped rather than aborting the build (§4.5's class-not-found rule):
// only when IgnoreClassNotFound is set, and either no regexp allowlist is
// configured (suppress unconditionally) or klass matches one of the
// configured regexps.
func ignoreClassNotFound(st settings.Settings, klass string) bool {
	if !st.IgnoreClassNotFound {
		return false
	}
	if len(st.IgnoreClassNotFoundRegexps) == 0 {
		return true
	}
	for _, pattern := range st.IgnoreClassNotFoundRegexps {
		if matched, err := regexp.MatchString(pattern, klass); err == nil && matched {
			return true
		}
	}
	return false
}
