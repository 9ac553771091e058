// Package storage defines the contract an inventory backend must satisfy
// (§6): enumerate node names, and fetch a node or class Entity by name.
// Concrete backends live in internal/storage/filesystem (plain directory
// tree), internal/storage/vcs (git branches as environments), and
// internal/storage/cache (an at-most-once memoizing wrapper around either).
//
// Grounded on the reference implementation's reclass/storage/__init__.py
// (StorageBackend contract) and reclass/storage/base.py (NodeStorageBase/
// ClassStorageBase method names).
package storage

import (
	"context"

	"github.com/reclass-go/reclass/internal/entity"
)

// Backend is implemented by every storage backend. All methods must be
// safe for concurrent use (§5): the core hands out get_class/get_node
// calls from a worker pool with no external synchronization.
type Backend interface {
	// EnumerateNodes lists every node name known to the backend.
	EnumerateNodes(ctx context.Context) ([]string, error)

	// GetNode fetches a node's raw Entity by name.
	GetNode(ctx context.Context, name string) (*entity.Entity, error)

	// GetClass fetches a class's raw Entity by name within environment.
	// classname is an absolute dotted name: a relative prefix ("." or
	// "..") in a document's class list is resolved by internal/yamldata
	// when that document is decoded.
	GetClass(ctx context.Context, classname, environment string) (*entity.Entity, error)
}
