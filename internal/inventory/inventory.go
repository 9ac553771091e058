// Package inventory builds the frozen, cross-node exports view that
// inventory queries (§4.2) are evaluated against: one environment tag and
// one exports mapping per node, snapshotted once per inventory() call and
// never mutated afterward (§4.6's "the inventory of exports is produced
// once per inventory() call and discarded").
//
// Grounded on the reference implementation's reclass/core.py
// (Core._get_inventory).
package inventory

import (
	"sort"

	"github.com/reclass-go/reclass/internal/path"
)

// Node is one node's contribution to the inventory view.
type Node struct {
	Environment string
	Exports     map[string]any
}

// Inventory implements query.Inventory over a fixed set of nodes.
type Inventory struct {
	nodes map[string]Node
	names []string // sorted once at Build, for stable iteration (§4.6)
}

// Build snapshots nodes into an Inventory. The returned value implements
// query.Inventory and is safe for concurrent read-only use by every
// goroutine in the second interpolation pass (§4.6/§5).
func Build(nodes map[string]Node) *Inventory {
	names := make([]string, 0, len(nodes))
	for n := range nodes {
		names = append(names, n)
	}
	sort.Strings(names)
	return &Inventory{nodes: nodes, names: names}
}

// AllNodes returns every node name, sorted.
func (inv *Inventory) AllNodes() []string {
	return append([]string{}, inv.names...)
}

// NodeEnv returns node's environment tag, or "" if node is unknown.
func (inv *Inventory) NodeEnv(node string) string {
	return inv.nodes[node].Environment
}

// Export returns the value at p within node's exports tree.
func (inv *Inventory) Export(node string, p path.Path) (any, bool) {
	n, ok := inv.nodes[node]
	if !ok {
		return nil, false
	}
	return path.Get(n.Exports, p)
}
