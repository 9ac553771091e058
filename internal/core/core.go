// Package core implements the orchestrator (§4.6): turning one node name,
// or the whole inventory, into a merged and interpolated document by
// composing internal/classmap, internal/resolver, internal/inventory and
// the underlying storage.Backend.
//
// Grounded on the reference implementation's reclass/core.py (Core:
// _node_entity, _nodeinfo, inventory, _get_class_mappings_entity,
// _get_automatic_parameters, _get_input_data_entity, _get_inventory); the
// worker-pool concurrency model is new, grounded on spec §5 rather than
// any single teacher file (the reference implementation runs
// single-threaded).
package core

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/reclass-go/reclass/internal/classmap"
	"github.com/reclass-go/reclass/internal/entity"
	rerrors "github.com/reclass-go/reclass/internal/errors"
	"github.com/reclass-go/reclass/internal/inventory"
	"github.com/reclass-go/reclass/internal/resolver"
	"github.com/reclass-go/reclass/internal/settings"
	"github.com/reclass-go/reclass/internal/storage"
)

// Core ties a storage backend, a set of class-mapping rules, and optional
// input data together under one Settings value.
type Core struct {
	Backend       storage.Backend
	ClassMappings []*classmap.Rule
	InputData     map[string]any
	Settings      settings.Settings

	// Clock is called once per nodeinfo/inventory build for the
	// "__reclass__.timestamp" field; it defaults to time.Now and is
	// injectable so tests can pin a timestamp.
	Clock func() time.Time

	// Concurrency bounds how many node builds run at once (§5's "the Core
	// hands tasks to a worker pool"); it defaults to runtime.NumCPU().
	Concurrency int
}

// New returns a Core ready to serve NodeInfo/Inventory.
func New(backend storage.Backend, classMappings []*classmap.Rule, inputData map[string]any, st settings.Settings) *Core {
	return &Core{
		Backend:       backend,
		ClassMappings: classMappings,
		InputData:     inputData,
		Settings:      st,
		Clock:         time.Now,
		Concurrency:   runtime.NumCPU(),
	}
}

func (c *Core) timestamp() string {
	return c.Clock().Format(time.ANSIC)
}

// classMappingsEntity builds the synthetic Entity whose sole purpose is to
// carry the class list contributed by matching class-mapping rules (§4.6).
func (c *Core) classMappingsEntity(nodeEnt *entity.Entity, nodename string) (*entity.Entity, error) {
	if len(c.ClassMappings) == 0 {
		return entity.New(c.Settings.Delimiter, "empty (class mappings)", "", ""), nil
	}
	matchTarget := nodename
	if c.Settings.ClassMappingsMatchPath {
		matchTarget = nodeEnt.URI
	}
	classes, err := classmap.Resolve(c.ClassMappings, matchTarget)
	if err != nil {
		return nil, err
	}
	ent := entity.New(c.Settings.Delimiter, fmt.Sprintf("class mappings for node %s", nodename), "", "")
	ent.Classes = classes
	return ent, nil
}

// inputDataEntity wraps the process-wide input data (Core.InputData) as a Parameters-only Entity merged ahead of every node's own
// ancestry, mirroring Core._get_input_data_entity.
func (c *Core) inputDataEntity() (*entity.Entity, error) {
	if len(c.InputData) == 0 {
		return entity.New(c.Settings.Delimiter, "empty (input data)", "", ""), nil
	}
	ent := entity.New(c.Settings.Delimiter, "input data", "", "")
	if err := ent.Parameters.MergeRaw(c.InputData, c.Settings, true); err != nil {
		return nil, err
	}
	return ent, nil
}

// automaticParameters builds the synthetic "_reclass_.name.{full,short}"
// (plus "_reclass_.environment", a detail test fixtures in the reference
// implementation's own test suite show but its distilled core.py omits)
// parameter tree merged into every node ahead of its ancestry walk.
func automaticParameters(nodename, environment string) map[string]any {
	short := nodename
	if i := strings.IndexByte(nodename, '.'); i >= 0 {
		short = nodename[:i]
	}
	return map[string]any{
		"_reclass_": map[string]any{
			"name": map[string]any{
				"full":  nodename,
				"short": short,
			},
			"environment": environment,
		},
	}
}

// nodeEntity builds nodename's fully merged (but not yet interpolated)
// Entity: class-mapping classes, input data and automatic parameters form
// a synthetic base that is resolved first, then the node's own declared
// ancestry is resolved on top of it, with the node's own body merged in
// last so it wins (§4.5/§4.6), mirroring Core._node_entity.
func (c *Core) nodeEntity(ctx context.Context, nodename string) (*entity.Entity, error) {
	nodeEnt, err := c.Backend.GetNode(ctx, nodename)
	if err != nil {
		return nil, err
	}
	environment := nodeEnt.Environment
	if environment == "" {
		environment = c.Settings.DefaultEnvironment
	}

	base := entity.New(c.Settings.Delimiter, "base", "", environment)

	cmEnt, err := c.classMappingsEntity(nodeEnt, nodename)
	if err != nil {
		return nil, err
	}
	if err := base.Merge(cmEnt, c.Settings); err != nil {
		return nil, err
	}

	idEnt, err := c.inputDataEntity()
	if err != nil {
		return nil, err
	}
	if err := base.Merge(idEnt, c.Settings); err != nil {
		return nil, err
	}

	if c.Settings.AutomaticParameters {
		if err := base.Parameters.MergeRaw(automaticParameters(nodename, environment), c.Settings, true); err != nil {
			return nil, err
		}
	}

	seen := resolver.Seen{}
	mergeBase, err := resolver.Recurse(ctx, c.Backend, base, seen, nodename, environment, c.Settings)
	if err != nil {
		return nil, annotateNodeError(err, nodename)
	}

	final, err := resolver.Continue(ctx, c.Backend, nodeEnt, mergeBase, seen, nodename, environment, c.Settings)
	if err != nil {
		return nil, annotateNodeError(err, nodename)
	}
	if final.Environment == "" {
		final.Environment = environment
	}
	return final, nil
}

func annotateNodeError(err error, nodename string) error {
	if ie, ok := err.(*rerrors.InterpolationError); ok {
		return ie.WithContext(nodename, "", "")
	}
	return err
}

// NodeInfo builds and interpolates nodename, building the cross-node
// inventory view only if this node's parameters actually contain an
// inventory query (§4.6's nodeinfo).
func (c *Core) NodeInfo(ctx context.Context, nodename string) (map[string]any, error) {
	ent, err := c.nodeEntity(ctx, nodename)
	if err != nil {
		return nil, err
	}

	if ent.HasQuery() {
		inv, err := c.buildInventoryView(ctx)
		if err != nil {
			return nil, err
		}
		if err := ent.Interpolate(inv, ent.Environment); err != nil {
			return nil, annotateNodeError(err, nodename)
		}
	} else if err := ent.Interpolate(nil, ent.Environment); err != nil {
		return nil, annotateNodeError(err, nodename)
	}

	return c.document(nodename, ent), nil
}

func (c *Core) document(nodename string, ent *entity.Entity) map[string]any {
	doc := ent.AsDocument()
	doc["__reclass__"] = map[string]any{
		"node":        ent.Name,
		"name":        nodename,
		"uri":         ent.URI,
		"environment": ent.Environment,
		"timestamp":   c.timestamp(),
	}
	return doc
}

// build is one node's phase-1 result: its merged Entity (interpolated
// already when it carries no inventory query), whether it needs phase 2,
// and any build error.
type build struct {
	name     string
	entity   *entity.Entity
	hasQuery bool
	err      error
}

// phaseOne builds every named node concurrently (§5), fully interpolating
// each one whose parameters contain no inventory query. Query-bearing
// nodes are left un-interpolated for phaseTwo.
func (c *Core) phaseOne(ctx context.Context, names []string) []*build {
	builds := make([]*build, len(names))
	c.parallel(len(names), func(i int) {
		name := names[i]
		b := &build{name: name}
		defer func() { builds[i] = b }()

		ent, err := c.nodeEntity(ctx, name)
		if err != nil {
			b.err = err
			return
		}
		b.entity = ent
		b.hasQuery = ent.HasQuery()
		if !b.hasQuery {
			if err := ent.Interpolate(nil, ent.Environment); err != nil {
				b.err = annotateNodeError(err, name)
			}
		}
	})
	return builds
}

// phaseTwo re-interpolates every query-bearing node against inv (§4.6 pass
// 2), concurrently.
func (c *Core) phaseTwo(builds []*build, inv *inventory.Inventory) {
	c.parallel(len(builds), func(i int) {
		b := builds[i]
		if b.err != nil || !b.hasQuery {
			return
		}
		if err := b.entity.Interpolate(inv, b.entity.Environment); err != nil {
			b.err = annotateNodeError(err, b.name)
		}
	})
}

// parallel runs fn(i) for i in [0,n) across at most c.Concurrency
// goroutines, and waits for all of them to finish.
func (c *Core) parallel(n int, fn func(i int)) {
	concurrency := c.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	if n < concurrency {
		concurrency = n
	}
	if concurrency <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)
	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i)
		}(i)
	}
	wg.Wait()
}

// buildInventoryView runs phase 1 over every enumerated node and returns
// the resulting exports view, skipping nodes that fail to build or that
// themselves require phase 2 (their exports are not part of the view they
// would otherwise need). Used both as NodeInfo's on-demand inventory and
// as Inventory's first pass.
func (c *Core) buildInventoryView(ctx context.Context) (*inventory.Inventory, error) {
	names, err := c.Backend.EnumerateNodes(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	builds := c.phaseOne(ctx, names)
	return inventoryFromBuilds(builds), nil
}

func inventoryFromBuilds(builds []*build) *inventory.Inventory {
	nodes := make(map[string]inventory.Node, len(builds))
	for _, b := range builds {
		if b.err != nil || b.hasQuery {
			continue
		}
		nodes[b.name] = inventory.Node{
			Environment: b.entity.Environment,
			Exports:     b.entity.Exports.AsMap(),
		}
	}
	return inventory.Build(nodes)
}

// Inventory builds every node (§4.6's inventory()): a two-pass build
// across the whole node list, followed by assembly of the nodes/classes/
// applications maps.
func (c *Core) Inventory(ctx context.Context) (map[string]any, error) {
	names, err := c.Backend.EnumerateNodes(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	builds := c.phaseOne(ctx, names)
	inv := inventoryFromBuilds(builds)
	c.phaseTwo(builds, inv)

	failed := map[string]error{}
	for _, b := range builds {
		if b.err != nil {
			failed[b.name] = b.err
		}
	}
	if len(failed) > 0 && !c.Settings.InventoryIgnoreFailedNode {
		errs := make([]error, 0, len(failed))
		for _, n := range names {
			if e, ok := failed[n]; ok {
				errs = append(errs, e)
			}
		}
		if c.Settings.GroupErrors && len(errs) > 1 {
			return nil, rerrors.NewList(errs)
		}
		return nil, errs[0]
	}

	nodes := make(map[string]any, len(builds))
	applications := map[string][]string{}
	classes := map[string][]string{}
	for _, b := range builds {
		if b.err != nil {
			continue
		}
		d := c.document(b.name, b.entity)
		nodes[b.name] = d
		for _, a := range d["applications"].([]string) {
			applications[a] = append(applications[a], b.name)
		}
		for _, cl := range d["classes"].([]string) {
			classes[cl] = append(classes[cl], b.name)
		}
	}

	result := map[string]any{
		"__reclass__":  map[string]any{"timestamp": c.timestamp()},
		"nodes":        nodes,
		"classes":      classes,
		"applications": applications,
	}
	if len(failed) > 0 {
		diag := make(map[string]string, len(failed))
		for n, e := range failed {
			diag[n] = e.Error()
		}
		result["__reclass__"].(map[string]any)["failed_nodes"] = diag
	}
	return result, nil
}
