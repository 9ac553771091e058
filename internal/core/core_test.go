package core

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/reclass-go/reclass/internal/classmap"
	"github.com/reclass-go/reclass/internal/entity"
	rerrors "github.com/reclass-go/reclass/internal/errors"
	"github.com/reclass-go/reclass/internal/settings"
)

// memBackend is an in-memory storage.Backend for orchestrator tests.
type memBackend struct {
	nodes   map[string]*entity.Entity
	classes map[string]*entity.Entity
}

func (b *memBackend) EnumerateNodes(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(b.nodes))
	for n := range b.nodes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (b *memBackend) GetNode(ctx context.Context, name string) (*entity.Entity, error) {
	e, ok := b.nodes[name]
	if !ok {
		return nil, rerrors.NewNodeNotFound("mem", name, "mem://nodes")
	}
	return e, nil
}

func (b *memBackend) GetClass(ctx context.Context, classname, environment string) (*entity.Entity, error) {
	e, ok := b.classes[classname]
	if !ok {
		return nil, rerrors.NewClassNotFound("mem", classname, "mem://classes")
	}
	return e, nil
}

func mkEntity(st settings.Settings, name string, classes []string, params map[string]any, exports map[string]any) *entity.Entity {
	e := entity.New(st.Delimiter, name, "mem://"+name, "")
	e.Classes = append([]string{}, classes...)
	if params != nil {
		if err := e.Parameters.MergeRaw(params, st, true); err != nil {
			panic(err)
		}
	}
	if exports != nil {
		if err := e.Exports.MergeRaw(exports, st, true); err != nil {
			panic(err)
		}
	}
	return e
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNodeInfoSimpleReference(t *testing.T) {
	st := settings.New()
	backend := &memBackend{
		nodes: map[string]*entity.Entity{
			"n": mkEntity(st, "n", nil, map[string]any{"a": 1, "b": "${a}"}, nil),
		},
		classes: map[string]*entity.Entity{},
	}
	c := New(backend, nil, nil, st)
	c.Clock = fixedClock(time.Unix(0, 0))

	doc, err := c.NodeInfo(context.Background(), "n")
	if err != nil {
		t.Fatal(err)
	}
	params := doc["parameters"].(map[string]any)
	if params["a"] != 1 || params["b"] != 1 {
		t.Errorf("parameters = %#v", params)
	}
	reclassBlock := doc["__reclass__"].(map[string]any)
	if reclassBlock["name"] != "n" {
		t.Errorf("__reclass__.name = %v", reclassBlock["name"])
	}
}

func TestNodeInfoAutomaticParameters(t *testing.T) {
	st := settings.New()
	backend := &memBackend{
		nodes: map[string]*entity.Entity{
			"web01": mkEntity(st, "web01", nil, nil, nil),
		},
		classes: map[string]*entity.Entity{},
	}
	c := New(backend, nil, nil, st)

	doc, err := c.NodeInfo(context.Background(), "web01")
	if err != nil {
		t.Fatal(err)
	}
	params := doc["parameters"].(map[string]any)
	reclassParam, ok := params["_reclass_"].(map[string]any)
	if !ok {
		t.Fatalf("params = %#v", params)
	}
	nameBlock := reclassParam["name"].(map[string]any)
	if nameBlock["full"] != "web01" || nameBlock["short"] != "web01" {
		t.Errorf("name block = %#v", nameBlock)
	}
}

func TestNodeInfoWalksClassAncestry(t *testing.T) {
	st := settings.New()
	backend := &memBackend{
		nodes: map[string]*entity.Entity{
			"web01": mkEntity(st, "web01", []string{"role.web"}, map[string]any{"own": "node"}, nil),
		},
		classes: map[string]*entity.Entity{
			"common":  mkEntity(st, "common", nil, map[string]any{"level": "common"}, nil),
			"role.web": mkEntity(st, "role.web", []string{"common"}, map[string]any{"level": "web"}, nil),
		},
	}
	c := New(backend, nil, nil, st)

	doc, err := c.NodeInfo(context.Background(), "web01")
	if err != nil {
		t.Fatal(err)
	}
	params := doc["parameters"].(map[string]any)
	if params["level"] != "web" || params["own"] != "node" {
		t.Errorf("parameters = %#v", params)
	}
	// classes accumulates the full ancestry in traversal order, not just the
	// node's own declared classes, mirroring the reference implementation's
	// Classes.merge_unique.
	classes := doc["classes"].([]string)
	if len(classes) != 2 || classes[0] != "common" || classes[1] != "role.web" {
		t.Errorf("classes = %v", classes)
	}
}

func TestNodeInfoClassNotFound(t *testing.T) {
	st := settings.New()
	backend := &memBackend{
		nodes: map[string]*entity.Entity{
			"n": mkEntity(st, "n", []string{"missing"}, nil, nil),
		},
		classes: map[string]*entity.Entity{},
	}
	c := New(backend, nil, nil, st)
	if _, err := c.NodeInfo(context.Background(), "n"); err == nil {
		t.Fatal("expected ClassNotFound")
	}
}

func TestClassMappingsAppendClasses(t *testing.T) {
	st := settings.New()
	rules, err := classmap.Parse([]string{"web*  role.web"})
	if err != nil {
		t.Fatal(err)
	}
	backend := &memBackend{
		nodes: map[string]*entity.Entity{
			"web01": mkEntity(st, "web01", nil, nil, nil),
		},
		classes: map[string]*entity.Entity{
			"role.web": mkEntity(st, "role.web", nil, map[string]any{"via": "mapping"}, nil),
		},
	}
	c := New(backend, rules, nil, st)

	doc, err := c.NodeInfo(context.Background(), "web01")
	if err != nil {
		t.Fatal(err)
	}
	params := doc["parameters"].(map[string]any)
	if params["via"] != "mapping" {
		t.Errorf("parameters = %#v", params)
	}
}

func TestInventoryQueryProjection(t *testing.T) {
	st := settings.New()
	backend := &memBackend{
		nodes: map[string]*entity.Entity{
			"n1": mkEntity(st, "n1", nil, nil, map[string]any{"a": 1, "b": 2}),
			"n2": mkEntity(st, "n2", nil, nil, map[string]any{"a": 3, "b": 4}),
			"n3": mkEntity(st, "n3", nil, map[string]any{
				"exp": "$[ exports:a if exports:b == 4 ]",
			}, nil),
		},
		classes: map[string]*entity.Entity{},
	}
	c := New(backend, nil, nil, st)

	result, err := c.Inventory(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	nodes := result["nodes"].(map[string]any)
	n3 := nodes["n3"].(map[string]any)
	params := n3["parameters"].(map[string]any)
	exp, ok := params["exp"].(map[string]any)
	if !ok {
		t.Fatalf("exp = %#v", params["exp"])
	}
	if exp["n2"] != 3 {
		t.Errorf("exp = %#v, want n2: 3", exp)
	}
}

func TestInventoryGroupErrors(t *testing.T) {
	st := settings.New()
	st.GroupErrors = true
	backend := &memBackend{
		nodes: map[string]*entity.Entity{
			"ok":   mkEntity(st, "ok", nil, nil, nil),
			"bad1": mkEntity(st, "bad1", []string{"missing1"}, nil, nil),
			"bad2": mkEntity(st, "bad2", []string{"missing2"}, nil, nil),
		},
		classes: map[string]*entity.Entity{},
	}
	c := New(backend, nil, nil, st)

	_, err := c.Inventory(context.Background())
	if err == nil {
		t.Fatal("expected an aggregate error")
	}
	if _, ok := err.(*rerrors.List); !ok {
		t.Errorf("err = %T, want *rerrors.List", err)
	}
}

func TestInventoryIgnoreFailedNode(t *testing.T) {
	st := settings.New()
	st.InventoryIgnoreFailedNode = true
	backend := &memBackend{
		nodes: map[string]*entity.Entity{
			"ok":  mkEntity(st, "ok", nil, map[string]any{"k": "v"}, nil),
			"bad": mkEntity(st, "bad", []string{"missing"}, nil, nil),
		},
		classes: map[string]*entity.Entity{},
	}
	c := New(backend, nil, nil, st)

	result, err := c.Inventory(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	nodes := result["nodes"].(map[string]any)
	if _, ok := nodes["ok"]; !ok {
		t.Error("expected ok node to be present")
	}
	if _, ok := nodes["bad"]; ok {
		t.Error("expected bad node to be excluded")
	}
}
