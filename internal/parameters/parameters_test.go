package parameters

import (
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/reclass-go/reclass/internal/path"
	"github.com/reclass-go/reclass/internal/settings"
)

func TestMergeScalarReplace(t *testing.T) {
	st := settings.New()
	p := New(":")
	if err := p.MergeRaw(map[string]any{"a": 1}, st, true); err != nil {
		t.Fatal(err)
	}
	if err := p.MergeRaw(map[string]any{"a": 2}, st, false); err != nil {
		t.Fatal(err)
	}
	if err := p.Interpolate(nil, ""); err != nil {
		t.Fatal(err)
	}
	if got := p.AsMap()["a"]; got != 2 {
		t.Errorf("a = %v, want 2", got)
	}
}

func TestMergeMapDeep(t *testing.T) {
	st := settings.New()
	p := New(":")
	if err := p.MergeRaw(map[string]any{"a": map[string]any{"x": 1, "y": 2}}, st, true); err != nil {
		t.Fatal(err)
	}
	if err := p.MergeRaw(map[string]any{"a": map[string]any{"y": 20, "z": 3}}, st, false); err != nil {
		t.Fatal(err)
	}
	if err := p.Interpolate(nil, ""); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"x": 1, "y": 20, "z": 3}
	if got := p.AsMap()["a"]; !cmp.Equal(got, want) {
		t.Errorf("a mismatch (-got +want):\n%s", cmp.Diff(got, want))
	}
}

func TestMergeListExtend(t *testing.T) {
	st := settings.New()
	p := New(":")
	if err := p.MergeRaw(map[string]any{"a": []any{1, 2}}, st, true); err != nil {
		t.Fatal(err)
	}
	if err := p.MergeRaw(map[string]any{"a": []any{3}}, st, false); err != nil {
		t.Fatal(err)
	}
	if err := p.Interpolate(nil, ""); err != nil {
		t.Fatal(err)
	}
	want := []any{1, 2, 3}
	if got := p.AsMap()["a"]; !reflect.DeepEqual(got, want) {
		t.Errorf("a = %#v, want %#v", got, want)
	}
}

func TestMergeScalarOverDictRequiresFlag(t *testing.T) {
	st := settings.New()
	p := New(":")
	if err := p.MergeRaw(map[string]any{"a": map[string]any{"x": 1}}, st, true); err != nil {
		t.Fatal(err)
	}
	if err := p.MergeRaw(map[string]any{"a": "scalar"}, st, false); err == nil {
		t.Error("scalar over mapping should fail without allow_scalar_over_dict")
	}
	st2 := settings.New()
	st2.AllowScalarOverDict = true
	p2 := New(":")
	if err := p2.MergeRaw(map[string]any{"a": map[string]any{"x": 1}}, st2, true); err != nil {
		t.Fatal(err)
	}
	if err := p2.MergeRaw(map[string]any{"a": "scalar"}, st2, false); err != nil {
		t.Fatal(err)
	}
	if err := p2.Interpolate(nil, ""); err != nil {
		t.Fatal(err)
	}
	if got := p2.AsMap()["a"]; got != "scalar" {
		t.Errorf("a = %v, want scalar", got)
	}
}

func TestOverridePrefixReplacesWithoutMerge(t *testing.T) {
	st := settings.New()
	p := New(":")
	if err := p.MergeRaw(map[string]any{"a": map[string]any{"x": 1, "y": 2}}, st, true); err != nil {
		t.Fatal(err)
	}
	if err := p.MergeRaw(map[string]any{"~a": map[string]any{"z": 9}}, st, false); err != nil {
		t.Fatal(err)
	}
	if err := p.Interpolate(nil, ""); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"z": 9}
	if got := p.AsMap()["a"]; !reflect.DeepEqual(got, want) {
		t.Errorf("a = %#v, want %#v", got, want)
	}
}

func TestInitmergeSuppressesOverridePrefix(t *testing.T) {
	st := settings.New()
	p := New(":")
	if err := p.MergeRaw(map[string]any{"~a": 1}, st, true); err != nil {
		t.Fatal(err)
	}
	if err := p.Interpolate(nil, ""); err != nil {
		t.Fatal(err)
	}
	if _, ok := p.AsMap()["~a"]; !ok {
		t.Error("initmerge should keep ~a as a literal key")
	}
}

func TestConstantPrefixBlocksFurtherMerge(t *testing.T) {
	st := settings.New()
	st.StrictConstantParams = true
	p := New(":")
	if err := p.MergeRaw(map[string]any{"a": 1}, st, true); err != nil {
		t.Fatal(err)
	}
	if err := p.MergeRaw(map[string]any{"=a": 2}, st, false); err != nil {
		t.Fatal(err)
	}
	if err := p.MergeRaw(map[string]any{"a": 3}, st, false); err == nil {
		t.Error("merging into a constant parameter should fail under StrictConstantParams")
	}
}

func TestInterpolateSimpleReference(t *testing.T) {
	st := settings.New()
	p := New(":")
	if err := p.MergeRaw(map[string]any{
		"base": "hello",
		"full": "${base}-world",
	}, st, true); err != nil {
		t.Fatal(err)
	}
	if err := p.Interpolate(nil, ""); err != nil {
		t.Fatal(err)
	}
	if got := p.AsMap()["full"]; got != "hello-world" {
		t.Errorf("full = %v, want %q", got, "hello-world")
	}
}

func TestInterpolatePreservesNativeType(t *testing.T) {
	st := settings.New()
	p := New(":")
	if err := p.MergeRaw(map[string]any{
		"list": []any{1, 2, 3},
		"ref":  "${list}",
	}, st, true); err != nil {
		t.Fatal(err)
	}
	if err := p.Interpolate(nil, ""); err != nil {
		t.Fatal(err)
	}
	got, ok := p.AsMap()["ref"].([]any)
	if !ok || len(got) != 3 {
		t.Fatalf("ref = %#v, want native []any{1,2,3}", p.AsMap()["ref"])
	}
}

func TestInterpolateNestedReference(t *testing.T) {
	st := settings.New()
	p := New(":")
	if err := p.MergeRaw(map[string]any{
		"a":     "b",
		"b":     "value-of-b",
		"outer": "${${a}}",
	}, st, true); err != nil {
		t.Fatal(err)
	}
	if err := p.Interpolate(nil, ""); err != nil {
		t.Fatal(err)
	}
	if got := p.AsMap()["outer"]; got != "value-of-b" {
		t.Errorf("outer = %v, want %q", got, "value-of-b")
	}
}

func TestInterpolateCycleFails(t *testing.T) {
	st := settings.New()
	p := New(":")
	if err := p.MergeRaw(map[string]any{
		"a": "${b}",
		"b": "${a}",
	}, st, true); err != nil {
		t.Fatal(err)
	}
	if err := p.Interpolate(nil, ""); err == nil {
		t.Error("a cycle between references should fail to interpolate")
	}
}

func TestInterpolateMissingReferenceFails(t *testing.T) {
	st := settings.New()
	p := New(":")
	if err := p.MergeRaw(map[string]any{"a": "${missing}"}, st, true); err != nil {
		t.Fatal(err)
	}
	if err := p.Interpolate(nil, ""); err == nil {
		t.Error("a reference to a missing path should fail to interpolate")
	}
}

func TestOverwrittenMissingReferenceFailsWithoutFlag(t *testing.T) {
	st := settings.New()
	p := New(":")
	if err := p.MergeRaw(map[string]any{"x": "${missing}"}, st, true); err != nil {
		t.Fatal(err)
	}
	if err := p.MergeRaw(map[string]any{"x": "final"}, st, false); err != nil {
		t.Fatal(err)
	}
	if err := p.Interpolate(nil, ""); err == nil {
		t.Error("without IgnoreOverwrittenMissingReferences a missing reference in an overwritten layer should still fail")
	}
}

func TestIgnoreOverwrittenMissingReferenceDowngradesToNull(t *testing.T) {
	st := settings.New()
	st.IgnoreOverwrittenMissingReferences = true
	p := New(":")
	if err := p.MergeRaw(map[string]any{"x": "${missing}"}, st, true); err != nil {
		t.Fatal(err)
	}
	if err := p.MergeRaw(map[string]any{"x": "final"}, st, false); err != nil {
		t.Fatal(err)
	}
	if err := p.Interpolate(nil, ""); err != nil {
		t.Fatal(err)
	}
	m := p.AsMap()
	if m["x"] != "final" {
		t.Errorf("x = %#v, want %q", m["x"], "final")
	}
}

func TestMergeDeferredReferenceThenDictOverlay(t *testing.T) {
	st := settings.New()
	p := New(":")
	if err := p.MergeRaw(map[string]any{
		"alpha": map[string]any{"one": map[string]any{"a": 1, "b": 2}},
	}, st, true); err != nil {
		t.Fatal(err)
	}
	if err := p.MergeRaw(map[string]any{"beta": "${alpha}"}, st, false); err != nil {
		t.Fatal(err)
	}
	if err := p.MergeRaw(map[string]any{
		"alpha": map[string]any{"one": map[string]any{"c": 3}},
		"beta":  map[string]any{"one": map[string]any{"a": 99}},
	}, st, false); err != nil {
		t.Fatal(err)
	}
	if err := p.Interpolate(nil, ""); err != nil {
		t.Fatal(err)
	}
	m := p.AsMap()
	alpha := m["alpha"].(map[string]any)["one"].(map[string]any)
	if want := map[string]any{"a": 1, "b": 2, "c": 3}; !cmp.Equal(alpha, want) {
		t.Errorf("alpha.one mismatch (-got +want):\n%s", cmp.Diff(alpha, want))
	}
	beta := m["beta"].(map[string]any)["one"].(map[string]any)
	if want := map[string]any{"a": 99, "b": 2, "c": 3}; !cmp.Equal(beta, want) {
		t.Errorf("beta.one mismatch (-got +want):\n%s", cmp.Diff(beta, want))
	}
}

func TestMergeDictThenDeferredReferenceOverlay(t *testing.T) {
	st := settings.New()
	p := New(":")
	if err := p.MergeRaw(map[string]any{
		"alpha": map[string]any{"one": map[string]any{"a": 1, "b": 2}},
		"beta":  map[string]any{"one": map[string]any{"a": 99}},
	}, st, true); err != nil {
		t.Fatal(err)
	}
	if err := p.MergeRaw(map[string]any{"beta": "${alpha}"}, st, false); err != nil {
		t.Fatal(err)
	}
	if err := p.Interpolate(nil, ""); err != nil {
		t.Fatal(err)
	}
	m := p.AsMap()
	beta := m["beta"].(map[string]any)["one"].(map[string]any)
	if beta["a"] != 1 || beta["b"] != 2 {
		t.Errorf("beta.one = %#v", beta)
	}
}

func TestInterpolateFromContext(t *testing.T) {
	st := settings.New()
	params := New(":")
	if err := params.MergeRaw(map[string]any{"role": "web", "port": 80}, st, true); err != nil {
		t.Fatal(err)
	}
	if err := params.Interpolate(nil, ""); err != nil {
		t.Fatal(err)
	}

	exports := New(":")
	if err := exports.MergeRaw(map[string]any{"role": "${role}", "endpoint": "${role}:${port}"}, st, true); err != nil {
		t.Fatal(err)
	}
	if err := exports.InterpolateFromContext(params, nil, ""); err != nil {
		t.Fatal(err)
	}
	if got := exports.AsMap()["role"]; got != "web" {
		t.Errorf("role = %v, want web", got)
	}
	if got := exports.AsMap()["endpoint"]; got != "web:80" {
		t.Errorf("endpoint = %v, want web:80", got)
	}
}

type fakeInventory struct {
	env     map[string]string
	exports map[string]map[string]any
}

func (f fakeInventory) AllNodes() []string {
	var out []string
	for n := range f.env {
		out = append(out, n)
	}
	return out
}
func (f fakeInventory) NodeEnv(n string) string { return f.env[n] }
func (f fakeInventory) Export(n string, p path.Path) (any, bool) {
	v, ok := f.exports[n][p.String()]
	return v, ok
}

func TestInterpolateQuery(t *testing.T) {
	st := settings.New()
	p := New(":")
	if err := p.MergeRaw(map[string]any{
		"roles": "$[if exports:role == web]",
	}, st, true); err != nil {
		t.Fatal(err)
	}
	inv := fakeInventory{
		env:     map[string]string{"web01": "base", "db01": "base"},
		exports: map[string]map[string]any{"web01": {"role": "web"}, "db01": {"role": "db"}},
	}
	if err := p.Interpolate(inv, "base"); err != nil {
		t.Fatal(err)
	}
	got, ok := p.AsMap()["roles"].([]string)
	if !ok || len(got) != 1 || got[0] != "web01" {
		t.Errorf("roles = %#v, want [web01]", p.AsMap()["roles"])
	}
}

func TestInventoryIgnoreFailedRenderDefaultsQueryIgnoreErrors(t *testing.T) {
	st := settings.New()
	st.InventoryIgnoreFailedRender = true
	p := New(":")
	if err := p.MergeRaw(map[string]any{
		"matches": "$[if self:missing == 1]",
	}, st, true); err != nil {
		t.Fatal(err)
	}
	inv := fakeInventory{env: map[string]string{"web01": "base"}, exports: map[string]map[string]any{}}
	if err := p.Interpolate(inv, "base"); err != nil {
		t.Fatal(err)
	}
	got, ok := p.AsMap()["matches"].([]string)
	if !ok || len(got) != 0 {
		t.Errorf("matches = %#v, want empty list", p.AsMap()["matches"])
	}
}

func TestWithoutInventoryIgnoreFailedRenderMissingSelfFails(t *testing.T) {
	st := settings.New()
	p := New(":")
	if err := p.MergeRaw(map[string]any{
		"matches": "$[if self:missing == 1]",
	}, st, true); err != nil {
		t.Fatal(err)
	}
	inv := fakeInventory{env: map[string]string{"web01": "base"}, exports: map[string]map[string]any{}}
	if err := p.Interpolate(inv, "base"); err == nil {
		t.Error("a missing self: operand should fail without InventoryIgnoreFailedRender")
	}
}

func TestHasQueryDetection(t *testing.T) {
	st := settings.New()
	p := New(":")
	if err := p.MergeRaw(map[string]any{
		"plain": "x",
		"q":     "$[exports:role]",
	}, st, true); err != nil {
		t.Fatal(err)
	}
	if !p.HasQuery() {
		t.Error("HasQuery() = false, want true")
	}
}
