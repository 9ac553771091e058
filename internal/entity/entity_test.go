package entity

import (
	"reflect"
	"testing"

	"github.com/reclass-go/reclass/internal/settings"
)

func TestMergeRawClassesUniqueAndOrdered(t *testing.T) {
	st := settings.New()
	e := New(":", "n", "", "")
	if err := e.MergeRaw(RawDocument{Classes: []string{"a", "b", "a", "c"}}, st); err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(e.Classes, want) {
		t.Errorf("Classes = %v, want %v", e.Classes, want)
	}
}

func TestMergeClassesPreservesFirstInsertionAcrossAncestry(t *testing.T) {
	st := settings.New()
	acc := New(":", "n", "", "")
	parentA := New(":", "A", "", "")
	if err := parentA.MergeRaw(RawDocument{Classes: []string{"common"}}, st); err != nil {
		t.Fatal(err)
	}
	if err := acc.Merge(parentA, st); err != nil {
		t.Fatal(err)
	}
	parentB := New(":", "B", "", "")
	if err := parentB.MergeRaw(RawDocument{Classes: []string{"common", "b-only"}}, st); err != nil {
		t.Fatal(err)
	}
	if err := acc.Merge(parentB, st); err != nil {
		t.Fatal(err)
	}
	want := []string{"common", "b-only"}
	if !reflect.DeepEqual(acc.Classes, want) {
		t.Errorf("Classes = %v, want %v (first insertion order)", acc.Classes, want)
	}
}

func TestApplicationsUniqueAppendAndRemoval(t *testing.T) {
	st := settings.New()
	e := New(":", "n", "", "")
	if err := e.MergeRaw(RawDocument{Applications: []string{"web", "db"}}, st); err != nil {
		t.Fatal(err)
	}
	if err := e.Merge(&Entity{Applications: []string{"~db", "cache"}}, st); err != nil {
		t.Fatal(err)
	}
	want := []string{"web", "cache"}
	if !reflect.DeepEqual(e.Applications, want) {
		t.Errorf("Applications = %v, want %v", e.Applications, want)
	}
}

func TestMergeOwnBodyWinsOverAncestors(t *testing.T) {
	st := settings.New()
	acc := New(":", "n", "", "")
	class := New(":", "someclass", "", "")
	if err := class.MergeRaw(RawDocument{Parameters: map[string]any{"a": 1}}, st); err != nil {
		t.Fatal(err)
	}
	if err := acc.Merge(class, st); err != nil {
		t.Fatal(err)
	}
	node := New(":", "n", "", "")
	if err := node.MergeRaw(RawDocument{Parameters: map[string]any{"a": 2}}, st); err != nil {
		t.Fatal(err)
	}
	if err := acc.Merge(node, st); err != nil {
		t.Fatal(err)
	}
	if err := acc.Interpolate(nil, ""); err != nil {
		t.Fatal(err)
	}
	if got := acc.Parameters.AsMap()["a"]; got != 2 {
		t.Errorf("a = %v, want 2 (node's own body wins)", got)
	}
}

func TestExportsInterpolateAgainstOwnParametersOnly(t *testing.T) {
	st := settings.New()
	e := New(":", "n", "", "")
	if err := e.MergeRaw(RawDocument{
		Parameters: map[string]any{"role": "web"},
		Exports:    map[string]any{"role": "${role}"},
	}, st); err != nil {
		t.Fatal(err)
	}
	if err := e.Interpolate(nil, ""); err != nil {
		t.Fatal(err)
	}
	if got := e.Exports.AsMap()["role"]; got != "web" {
		t.Errorf("exports.role = %v, want web", got)
	}
}

func TestHasQueryDetection(t *testing.T) {
	st := settings.New()
	e := New(":", "n", "", "")
	if err := e.MergeRaw(RawDocument{
		Exports: map[string]any{"peers": "$[if exports:role == web]"},
	}, st); err != nil {
		t.Fatal(err)
	}
	if !e.HasQuery() {
		t.Error("HasQuery() = false, want true")
	}
}

func TestAsDocumentShape(t *testing.T) {
	st := settings.New()
	e := New(":", "n", "", "base")
	if err := e.MergeRaw(RawDocument{Classes: []string{"a"}, Applications: []string{"web"}}, st); err != nil {
		t.Fatal(err)
	}
	if err := e.Interpolate(nil, ""); err != nil {
		t.Fatal(err)
	}
	doc := e.AsDocument()
	for _, key := range []string{"classes", "applications", "parameters", "exports", "environment"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("AsDocument() missing key %q", key)
		}
	}
}
