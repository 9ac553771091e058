package yamldata

import (
	"reflect"
	"testing"
)

func TestDecodeBasicDocument(t *testing.T) {
	doc, err := Decode([]byte(`
classes:
  - role.web
  - common
applications:
  - nginx
parameters:
  port: 80
exports:
  role: web
environment: staging
`), "nodes.web01")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(doc.Classes, []string{"role.web", "common"}) {
		t.Errorf("classes = %v", doc.Classes)
	}
	if !reflect.DeepEqual(doc.Applications, []string{"nginx"}) {
		t.Errorf("applications = %v", doc.Applications)
	}
	if doc.Parameters["port"] != 80 {
		t.Errorf("parameters[port] = %v", doc.Parameters["port"])
	}
	if doc.Exports["role"] != "web" {
		t.Errorf("exports[role] = %v", doc.Exports["role"])
	}
	if doc.Environment != "staging" {
		t.Errorf("environment = %q", doc.Environment)
	}
}

func TestDecodeEmptyDocument(t *testing.T) {
	doc, err := Decode([]byte(``), "nodes.empty")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Classes != nil || doc.Applications != nil || doc.Parameters != nil || doc.Exports != nil {
		t.Errorf("expected zero-value RawDocument, got %+v", doc)
	}
}

func TestResolveParentClassReference(t *testing.T) {
	doc, err := Decode([]byte(`
classes:
  - .sibling
  - .
  - unrelated.class
`), "role.app.web")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"role.app.sibling", "role.app", "unrelated.class"}
	if !reflect.DeepEqual(doc.Classes, want) {
		t.Errorf("classes = %v, want %v", doc.Classes, want)
	}
}

func TestResolveGrandparentClassReference(t *testing.T) {
	doc, err := Decode([]byte(`
classes:
  - ..cousin
  - ..
`), "role.app.web.frontend")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"role.app.cousin", "role.app"}
	if !reflect.DeepEqual(doc.Classes, want) {
		t.Errorf("classes = %v, want %v", doc.Classes, want)
	}
}

func TestResolveRelativeClassAtTopLevel(t *testing.T) {
	doc, err := Decode([]byte(`
classes:
  - .sibling
`), "web")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(doc.Classes, []string{"sibling"}) {
		t.Errorf("classes = %v", doc.Classes)
	}
}

func TestDecodeRejectsNonMappingParameters(t *testing.T) {
	if _, err := Decode([]byte("parameters:\n  - a\n  - b\n"), "x"); err == nil {
		t.Error("expected an error for non-mapping parameters")
	}
}
