package jsondoc

import (
	"testing"
)

func mustParse(t *testing.T, s string) any {
	t.Helper()
	doc, err := Parse([]byte(s))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestResolve(t *testing.T) {
	doc := mustParse(t, `{
		"data": {"items": [{"id": 1}, {"id": 2}], "pages": [[10, 20], [30]]},
		"results": [1, 2, 3]
	}`)

	tests := []struct {
		name  string
		path  string
		want  any
		found bool
	}{
		{"dot path", "data.items", nil, true},
		{"slash path", "data/items", nil, true},
		{"indexed segment", "data.items[1].id", int64(2), true},
		{"nested index", "data.pages[0][1]", int64(20), true},
		{"bare index", "results/[2]", int64(3), true},
		{"missing property", "data.missing", nil, false},
		{"index out of range", "data.items[5]", nil, false},
		{"index on non-array", "data[0]", nil, false},
		{"property on array", "results.id", nil, false},
		{"case sensitive", "Data.items", nil, false},
		{"malformed index", "data.items[x]", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := Resolve(doc, tt.path)
			if found != tt.found {
				t.Fatalf("Resolve(%q) found=%v, want %v", tt.path, found, tt.found)
			}
			if tt.want != nil && got != tt.want {
				t.Errorf("Resolve(%q) = %#v, want %#v", tt.path, got, tt.want)
			}
		})
	}
}

func TestResolveEmptyPathReturnsRoot(t *testing.T) {
	doc := mustParse(t, `[1, 2]`)

	got, found := Resolve(doc, "  ")
	if !found {
		t.Fatal("Expected empty path to resolve")
	}
	if list, ok := got.([]any); !ok || len(list) != 2 {
		t.Errorf("Expected root array, got %#v", got)
	}
}

func TestExtract(t *testing.T) {
	doc := mustParse(t, `{"ID": "x1", "Owner": {"Name": "Ada", "empty": null}, "list": [1]}`)

	tests := []struct {
		name  string
		path  string
		want  any
		found bool
	}{
		{"exact", "ID", "x1", true},
		{"case-insensitive fallback", "id", "x1", true},
		{"nested case-insensitive", "owner.name", "Ada", true},
		{"explicit null", "Owner.empty", nil, true},
		{"missing final", "Owner.age", nil, false},
		{"through non-object", "list.0", nil, false},
		{"empty path", "", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := Extract(doc, tt.path)
			if found != tt.found {
				t.Fatalf("Extract(%q) found=%v, want %v", tt.path, found, tt.found)
			}
			if got != tt.want {
				t.Errorf("Extract(%q) = %#v, want %#v", tt.path, got, tt.want)
			}
		})
	}
}

func TestExtractPrefersExactMatch(t *testing.T) {
	doc := mustParse(t, `{"name": "lower", "Name": "upper"}`)

	got, _ := Extract(doc, "Name")
	if got != "upper" {
		t.Errorf("Expected exact match 'upper', got %#v", got)
	}
}
