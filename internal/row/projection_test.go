package row

import (
	"testing"

	"github.com/loomkv/loomkv/internal/clock"
	"github.com/loomkv/loomkv/internal/crdt"
	"github.com/loomkv/loomkv/internal/types"
)

func TestApplyCellScalarStoresAsIs(t *testing.T) {
	clk := clock.New()
	m := crdt.NewMap(clk, "r1")
	schema := &types.FieldSchema{Name: "count", Type: types.CellInt}
	ApplyCell(nil, clk, "r1", m, "count", 42, schema)

	got, ok := m.Get("count")
	if !ok || got != 42 {
		t.Fatalf("got (%v, %v)", got, ok)
	}
}

func TestApplyCellUnknownFieldPreservedAsScalar(t *testing.T) {
	clk := clock.New()
	m := crdt.NewMap(clk, "r1")
	ApplyCell(nil, clk, "r1", m, "extra", "whatever", nil)

	got, ok := m.Get("extra")
	if !ok || got != "whatever" {
		t.Fatalf("got (%v, %v)", got, ok)
	}
}

func TestApplyCellRichTextCreatesThenDiffs(t *testing.T) {
	clk := clock.New()
	m := crdt.NewMap(clk, "r1")
	schema := &types.FieldSchema{Name: "body", Type: types.CellRichText}

	ApplyCell(nil, clk, "r1", m, "body", "Hello World", schema)
	got, _ := m.Get("body")
	if got != "Hello World" {
		t.Fatalf("got %v", got)
	}

	textBefore, _ := m.TextIfPresent("body")
	itemsBefore := textBefore.String()

	ApplyCell(nil, clk, "r1", m, "body", "Hello Beautiful World", schema)
	got, _ = m.Get("body")
	if got != "Hello Beautiful World" {
		t.Fatalf("got %v", got)
	}
	if itemsBefore != "Hello World" {
		t.Fatalf("sanity check failed")
	}

	// Same container instance must have been reused (diffed, not replaced).
	textAfter, _ := m.TextIfPresent("body")
	if textAfter != textBefore {
		t.Fatal("expected the same collaborative text container to be diffed in place")
	}
}

func TestApplyCellArrayCreatesThenDiffs(t *testing.T) {
	clk := clock.New()
	m := crdt.NewMap(clk, "r1")
	schema := &types.FieldSchema{Name: "tags", Type: types.CellArray}

	ApplyCell(nil, clk, "r1", m, "tags", []any{"typescript", "javascript"}, schema)
	arrBefore, _ := m.ArrayIfPresent("tags")

	ApplyCell(nil, clk, "r1", m, "tags", []any{"typescript", "svelte", "javascript"}, schema)
	got, _ := m.Get("tags")
	want := []any{"typescript", "svelte", "javascript"}
	gotSlice, _ := got.([]any)
	if len(gotSlice) != len(want) {
		t.Fatalf("got %v, want %v", gotSlice, want)
	}
	for i := range want {
		if gotSlice[i] != want[i] {
			t.Fatalf("got %v, want %v", gotSlice, want)
		}
	}

	arrAfter, _ := m.ArrayIfPresent("tags")
	if arrAfter != arrBefore {
		t.Fatal("expected the same collaborative array container to be diffed in place")
	}
}

func TestApplyRowAndReadRowRoundTrip(t *testing.T) {
	clk := clock.New()
	m := crdt.NewMap(clk, "r1")
	schema := &types.TableSchema{
		Name: "posts",
		Fields: map[string]types.FieldSchema{
			"title": {Name: "title", Type: types.CellString},
			"views": {Name: "views", Type: types.CellInt},
		},
	}

	ApplyRow(nil, clk, "r1", m, map[string]any{"title": "hello", "views": 10}, schema)

	row := ReadRow(m)
	if row["title"] != "hello" || row["views"] != 10 {
		t.Fatalf("got %+v", row)
	}
}
