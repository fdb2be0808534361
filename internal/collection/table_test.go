package collection

import (
	"testing"

	"github.com/loomkv/loomkv/internal/crdt"
	"github.com/loomkv/loomkv/internal/types"
)

func newTestTable(doc *crdt.Document) *Table {
	schema := &types.TableSchema{
		Name: "posts",
		Fields: map[string]types.FieldSchema{
			"title": {Name: "title", Type: types.CellString},
			"views": {Name: "views", Type: types.CellInt},
		},
	}
	return NewTable(doc, "posts", schema)
}

func TestTableUpsertAndGet(t *testing.T) {
	doc := crdt.NewDocument("ws-1", "r1")
	tbl := newTestTable(doc)

	tbl.Upsert(tbl, "p1", map[string]any{"title": "hello", "views": 1})
	row, ok := tbl.Get("p1")
	if !ok {
		t.Fatal("expected p1 to be found")
	}
	if row["title"] != "hello" || row["views"] != 1 {
		t.Fatalf("got %+v", row)
	}
}

func TestTableUpsertOverwritesExistingRow(t *testing.T) {
	doc := crdt.NewDocument("ws-1", "r1")
	tbl := newTestTable(doc)

	tbl.Upsert(tbl, "p1", map[string]any{"title": "hello", "views": 1})
	tbl.Upsert(tbl, "p1", map[string]any{"views": 2})

	row, ok := tbl.Get("p1")
	if !ok {
		t.Fatal("expected p1 to still be found")
	}
	if row["title"] != "hello" || row["views"] != 2 {
		t.Fatalf("got %+v", row)
	}
}

func TestTableDeleteRemovesRow(t *testing.T) {
	doc := crdt.NewDocument("ws-1", "r1")
	tbl := newTestTable(doc)

	tbl.Upsert(tbl, "p1", map[string]any{"title": "hello"})
	tbl.Delete(tbl, "p1")

	if _, ok := tbl.Get("p1"); ok {
		t.Fatal("expected p1 to be gone after delete")
	}
	if _, ok := tbl.GetAllValid()["p1"]; ok {
		t.Fatal("expected p1 absent from GetAllValid")
	}
}

func TestTableGetAllValidFiltersInvalidRows(t *testing.T) {
	doc := crdt.NewDocument("ws-1", "r1")
	tbl := newTestTable(doc)

	tbl.Upsert(tbl, "p1", map[string]any{"title": "ok", "views": 1})
	// views should be an int; a string value makes the row invalid.
	tbl.Upsert(tbl, "p2", map[string]any{"title": "bad", "views": "nope"})

	all := tbl.GetAllValid()
	if _, ok := all["p1"]; !ok {
		t.Fatal("expected p1 to be valid")
	}
	if _, ok := all["p2"]; ok {
		t.Fatal("expected p2 to be filtered out as invalid")
	}
}

func TestTableUpsertManyAndDeleteMany(t *testing.T) {
	doc := crdt.NewDocument("ws-1", "r1")
	tbl := newTestTable(doc)

	tbl.UpsertMany(tbl, map[string]map[string]any{
		"p1": {"title": "a"},
		"p2": {"title": "b"},
		"p3": {"title": "c"},
	})
	all := tbl.GetAllValid()
	if len(all) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(all))
	}

	tbl.DeleteMany(tbl, []string{"p1", "p3"})
	all = tbl.GetAllValid()
	if len(all) != 1 {
		t.Fatalf("expected 1 row remaining, got %d", len(all))
	}
	if _, ok := all["p2"]; !ok {
		t.Fatal("expected p2 to remain")
	}
}

// TestTableConcurrentFieldEditsBothSurvive exercises the Table level of
// a cross-field concurrency case: two replicas editing different fields
// of the same row, synced both ways, must both see both edits.
func TestTableConcurrentFieldEditsBothSurvive(t *testing.T) {
	docA := crdt.NewDocument("ws-1", "a")
	docB := crdt.NewDocument("ws-1", "b")
	tblA := newTestTable(docA)
	tblB := newTestTable(docB)

	tblA.Upsert(tblA, "p1", map[string]any{"title": "hello", "views": 1})

	rowMap := "posts/p1"
	snapA := docA.Map(rowMap).Snapshot()
	docB.Transact(tblA, func(txn *crdt.Txn) { docB.Map(rowMap).Merge(txn, snapA) })
	seqA := docA.Sequence("posts:ids")
	docB.Transact(tblA, func(txn *crdt.Txn) { docB.Sequence("posts:ids").Merge(txn, seqA.Snapshot()) })

	// Concurrent edits to different fields of the same row.
	tblA.Upsert(tblA, "p1", map[string]any{"title": "hello world"})
	tblB.Upsert(tblB, "p1", map[string]any{"views": 99})

	snapA2 := docA.Map(rowMap).Snapshot()
	snapB2 := docB.Map(rowMap).Snapshot()
	docA.Transact(tblB, func(txn *crdt.Txn) { docA.Map(rowMap).Merge(txn, snapB2) })
	docB.Transact(tblA, func(txn *crdt.Txn) { docB.Map(rowMap).Merge(txn, snapA2) })

	rowA, _ := tblA.Get("p1")
	rowB, _ := tblB.Get("p1")
	if rowA["title"] != "hello world" || rowA["views"] != 99 {
		t.Fatalf("replica A did not converge: %+v", rowA)
	}
	if rowB["title"] != "hello world" || rowB["views"] != 99 {
		t.Fatalf("replica B did not converge: %+v", rowB)
	}
}

func TestKVStoreSetGetDelete(t *testing.T) {
	doc := crdt.NewDocument("ws-1", "r1")
	schema := &types.FieldSchema{Name: "flag", Type: types.CellBool}
	kv := NewKVStore(doc, "config", schema)

	kv.Set(kv, "flag", true)
	got, ok := kv.Get("flag")
	if !ok || got != true {
		t.Fatalf("got (%v, %v)", got, ok)
	}

	kv.Delete(kv, "flag")
	if _, ok := kv.Get("flag"); ok {
		t.Fatal("expected flag to be gone after delete")
	}
}
