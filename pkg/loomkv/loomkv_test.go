package loomkv

import (
	"context"
	"testing"

	"github.com/loomkv/loomkv/internal/workspace"
)

func TestNewRejectsNilContext(t *testing.T) {
	if _, err := New(nil, Options{ID: "ws1"}); err == nil {
		t.Fatal("expected error for nil context")
	}
}

func TestNewRejectsEmptyID(t *testing.T) {
	if _, err := New(context.Background(), Options{}); err == nil {
		t.Fatal("expected error for empty ID")
	}
}

func TestTableAndKVRoundTrip(t *testing.T) {
	db, err := New(context.Background(), Options{
		ID:     "ws1",
		Epoch:  "1",
		Tables: []workspace.TableSpec{{Name: "posts"}},
		KVs:    []workspace.KVSpec{{Name: "settings"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer db.Shutdown()

	posts := db.Table("posts")
	if posts == nil {
		t.Fatal("expected posts table to be bound")
	}
	if err := posts.Upsert("p1", map[string]any{"title": "hello"}); err != nil {
		t.Fatalf("unexpected upsert error: %v", err)
	}
	row, ok := posts.Find("p1")
	if !ok || row["title"] != "hello" {
		t.Fatalf("expected row to round-trip, got %v, %v", row, ok)
	}
	if err := posts.Delete("p1"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if _, ok := posts.Find("p1"); ok {
		t.Fatal("expected p1 to be gone after delete")
	}

	settings := db.KV("settings")
	if settings == nil {
		t.Fatal("expected settings store to be bound")
	}
	if err := settings.Set("theme", "dark"); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	v, ok := settings.Get("theme")
	if !ok || v != "dark" {
		t.Fatalf("expected theme=dark, got %v, %v", v, ok)
	}
}

func TestTableAndKVReturnNilForUndeclaredNames(t *testing.T) {
	db, err := New(context.Background(), Options{ID: "ws1", Epoch: "1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer db.Shutdown()

	if db.Table("missing") != nil {
		t.Fatal("expected nil for undeclared table")
	}
	if db.KV("missing") != nil {
		t.Fatal("expected nil for undeclared KV store")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	db, err := New(context.Background(), Options{ID: "ws1", Epoch: "1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := db.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := db.Shutdown(); err != nil {
		t.Fatalf("unexpected error on second shutdown: %v", err)
	}
}
