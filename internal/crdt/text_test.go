package crdt

import (
	"testing"

	"github.com/loomkv/loomkv/internal/clock"
)

// TestApplyTextDiffInsertsOnlyTheGap mirrors the "Hello World" ->
// "Hello Beautiful World" scenario: the only structural change should be
// one insertion of "Beautiful " between the two untouched tokens.
func TestApplyTextDiffInsertsOnlyTheGap(t *testing.T) {
	clk := clock.New()
	text := NewText(clk, "r1")
	text.InsertAt(nil, 0, "Hello World")

	before := text.seq.VisibleItems()
	beforeHello := before[:6]  // "Hello "
	beforeWorld := before[6:]  // "World"

	ApplyTextDiff(nil, text, "Hello Beautiful World")

	if got := text.String(); got != "Hello Beautiful World" {
		t.Fatalf("got %q", got)
	}

	after := text.seq.VisibleItems()
	// The original "Hello " items must still be present, by identity, at the
	// front — collaborative cursors anchored to them must not have moved.
	for i, it := range beforeHello {
		if after[i] != it {
			t.Fatalf("expected identity-stable prefix at %d", i)
		}
	}
	// And the original "World" items must still be present, by identity,
	// as a contiguous suffix.
	tailStart := len(after) - len(beforeWorld)
	for i, it := range beforeWorld {
		if after[tailStart+i] != it {
			t.Fatalf("expected identity-stable suffix at %d", i)
		}
	}
}

func TestApplyTextDiffNoopWhenEqual(t *testing.T) {
	clk := clock.New()
	text := NewText(clk, "r1")
	text.InsertAt(nil, 0, "unchanged")
	before := text.seq.VisibleItems()

	ApplyTextDiff(nil, text, "unchanged")

	after := text.seq.VisibleItems()
	if len(after) != len(before) {
		t.Fatalf("expected no structural change, lengths differ: %d vs %d", len(before), len(after))
	}
	for i := range before {
		if after[i] != before[i] {
			t.Fatalf("expected identity-stable items when target is unchanged")
		}
	}
}

func TestApplyTextDiffHandlesDeletion(t *testing.T) {
	clk := clock.New()
	text := NewText(clk, "r1")
	text.InsertAt(nil, 0, "Hello Beautiful World")

	ApplyTextDiff(nil, text, "Hello World")

	if got := text.String(); got != "Hello World" {
		t.Fatalf("got %q", got)
	}
}

func TestTextConcurrentEditsConverge(t *testing.T) {
	clkA := clock.New()
	a := NewText(clkA, "replicaA")
	a.InsertAt(nil, 0, "base")

	clkB := clock.New()
	b := NewTextFromSnapshot(clkB, "replicaB", a.Snapshot())

	a.InsertAt(nil, 4, "-A")
	b.InsertAt(nil, 4, "-B")

	aSnap, bSnap := a.Snapshot(), b.Snapshot()
	a.Merge(nil, bSnap)
	b.Merge(nil, aSnap)

	if a.String() != b.String() {
		t.Fatalf("divergent text after merge: %q vs %q", a.String(), b.String())
	}
}
