package resolver

import (
	"testing"

	"github.com/loomkv/loomkv/internal/types"
)

func TestWinsLWWHigherTimestampWins(t *testing.T) {
	current := types.Entry{Ts: 100, By: "a"}
	higher := types.Entry{Ts: 200, By: "b"}
	lower := types.Entry{Ts: 50, By: "c"}

	if !WinsLWW(higher, current) {
		t.Error("expected higher timestamp to win")
	}
	if WinsLWW(lower, current) {
		t.Error("expected lower timestamp to lose")
	}
}

func TestWinsLWWEqualTimestampFavorsGreaterReplica(t *testing.T) {
	current := types.Entry{Ts: 100, By: "replicaA"}
	candidate := types.Entry{Ts: 100, By: "replicaZ"}

	if !WinsLWW(candidate, current) {
		t.Error("expected equal-timestamp ties to favor the lexicographically greater replica")
	}
	if WinsLWW(current, candidate) {
		t.Error("expected the lexicographically lesser replica to lose regardless of call order")
	}
}

func TestMaxReturnsHigherTimestamp(t *testing.T) {
	a := types.Entry{Ts: 100, Val: "a"}
	b := types.Entry{Ts: 200, Val: "b"}
	if got := Max(a, b); got.Val != "b" {
		t.Errorf("expected b to win, got %v", got.Val)
	}
	if got := Max(b, a); got.Val != "b" {
		t.Errorf("expected b to win, got %v", got.Val)
	}
}
