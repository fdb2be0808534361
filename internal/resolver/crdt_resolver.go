// Package resolver holds the conflict comparator shared by the LWW KVLog
// ordering and field-level row conflicts: the (ts, by) comparison that
// decides how an LWW winner is chosen, kept in one place rather than
// drifting between call sites.
package resolver

import "github.com/loomkv/loomkv/internal/types"

// WinsLWW reports whether candidate should replace current as the current
// winner under last-write-wins: a higher timestamp always wins; an equal
// timestamp breaks the tie toward whichever side has the lexicographically
// greater replica id. This makes the comparator a pure function of the two
// (ts, by) pairs — independent of which side is merged into which, or the
// order entries happen to be scanned in — so every call site converges on
// the same winner regardless of direction.
func WinsLWW(candidate, current types.Entry) bool {
	if candidate.Ts != current.Ts {
		return candidate.Ts > current.Ts
	}
	return candidate.By > current.By
}

// Max returns whichever of a, b wins under WinsLWW.
func Max(a, b types.Entry) types.Entry {
	if WinsLWW(b, a) {
		return b
	}
	return a
}
