// Package kvlog implements the key→value view over a CRDT ordered sequence:
// duplicate-cleanup, an in-memory index kept reference-identical to the
// live sequence entry, and translation of the sequence's positional
// add/delete events into semantic add/update/delete changes.
package kvlog

import (
	"github.com/loomkv/loomkv/internal/clock"
	"github.com/loomkv/loomkv/internal/resolver"
	"github.com/loomkv/loomkv/internal/types"
)

// Ordering is the strategy that parameterizes Log's two variants
// (positional "rightmost-wins" and timestamp-based "last-write-wins"),
// a single generic wrapper parameterized by an Ordering strategy rather
// than two near-duplicate implementations.
type Ordering interface {
	// BuildEntry constructs the entry a local Set(key, val) appends.
	BuildEntry(key string, val any, clk *clock.Clock, replica string) types.Entry
	// BuildTombstone constructs the entry a local Delete(key) appends,
	// or reports ok=false if this variant has no tombstone concept
	// (positional: delete simply removes the live entry).
	BuildTombstone(key string, clk *clock.Clock, replica string) (entry types.Entry, ok bool)
	// Wins reports whether candidate should replace current as the
	// provisional winner while scanning occurrences of one key in
	// left-to-right sequence order. The positional variant always
	// returns true, so the later (rightmost) occurrence wins; the LWW
	// variant defers to resolver.WinsLWW, which is independent of scan
	// order.
	Wins(candidate, current types.Entry) bool
	// Absorb folds any timestamp carried by e into clk, so a replica
	// that scans or merges in an entry from a peer whose clock ran
	// ahead is never able to lose to that peer's now-stale timestamps.
	// A no-op for the positional variant.
	Absorb(clk *clock.Clock, e types.Entry)
}

// Positional is the "rightmost-wins" ordering: no timestamps, ties (which,
// for this variant, are every concurrent write to the same key) resolve
// purely by final sequence position.
type Positional struct{}

func (Positional) BuildEntry(key string, val any, _ *clock.Clock, _ string) types.Entry {
	return types.Entry{Key: key, Val: val, HasVal: true}
}

func (Positional) BuildTombstone(string, *clock.Clock, string) (types.Entry, bool) {
	return types.Entry{}, false
}

func (Positional) Wins(_, _ types.Entry) bool { return true }

func (Positional) Absorb(*clock.Clock, types.Entry) {}

// LWW is the timestamp-based "last-write-wins" ordering. Entries carry
// ts/by; the winner is the entry with the maximum ts, breaking ties
// toward the lexicographically greater replica id via resolver.WinsLWW —
// the same comparator crdt.Map uses for per-field conflicts, so both
// layers agree on one winner regardless of scan or merge direction.
type LWW struct{}

func (LWW) BuildEntry(key string, val any, clk *clock.Clock, replica string) types.Entry {
	return types.Entry{Key: key, Val: val, HasVal: true, Ts: clk.Next(), By: replica}
}

func (LWW) BuildTombstone(key string, clk *clock.Clock, replica string) (types.Entry, bool) {
	return types.Entry{Key: key, HasVal: false, Ts: clk.Next(), By: replica}, true
}

func (LWW) Wins(candidate, current types.Entry) bool {
	return resolver.WinsLWW(candidate, current)
}

func (LWW) Absorb(clk *clock.Clock, e types.Entry) {
	clk.Observe(e.Ts)
}
