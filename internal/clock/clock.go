// Package clock implements the KVLog's monotonic timestamp source: a
// per-instance Lamport-style clock that ticks on local writes and absorbs
// the max of any remote timestamp observed.
package clock

import "time"

// nowMillis is swappable in tests; production code always uses wall time.
var nowMillis = func() uint64 {
	return uint64(time.Now().UnixMilli())
}

// Clock produces strictly increasing u64 timestamps for local writes and
// absorbs timestamps observed on remote entries. State is per-instance:
// a process-wide clock would let unrelated documents leak skew into one
// another.
type Clock struct {
	last uint64
}

// New returns a clock with no prior observations.
func New() *Clock {
	return &Clock{}
}

// Next returns max(wallClockMillis, last+1) and advances last to it. Two
// calls within the same millisecond still return distinct, increasing
// values.
func (c *Clock) Next() uint64 {
	wall := nowMillis()
	next := c.last + 1
	if wall > next {
		next = wall
	}
	c.last = next
	return next
}

// Observe folds a timestamp seen on an incoming entry into the clock so
// that a subsequent Next() never returns a value at or behind it. A peer
// whose clock is far ahead dominates until local wall-clock time catches
// up; this module makes no attempt to detect or correct that skew beyond
// taking the max.
func (c *Clock) Observe(ts uint64) {
	if ts > c.last {
		c.last = ts
	}
}
