package kvlog

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/loomkv/loomkv/internal/clock"
	"github.com/loomkv/loomkv/internal/crdt"
	"github.com/loomkv/loomkv/internal/tracing"
	"github.com/loomkv/loomkv/internal/types"
)

// ChangeHandler receives the aggregated add/update/delete map produced by
// one transaction's worth of sequence changes, keyed by KVLog key.
type ChangeHandler func(changes map[string]types.Change)

// Log is the key→value view over one crdt.Sequence[types.Entry]. It keeps
// a derived index mapping each key to the *crdt.Item currently backing it;
// the index is rebuilt exclusively by the translate observer so local
// writes and remote merges flow through one code path.
type Log struct {
	mu       sync.RWMutex
	seq      *crdt.Sequence[types.Entry]
	clock    *clock.Clock
	replica  string
	ordering Ordering

	index map[string]*crdt.Item[types.Entry]

	handlersMu sync.Mutex
	handlers   []ChangeHandler
}

// New wraps seq in a KVLog view using the given ordering, then performs the
// initialization scan: it feeds every currently-visible item through the
// same translation path as a live event, so the initial dedup pass and
// steady-state dedup share one implementation, as the rightmost-on-tie
// rule requires.
func New(seq *crdt.Sequence[types.Entry], clk *clock.Clock, replica string, ordering Ordering) *Log {
	l := &Log{
		seq:      seq,
		clock:    clk,
		replica:  replica,
		ordering: ordering,
		index:    map[string]*crdt.Item[types.Entry]{},
	}
	l.translate(crdt.Event[types.Entry]{Added: seq.VisibleItems()})
	seq.Observe(l.translate)
	return l
}

// Get returns the current value for k, if any live entry exists.
func (l *Log) Get(k string) (any, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	item, ok := l.index[k]
	if !ok || !item.Value.HasVal {
		return nil, false
	}
	return item.Value.Val, true
}

// Has reports whether k currently has a live value.
func (l *Log) Has(k string) bool {
	_, ok := l.Get(k)
	return ok
}

// Keys returns the keys currently holding a live value.
func (l *Log) Keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.index))
	for k, item := range l.index {
		if item.Value.HasVal {
			out = append(out, k)
		}
	}
	return out
}

// Set deletes any existing entry for k in the same transaction, then
// appends a freshly stamped entry. The index update itself happens inside
// translate, which runs synchronously when txn's containers flush — by
// the time Document.Transact returns, Get(k) already reflects the write.
func (l *Log) Set(txn *crdt.Txn, k string, v any) {
	_, span := tracing.StartSpan(context.Background(), "kvlog.set", attribute.String("key", k))
	defer span.End()

	l.mu.RLock()
	old, hadOld := l.index[k]
	l.mu.RUnlock()
	if hadOld {
		l.seq.Delete(txn, old)
	}
	l.seq.Push(txn, l.ordering.BuildEntry(k, v, l.clock, l.replica))
}

// Delete removes k. The positional variant deletes the live entry
// outright; the LWW variant appends a tombstone entry carrying a fresh
// timestamp (so concurrent writers can resolve delete-vs-set), then
// immediately tombstones that same entry too — once every replica has
// independently applied the same deterministic winner computation the
// tombstone has done its job, and a deleted key should leave zero
// entries in the sequence, not a lingering marker.
func (l *Log) Delete(txn *crdt.Txn, k string) {
	_, span := tracing.StartSpan(context.Background(), "kvlog.delete", attribute.String("key", k))
	defer span.End()

	l.mu.RLock()
	old, hadOld := l.index[k]
	l.mu.RUnlock()
	if hadOld {
		l.seq.Delete(txn, old)
	}
	if entry, ok := l.ordering.BuildTombstone(k, l.clock, l.replica); ok {
		item := l.seq.Push(txn, entry)
		l.seq.DeleteQuietly(item)
	}
}

// OnChange registers a handler invoked with the aggregated changes from
// each transaction that touched this log's sequence. Returns an
// unsubscribe function.
func (l *Log) OnChange(h ChangeHandler) func() {
	l.handlersMu.Lock()
	l.handlers = append(l.handlers, h)
	idx := len(l.handlers) - 1
	l.handlersMu.Unlock()
	return func() {
		l.handlersMu.Lock()
		defer l.handlersMu.Unlock()
		if idx < len(l.handlers) {
			l.handlers[idx] = nil
		}
	}
}

// Len reports the number of live entries in the backing sequence —
// compared against len(index) by tests of the Compaction invariant.
func (l *Log) Len() int {
	return l.seq.VisibleLen()
}

// translate is the sequence observer: it turns a batch of positional
// added/deleted items into a semantic add/update/delete change map.
func (l *Log) translate(ev crdt.Event[types.Entry]) {
	l.mu.Lock()

	priorOld := map[string]types.Entry{}
	for _, item := range ev.Deleted {
		key := item.Value.Key
		if cur, ok := l.index[key]; ok && cur == item {
			priorOld[key] = item.Value
			delete(l.index, key)
		}
	}

	touched := map[string]struct{}{}
	for _, item := range ev.Added {
		l.ordering.Absorb(l.clock, item.Value)
		touched[item.Value.Key] = struct{}{}
	}
	for key := range priorOld {
		touched[key] = struct{}{}
	}

	changes := map[string]types.Change{}
	var losers []*crdt.Item[types.Entry]

	for key := range touched {
		var candidates []*crdt.Item[types.Entry]
		for _, it := range l.seq.VisibleItems() {
			if it.Value.Key == key {
				candidates = append(candidates, it)
			}
		}

		prevItem, hadPrev := l.index[key]
		var prevVal any
		hadPrevVal := false
		if hadPrev && prevItem.Value.HasVal {
			prevVal, hadPrevVal = prevItem.Value.Val, true
		} else if old, had := priorOld[key]; had && old.HasVal {
			prevVal, hadPrevVal = old.Val, true
		}

		if len(candidates) == 0 {
			delete(l.index, key)
			if hadPrevVal {
				changes[key] = types.Change{Kind: types.ChangeDelete, OldValue: prevVal}
			}
			continue
		}

		winner := candidates[0]
		for _, c := range candidates[1:] {
			if l.ordering.Wins(c.Value, winner.Value) {
				winner = c
			}
		}
		for _, c := range candidates {
			if c != winner {
				losers = append(losers, c)
			}
		}

		l.index[key] = winner
		if !winner.Value.HasVal {
			delete(l.index, key)
			if hadPrevVal {
				changes[key] = types.Change{Kind: types.ChangeDelete, OldValue: prevVal}
			}
			continue
		}
		if hadPrevVal {
			// Entries are immutable once created, so an unchanged winner
			// reference means nothing actually changed for this key.
			if winner != prevItem {
				changes[key] = types.Change{Kind: types.ChangeUpdate, OldValue: prevVal, NewValue: winner.Value.Val}
			}
		} else {
			changes[key] = types.Change{Kind: types.ChangeAdd, NewValue: winner.Value.Val}
		}
	}
	l.mu.Unlock()

	for _, c := range losers {
		l.seq.DeleteQuietly(c)
	}

	if len(changes) == 0 {
		return
	}
	l.handlersMu.Lock()
	handlers := make([]ChangeHandler, len(l.handlers))
	copy(handlers, l.handlers)
	l.handlersMu.Unlock()
	for _, h := range handlers {
		dispatchChangesSafely(h, changes)
	}
}

func dispatchChangesSafely(h ChangeHandler, changes map[string]types.Change) {
	if h == nil {
		return
	}
	defer func() { _ = recover() }()
	h(changes)
}
