package crdt

import (
	"sync"

	"github.com/loomkv/loomkv/internal/resolver"
	"github.com/loomkv/loomkv/internal/types"
)

// FieldKind tags which shape a Map field currently holds, for DTO encoding.
type FieldKind byte

const (
	FieldScalar FieldKind = iota
	FieldText
	FieldArray
	FieldMap
)

// field is one LWW-stamped slot of a Map. Concurrent writers to the SAME
// field converge by (ts, by), the same comparator the KVLog conflict
// resolver uses, while concurrent writers to DIFFERENT fields of the
// same row simply both survive, which is the only cross-field
// concurrency guarantee a Map makes.
type field struct {
	kind   FieldKind
	scalar any
	text   *Text
	array  *Array
	nested *Map
	ts     uint64
	by     string
	tomb   bool
}

// Map is a collaborative record: a set of named, independently LWW-resolved
// fields, used as the CRDT container backing one Row Projection entity.
type Map struct {
	mu      sync.Mutex
	clock   clockSource
	replica string
	fields  map[string]*field
}

// NewMap creates an empty Map.
func NewMap(clk clockSource, replica string) *Map {
	return &Map{clock: clk, replica: replica, fields: map[string]*field{}}
}

// flush implements flusher. Map fields commit synchronously on every
// mutator call (unlike Sequence, which batches pending add/delete until
// flush), so there is nothing to do here beyond letting Map register with
// a Txn at all — Touch uses this to make Document.Transact's dispatch
// aware of plain field writes, not just KVLog/sequence ones.
func (m *Map) flush(Origin) {}

// Touch registers m as mutated in txn, so Document.Transact's end-of-
// transaction dispatch fires even for a transaction that only wrote plain
// Map fields (row.ApplyCell's scalar path, a singleton KV Set/Delete)
// without touching any KVLog sequence.
func (m *Map) Touch(txn *Txn) {
	if txn != nil {
		txn.markTouched(m)
	}
}

// SetScalar stamps key with v, attributed to by at the map's own clock.
func (m *Map) SetScalar(key string, v any, by string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, by, m.clock.Next(), &field{kind: FieldScalar, scalar: v})
}

// SetScalarLWW applies a remote write, honoring the (ts, by) comparator so
// both replicas converge on the same winner regardless of delivery order.
func (m *Map) SetScalarLWW(key string, v any, ts uint64, by string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setIfWinsLocked(key, ts, by, &field{kind: FieldScalar, scalar: v})
}

// Text returns the collaborative text field at key, creating it if absent.
func (m *Map) Text(key string, by string) *Text {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fields[key]
	if ok && f.kind == FieldText && !f.tomb {
		return f.text
	}
	t := NewText(m.clock, m.replica)
	m.setLocked(key, by, m.clock.Next(), &field{kind: FieldText, text: t})
	return t
}

// Array returns the collaborative array field at key, creating it if absent.
func (m *Map) Array(key string, by string) *Array {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fields[key]
	if ok && f.kind == FieldArray && !f.tomb {
		return f.array
	}
	a := NewArray(m.clock, m.replica)
	m.setLocked(key, by, m.clock.Next(), &field{kind: FieldArray, array: a})
	return a
}

// TextIfPresent returns the collaborative text already stored at key,
// without creating one, so callers (Row Projection's write path) can tell
// "diff the existing container" from "construct a new one" apart.
func (m *Map) TextIfPresent(key string) (*Text, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fields[key]
	if !ok || f.tomb || f.kind != FieldText {
		return nil, false
	}
	return f.text, true
}

// ArrayIfPresent returns the collaborative array already stored at key,
// without creating one.
func (m *Map) ArrayIfPresent(key string) (*Array, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fields[key]
	if !ok || f.tomb || f.kind != FieldArray {
		return nil, false
	}
	return f.array, true
}

// PutText installs a freshly constructed text container at key.
func (m *Map) PutText(key string, t *Text, by string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, by, m.clock.Next(), &field{kind: FieldText, text: t})
}

// PutArray installs a freshly constructed array container at key.
func (m *Map) PutArray(key string, a *Array, by string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, by, m.clock.Next(), &field{kind: FieldArray, array: a})
}

// Delete removes key, recorded as a tombstoned field so the deletion itself
// participates in LWW resolution against concurrent writers.
func (m *Map) Delete(key string, by string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, by, m.clock.Next(), &field{tomb: true})
}

func (m *Map) setLocked(key, by string, ts uint64, f *field) {
	f.ts = ts
	f.by = by
	m.fields[key] = f
}

func (m *Map) setIfWinsLocked(key string, ts uint64, by string, f *field) {
	cur, ok := m.fields[key]
	if ok && !resolver.WinsLWW(types.Entry{Ts: ts, By: by}, types.Entry{Ts: cur.ts, By: cur.by}) {
		return
	}
	f.ts = ts
	f.by = by
	m.fields[key] = f
}

// Get returns the current value at key, if present and not tombstoned: the
// scalar itself, a text field's string, or an array field's elements.
// Nested map fields read as not found.
func (m *Map) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fields[key]
	if !ok || f.tomb {
		return nil, false
	}
	switch f.kind {
	case FieldScalar:
		return f.scalar, true
	case FieldText:
		return f.text.String(), true
	case FieldArray:
		return f.array.ToSlice(), true
	default:
		return nil, false
	}
}

// Has reports whether key is present and not tombstoned.
func (m *Map) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Keys returns the live (non-tombstoned) field names.
func (m *Map) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.fields))
	for k, f := range m.fields {
		if !f.tomb {
			out = append(out, k)
		}
	}
	return out
}

// FieldDTO is the wire-safe projection of one Map field.
type FieldDTO struct {
	Kind    FieldKind
	Scalar  any
	Text    []ItemDTO[rune]
	Array   []ItemDTO[any]
	Ts      uint64
	By      string
	Tomb    bool
}

// MapDTO is the wire-safe projection of a whole Map, used for
// encode_state_as_update / apply_update.
type MapDTO map[string]FieldDTO

// Snapshot captures every field, tombstones included, for bulk sync.
func (m *Map) Snapshot() MapDTO {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(MapDTO, len(m.fields))
	for k, f := range m.fields {
		dto := FieldDTO{Kind: f.kind, Ts: f.ts, By: f.by, Tomb: f.tomb}
		switch f.kind {
		case FieldScalar:
			dto.Scalar = f.scalar
		case FieldText:
			if f.text != nil {
				dto.Text = f.text.Snapshot()
			}
		case FieldArray:
			if f.array != nil {
				dto.Array = f.array.Snapshot()
			}
		}
		out[k] = dto
	}
	return out
}

// Merge applies a remote MapDTO field-by-field under LWW, recursing into
// text/array containers so their own item-level merge still converges.
func (m *Map) Merge(txn *Txn, remote MapDTO) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obs, _ := m.clock.(interface{ Observe(uint64) })
	for key, dto := range remote {
		// Absorb the remote stamp so a later local write outranks it.
		if obs != nil {
			obs.Observe(dto.Ts)
		}
		cur, ok := m.fields[key]
		if ok && !resolver.WinsLWW(types.Entry{Ts: dto.Ts, By: dto.By}, types.Entry{Ts: cur.ts, By: cur.by}) {
			// This replica's field already wins; still merge container
			// history if both sides happen to reference the same kind of
			// container, so concurrent edits within it still converge.
			if ok && cur.kind == FieldText && dto.Kind == FieldText && cur.text != nil {
				cur.text.Merge(txn, dto.Text)
			}
			if ok && cur.kind == FieldArray && dto.Kind == FieldArray && cur.array != nil {
				cur.array.Merge(txn, dto.Array)
			}
			continue
		}
		nf := &field{kind: dto.Kind, ts: dto.Ts, by: dto.By, tomb: dto.Tomb}
		switch dto.Kind {
		case FieldScalar:
			nf.scalar = dto.Scalar
		case FieldText:
			nf.text = NewTextFromSnapshot(m.clock, m.replica, dto.Text)
		case FieldArray:
			nf.array = NewArrayFromSnapshot(m.clock, m.replica, dto.Array)
		}
		m.fields[key] = nf
	}
}
