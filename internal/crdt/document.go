package crdt

import (
	"encoding/json"
	"sync"

	"github.com/loomkv/loomkv/internal/clock"
	"github.com/loomkv/loomkv/internal/types"
)

// Document is one replica's view of a shared workspace: a registry of named
// KVLog sequences (one per table) and named row maps, all sharing one
// monotonic clock and replica id — the CRDT runtime, given one concrete,
// testable implementation.
type Document struct {
	mu sync.Mutex

	GUID    string
	Replica string
	Clock   *clock.Clock

	sequences map[string]*Sequence[types.Entry]
	maps      map[string]*Map

	updateMu       sync.Mutex
	updateHandlers map[int]func(update []byte, origin Origin)
	nextHandlerID  int
}

// NewDocument creates an empty Document for the given replica.
func NewDocument(guid, replica string) *Document {
	return &Document{
		GUID:           guid,
		Replica:        replica,
		Clock:          clock.New(),
		sequences:      map[string]*Sequence[types.Entry]{},
		maps:           map[string]*Map{},
		updateHandlers: map[int]func([]byte, Origin){},
	}
}

// OnUpdate registers a handler invoked with the document's full encoded
// state and the transaction's origin token once per transaction that
// mutated it. The persistence port's Subscribe uses this to keep a
// reference adapter like FileStore durable; the Sync Server's
// per-connection listener uses the origin to suppress echoing an update
// back to the connection that caused it, only when the update's origin
// token is not that connection. Returns an unsubscribe func.
func (d *Document) OnUpdate(fn func(update []byte, origin Origin)) func() {
	d.updateMu.Lock()
	id := d.nextHandlerID
	d.nextHandlerID++
	d.updateHandlers[id] = fn
	d.updateMu.Unlock()
	return func() {
		d.updateMu.Lock()
		delete(d.updateHandlers, id)
		d.updateMu.Unlock()
	}
}

func (d *Document) dispatchUpdate(origin Origin) {
	d.updateMu.Lock()
	handlers := make([]func([]byte, Origin), 0, len(d.updateHandlers))
	for _, h := range d.updateHandlers {
		handlers = append(handlers, h)
	}
	d.updateMu.Unlock()
	if len(handlers) == 0 {
		return
	}
	update, err := d.EncodeStateAsUpdate()
	if err != nil {
		return
	}
	for _, h := range handlers {
		dispatchUpdateSafely(h, update, origin)
	}
}

func dispatchUpdateSafely(h func([]byte, Origin), update []byte, origin Origin) {
	defer func() { _ = recover() }()
	h(update, origin)
}

// Sequence returns the named KVLog-backing sequence, creating it on first
// use (Yjs's getArray/get-or-create pattern, applied to one fixed element
// type since every KVLog entry has the same shape).
func (d *Document) Sequence(name string) *Sequence[types.Entry] {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sequences[name]
	if !ok {
		s = NewSequence[types.Entry](d.Clock, d.Replica)
		d.sequences[name] = s
	}
	return s
}

// Map returns the named row map, creating it on first use.
func (d *Document) Map(name string) *Map {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.maps[name]
	if !ok {
		m = NewMap(d.Clock, d.Replica)
		d.maps[name] = m
	}
	return m
}

// HasMap reports whether name has been created, without creating it.
func (d *Document) HasMap(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.maps[name]
	return ok
}

// Transact opens one transaction, runs fn with it, then flushes every
// container fn touched exactly once, in touch order, tagged with origin.
// Nested mutating calls must be passed this same *Txn; opening a second
// transaction from inside fn is a caller bug, not something this type can
// detect (see Txn's doc comment).
func (d *Document) Transact(origin Origin, fn func(txn *Txn)) {
	txn := &Txn{origin: origin}
	fn(txn)
	for _, f := range txn.touched {
		f.flush(origin)
	}
	if len(txn.touched) > 0 {
		d.dispatchUpdate(origin)
	}
}

// documentDTO is the bulk wire format for encode_state_as_update /
// apply_update. Using JSON here, rather than a packed binary layout, is
// a deliberate simplification: it keeps Merge's per-item causal-
// integration logic identical regardless of framing, and the syncproto
// package still wraps this payload in the real varuint message framing
// on the wire.
type documentDTO struct {
	Sequences map[string][]ItemDTO[types.Entry] `json:"sequences"`
	Maps      map[string]MapDTO                 `json:"maps"`
}

// EncodeStateAsUpdate serializes the full document state.
func (d *Document) EncodeStateAsUpdate() ([]byte, error) {
	return d.diffDTO(nil)
}

// StateVector summarizes what this replica has seen, as the highest clock
// observed per replica id across every sequence item and map field. A peer
// compares its own state vector against this one to compute what it's
// missing.
func (d *Document) StateVector() map[string]uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	sv := map[string]uint64{}
	bump := func(replica string, clock uint64) {
		if clock > sv[replica] {
			sv[replica] = clock
		}
	}
	for _, s := range d.sequences {
		for _, it := range s.Items() {
			bump(it.ID.Replica, it.ID.Clock)
		}
	}
	for _, m := range d.maps {
		snap := m.Snapshot()
		for _, f := range snap {
			bump(f.By, f.Ts)
			for _, it := range f.Text {
				bump(it.Replica, it.Clock)
			}
			for _, it := range f.Array {
				bump(it.Replica, it.Clock)
			}
		}
	}
	return sv
}

// Diff encodes only the state this replica holds that the given state
// vector doesn't yet reflect — sync step 2's response to a peer's step 1.
// A state vector cannot record deletions, so every tombstoned item is
// always included, and a text/array field is included whenever its
// container holds such items.
func (d *Document) Diff(remoteSV map[string]uint64) ([]byte, error) {
	return d.diffDTO(remoteSV)
}

func (d *Document) diffDTO(remoteSV map[string]uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	known := func(replica string) uint64 {
		if remoteSV == nil {
			return 0
		}
		return remoteSV[replica]
	}

	out := documentDTO{
		Sequences: map[string][]ItemDTO[types.Entry]{},
		Maps:      map[string]MapDTO{},
	}
	for name, s := range d.sequences {
		var filtered []ItemDTO[types.Entry]
		for _, dto := range s.Snapshot() {
			if dto.Clock > known(dto.Replica) || dto.Deleted {
				filtered = append(filtered, dto)
			}
		}
		if len(filtered) > 0 {
			out.Sequences[name] = filtered
		}
	}
	for name, m := range d.maps {
		full := m.Snapshot()
		filtered := MapDTO{}
		for key, f := range full {
			changed := f.Ts > known(f.By)
			for _, it := range f.Text {
				changed = changed || it.Clock > known(it.Replica) || it.Deleted
			}
			for _, it := range f.Array {
				changed = changed || it.Clock > known(it.Replica) || it.Deleted
			}
			if changed {
				filtered[key] = f
			}
		}
		if len(filtered) > 0 {
			out.Maps[name] = filtered
		}
	}
	return json.Marshal(out)
}

// ApplyUpdate merges a remote update (encode_state_as_update's output, or a
// Diff's output) into this document. Must be called with a *Txn obtained
// from Transact so the resulting observer dispatch is batched with any
// other work done in the same transaction.
func (d *Document) ApplyUpdate(txn *Txn, data []byte) error {
	var dto documentDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	for name, items := range dto.Sequences {
		d.Sequence(name).Merge(txn, items)
	}
	for name, fields := range dto.Maps {
		d.Map(name).Merge(txn, fields)
	}
	return nil
}

// Destroy releases this document's containers. Idempotent: a second call is
// a no-op, matching the Workspace Client lifecycle's all-settled destroy
// semantics which must tolerate being invoked more than once.
func (d *Document) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sequences = map[string]*Sequence[types.Entry]{}
	d.maps = map[string]*Map{}
	d.updateMu.Lock()
	d.updateHandlers = map[int]func([]byte, Origin){}
	d.updateMu.Unlock()
}
