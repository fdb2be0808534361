// Package collection implements Table and KV Store: typed CRUD over rows
// and singleton keys, backed by one KVLog (row-id existence and
// compaction) and Row Projection (field encoding onto the row's CRDT
// map). The shape — a thin CRUD façade in front of local state, with
// upsert/find/delete/findAll operations — follows a LocalCollection/
// DistributedCollection split, minus the network broadcast plumbing:
// propagation is now the CRDT Document's job, not this layer's.
package collection

import (
	"github.com/loomkv/loomkv/internal/clock"
	"github.com/loomkv/loomkv/internal/crdt"
	"github.com/loomkv/loomkv/internal/kvlog"
	"github.com/loomkv/loomkv/internal/row"
	"github.com/loomkv/loomkv/internal/types"
)

// Table is a typed CRUD surface over rows identified by a string id,
// writing each row's fields into its own CRDT map and tracking row
// existence/compaction through a KVLog.
type Table struct {
	name     string
	doc      *crdt.Document
	log      *kvlog.Log
	schema   *types.TableSchema
	clock    *clock.Clock
	replica  string
}

// NewTable builds a Table bound to doc's sequence and per-row maps for
// name. schema may be nil for an untyped table (every cell kept as a
// preserved scalar).
func NewTable(doc *crdt.Document, name string, schema *types.TableSchema) *Table {
	return &Table{
		name:    name,
		doc:     doc,
		log:     kvlog.New(doc.Sequence(name+":ids"), doc.Clock, doc.Replica, kvlog.LWW{}),
		schema:  schema,
		clock:   doc.Clock,
		replica: doc.Replica,
	}
}

func (t *Table) rowMapName(id string) string { return t.name + "/" + id }

// Upsert writes row under id, creating or updating its backing CRDT map.
func (t *Table) Upsert(origin crdt.Origin, id string, fields map[string]any) {
	t.doc.Transact(origin, func(txn *crdt.Txn) {
		t.log.Set(txn, id, true)
		m := t.doc.Map(t.rowMapName(id))
		row.ApplyRow(txn, t.clock, t.replica, m, fields, t.schema)
	})
}

// UpsertMany writes every row in rows in a single transaction, so
// observers see one aggregated change instead of one per row.
func (t *Table) UpsertMany(origin crdt.Origin, rows map[string]map[string]any) {
	t.doc.Transact(origin, func(txn *crdt.Txn) {
		for id, fields := range rows {
			t.log.Set(txn, id, true)
			m := t.doc.Map(t.rowMapName(id))
			row.ApplyRow(txn, t.clock, t.replica, m, fields, t.schema)
		}
	})
}

// Get returns the row at id if it exists and type-checks against the
// table's schema; an invalid row reads as not found rather than
// surfacing the validation failure to the caller.
func (t *Table) Get(id string) (map[string]any, bool) {
	if !t.log.Has(id) {
		return nil, false
	}
	m := t.doc.Map(t.rowMapName(id))
	fields := row.ReadRow(m)
	if t.schema != nil && !t.schema.Valid(fields) {
		return nil, false
	}
	return fields, true
}

// GetAllValid returns every row keyed by id, filtering out rows that no
// longer type-check against the current schema.
func (t *Table) GetAllValid() map[string]map[string]any {
	out := map[string]map[string]any{}
	for _, id := range t.log.Keys() {
		if fields, ok := t.Get(id); ok {
			out[id] = fields
		}
	}
	return out
}

// Delete removes the row at id. Its CRDT map is left as an orphaned
// tombstone; reclaiming it is the runtime's compaction concern, not this
// layer's.
func (t *Table) Delete(origin crdt.Origin, id string) {
	t.doc.Transact(origin, func(txn *crdt.Txn) {
		t.log.Delete(txn, id)
	})
}

// DeleteMany removes every id in ids in one transaction.
func (t *Table) DeleteMany(origin crdt.Origin, ids []string) {
	t.doc.Transact(origin, func(txn *crdt.Txn) {
		for _, id := range ids {
			t.log.Delete(txn, id)
		}
	})
}

// KVStore is the singleton variant: schema applied per-key, no id
// dimension — every key behaves like one always-present row whose fields
// are written directly, without a row-id indirection layer.
type KVStore struct {
	doc     *crdt.Document
	mapName string
	schema  *types.FieldSchema
	clock   *clock.Clock
	replica string
}

// NewKVStore builds a singleton KV store backed by one CRDT map named
// name under doc. schema, if non-nil, applies to every key written.
func NewKVStore(doc *crdt.Document, name string, schema *types.FieldSchema) *KVStore {
	return &KVStore{doc: doc, mapName: name, schema: schema, clock: doc.Clock, replica: doc.Replica}
}

// Set writes key's value.
func (s *KVStore) Set(origin crdt.Origin, key string, val any) {
	s.doc.Transact(origin, func(txn *crdt.Txn) {
		row.ApplyCell(txn, s.clock, s.replica, s.doc.Map(s.mapName), key, val, s.schema)
	})
}

// Get reads key's current value.
func (s *KVStore) Get(key string) (any, bool) {
	return s.doc.Map(s.mapName).Get(key)
}

// Delete removes key.
func (s *KVStore) Delete(origin crdt.Origin, key string) {
	s.doc.Transact(origin, func(txn *crdt.Txn) {
		m := s.doc.Map(s.mapName)
		m.Delete(key, s.replica)
		m.Touch(txn)
	})
}
