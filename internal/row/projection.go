// Package row implements Row Projection: encoding typed row
// schemas onto CRDT maps and applying minimal diffs to the collaborative
// text/array containers that back rich-text and list cells.
package row

import (
	"github.com/loomkv/loomkv/internal/clock"
	"github.com/loomkv/loomkv/internal/crdt"
	"github.com/loomkv/loomkv/internal/types"
)

// ApplyCell writes one field of plain input value val onto m's field slot,
// encoding it as a scalar, text, or array container per its declared kind.
// schema may be nil, meaning field isn't declared by the table's schema —
// such fields are preserved as scalars verbatim.
func ApplyCell(txn *crdt.Txn, clk *clock.Clock, replica string, m *crdt.Map, field string, val any, schema *types.FieldSchema) {
	defer m.Touch(txn)
	if schema == nil {
		m.SetScalar(field, val, replica)
		return
	}

	switch schema.Type {
	case types.CellRichText:
		s, ok := val.(string)
		if !ok {
			m.SetScalar(field, val, replica)
			return
		}
		if existing, ok := m.TextIfPresent(field); ok {
			crdt.ApplyTextDiff(txn, existing, s)
			return
		}
		t := crdt.NewText(clk, replica)
		t.InsertAt(txn, 0, s)
		m.PutText(field, t, replica)

	case types.CellArray:
		items, ok := val.([]any)
		if !ok {
			m.SetScalar(field, val, replica)
			return
		}
		if existing, ok := m.ArrayIfPresent(field); ok {
			crdt.ApplyArrayDiff(txn, existing, items)
			return
		}
		a := crdt.NewArray(clk, replica)
		for _, it := range items {
			a.Push(txn, it)
		}
		m.PutArray(field, a, replica)

	default:
		// Scalar, date, null: stored as-is.
		m.SetScalar(field, val, replica)
	}
}

// ApplyRow writes every present field of row onto m, using schema to
// decide each field's encoding. Fields absent from row are left untouched
// — ApplyCell handles "undefined -> skip" by simply never being called
// for them.
func ApplyRow(txn *crdt.Txn, clk *clock.Clock, replica string, m *crdt.Map, row map[string]any, schema *types.TableSchema) {
	for field, val := range row {
		var fs *types.FieldSchema
		if schema != nil {
			if f, ok := schema.Fields[field]; ok {
				fc := f
				fs = &fc
			}
		}
		ApplyCell(txn, clk, replica, m, field, val, fs)
	}
}

// ReadRow materializes m's current fields as a plain map, suitable for
// schema validation and for returning to callers.
func ReadRow(m *crdt.Map) map[string]any {
	out := map[string]any{}
	for _, k := range m.Keys() {
		if v, ok := m.Get(k); ok {
			out[k] = v
		}
	}
	return out
}
