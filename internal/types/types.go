// Package types holds the data model shared across the KVLog, Row
// Projection, and Sync Protocol layers: cell and schema definitions, the
// KVLog entry shape, and the wire message kinds exchanged between peers.
package types

// CellType enumerates the kinds of values a row field can hold.
type CellType string

const (
	CellString   CellType = "string"
	CellInt      CellType = "int"
	CellFloat    CellType = "float"
	CellBool     CellType = "bool"
	CellNull     CellType = "null"
	CellDate     CellType = "date"
	CellRichText CellType = "richtext"
	CellArray    CellType = "array"
)

// FieldSchema describes one column of a table (or one singleton KV key).
type FieldSchema struct {
	Name     string
	Type     CellType
	Nullable bool
}

// TableSchema is a named, field-indexed schema shared by tables and
// singleton KV stores.
type TableSchema struct {
	Name   string
	Fields map[string]FieldSchema
}

// Valid reports whether a plain row value type-checks against the schema.
// Fields absent from the schema are treated as opaque scalars and are
// always considered valid: keys not present in the schema but present in
// input are preserved as scalars.
func (s *TableSchema) Valid(row map[string]any) bool {
	for name, field := range s.Fields {
		v, ok := row[name]
		if !ok {
			continue
		}
		if v == nil {
			if !field.Nullable && field.Type != CellNull {
				return false
			}
			continue
		}
		if !cellMatches(field.Type, v) {
			return false
		}
	}
	return true
}

func cellMatches(t CellType, v any) bool {
	switch t {
	case CellString, CellDate:
		_, ok := v.(string)
		return ok
	case CellInt:
		switch v.(type) {
		case int, int32, int64:
			return true
		}
		return false
	case CellFloat:
		switch v.(type) {
		case float32, float64:
			return true
		}
		return false
	case CellBool:
		_, ok := v.(bool)
		return ok
	case CellNull:
		return v == nil
	default:
		// Rich text and array cells may appear as a plain string/slice on
		// the write path, or as an already-projected container reference
		// once Row Projection has run; both are accepted here.
		return true
	}
}

// Entry is the unit of storage inside a KVLog's ordered sequence. The
// positional variant never sets Ts/By; the LWW variant always does.
// HasVal distinguishes a live value from a tombstone (LWW delete).
type Entry struct {
	Key    string
	Val    any
	HasVal bool
	Ts     uint64
	By     string
}

// ChangeKind is the semantic change a KVLog observer reports, translated
// from the underlying sequence's raw added/deleted events.2.
type ChangeKind int

const (
	ChangeAdd ChangeKind = iota
	ChangeUpdate
	ChangeDelete
)

// Change is one entry in the map dispatched to KVLog change handlers.
type Change struct {
	Kind     ChangeKind
	OldValue any
	NewValue any
}

// MessageType is the varuint-prefixed frame kind of the sync wire protocol
//.
type MessageType byte

const (
	MessageSync           MessageType = 0
	MessageAwareness      MessageType = 1
	MessageAuth           MessageType = 2
	MessageQueryAwareness MessageType = 3
)

// SyncSubType distinguishes the three shapes a SYNC frame's payload may
// take; the codec never interprets the CRDT bytes themselves, only this
// discriminator and the length framing around them.
type SyncSubType byte

const (
	SyncStep1  SyncSubType = 0 // state vector
	SyncStep2  SyncSubType = 1 // update bundle answering a step-1
	SyncUpdate SyncSubType = 2 // incremental update
)
