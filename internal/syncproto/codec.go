// Package syncproto implements the Sync Protocol Codec: varuint
// message-type framing around the CRDT runtime's opaque sync/awareness
// payloads. The codec never interprets CRDT bytes, only the frame
// envelope around them, following a hand-rolled TCP framing idiom
// generalized from newline-delimited JSON to length-prefixed binary
// (see DESIGN.md).
package syncproto

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/loomkv/loomkv/internal/types"
)

// Encoder builds one wire frame: message type, then a type-specific body.
type Encoder struct {
	buf       []byte
	prefixLen int
}

// NewSyncEncoder starts a SYNC frame.
func NewSyncEncoder() *Encoder {
	e := &Encoder{}
	e.writeVarUint(uint64(types.MessageSync))
	e.prefixLen = len(e.buf)
	return e
}

// NewAwarenessEncoder starts an AWARENESS frame.
func NewAwarenessEncoder() *Encoder {
	e := &Encoder{}
	e.writeVarUint(uint64(types.MessageAwareness))
	e.prefixLen = len(e.buf)
	return e
}

// NewQueryAwarenessEncoder builds the empty QUERY_AWARENESS frame.
func NewQueryAwarenessEncoder() *Encoder {
	e := &Encoder{}
	e.writeVarUint(uint64(types.MessageQueryAwareness))
	e.prefixLen = len(e.buf)
	return e
}

func (e *Encoder) writeVarUint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	e.buf = append(e.buf, tmp[:n]...)
}

func (e *Encoder) writeBytes(b []byte) {
	e.writeVarUint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

// Bytes returns the accumulated frame.
func (e *Encoder) Bytes() []byte { return e.buf }

// Len reports how many bytes have been written so far — callers use this
// to decide whether a reply encoder wrote anything beyond its message-type
// prefix before sending it: send the reply only if the encoder wrote more
// than the single prefix byte.
func (e *Encoder) Len() int { return len(e.buf) }

// HasBody reports whether anything was written beyond the message-type
// prefix — the same reply-or-don't decision Len lets callers make
// themselves, expressed directly.
func (e *Encoder) HasBody() bool { return len(e.buf) > e.prefixLen }

// WriteSyncStep1 appends a step-1 sub-message carrying sv, the sender's
// state vector.
func (e *Encoder) WriteSyncStep1(sv map[string]uint64) error {
	return e.writeSyncSub(types.SyncStep1, sv)
}

// WriteSyncStep2 appends a step-2 sub-message carrying update, the
// CRDT runtime's opaque diff answering a peer's step-1.
func (e *Encoder) WriteSyncStep2(update []byte) error {
	e.writeVarUint(uint64(types.SyncStep2))
	e.writeBytes(update)
	return nil
}

// WriteSyncUpdate appends an incremental-update sub-message.
func (e *Encoder) WriteSyncUpdate(update []byte) error {
	e.writeVarUint(uint64(types.SyncUpdate))
	e.writeBytes(update)
	return nil
}

func (e *Encoder) writeSyncSub(sub types.SyncSubType, sv map[string]uint64) error {
	data, err := json.Marshal(sv)
	if err != nil {
		return fmt.Errorf("syncproto: encode state vector: %w", err)
	}
	e.writeVarUint(uint64(sub))
	e.writeBytes(data)
	return nil
}

// WriteAwareness appends update, the runtime's opaque awareness bytes.
func (e *Encoder) WriteAwareness(update []byte) {
	e.writeBytes(update)
}

// Decoder reads one frame's fields in order. It is not safe for concurrent
// use by multiple goroutines.
type Decoder struct {
	data []byte
	pos  int
}

// NewDecoder wraps a received frame for decoding.
func NewDecoder(frame []byte) *Decoder {
	return &Decoder{data: frame}
}

func (d *Decoder) readVarUint() (uint64, error) {
	v, n := binary.Uvarint(d.data[d.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("syncproto: malformed varuint at offset %d", d.pos)
	}
	d.pos += n
	return v, nil
}

func (d *Decoder) readBytes() ([]byte, error) {
	n, err := d.readVarUint()
	if err != nil {
		return nil, err
	}
	if d.pos+int(n) > len(d.data) {
		return nil, fmt.Errorf("syncproto: truncated frame, want %d bytes at offset %d", n, d.pos)
	}
	b := d.data[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return b, nil
}

// MessageType reads the frame's leading message-type varuint.
func (d *Decoder) MessageType() (types.MessageType, error) {
	v, err := d.readVarUint()
	if err != nil {
		return 0, err
	}
	return types.MessageType(v), nil
}

// SyncSubType reads a SYNC frame's sub-message discriminator. Call only
// after MessageType has returned MessageSync.
func (d *Decoder) SyncSubType() (types.SyncSubType, error) {
	v, err := d.readVarUint()
	if err != nil {
		return 0, err
	}
	return types.SyncSubType(v), nil
}

// StateVector decodes a step-1 sub-message's payload.
func (d *Decoder) StateVector() (map[string]uint64, error) {
	data, err := d.readBytes()
	if err != nil {
		return nil, err
	}
	var sv map[string]uint64
	if err := json.Unmarshal(data, &sv); err != nil {
		return nil, fmt.Errorf("syncproto: decode state vector: %w", err)
	}
	return sv, nil
}

// Update decodes a step-2 or incremental-update sub-message's opaque
// payload, to be handed to the CRDT runtime's ApplyUpdate verbatim.
func (d *Decoder) Update() ([]byte, error) {
	return d.readBytes()
}

// Awareness decodes an AWARENESS frame's opaque payload. Call only after
// MessageType has returned MessageAwareness.
func (d *Decoder) Awareness() ([]byte, error) {
	return d.readBytes()
}
