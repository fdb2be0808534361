package syncproto

import (
	"testing"

	"github.com/loomkv/loomkv/internal/types"
)

func TestSyncStep1RoundTrip(t *testing.T) {
	sv := map[string]uint64{"r1": 10, "r2": 4}
	enc := NewSyncEncoder()
	if err := enc.WriteSyncStep1(sv); err != nil {
		t.Fatal(err)
	}

	dec := NewDecoder(enc.Bytes())
	mt, err := dec.MessageType()
	if err != nil || mt != types.MessageSync {
		t.Fatalf("got type %v, err %v", mt, err)
	}
	sub, err := dec.SyncSubType()
	if err != nil || sub != types.SyncStep1 {
		t.Fatalf("got sub %v, err %v", sub, err)
	}
	got, err := dec.StateVector()
	if err != nil {
		t.Fatal(err)
	}
	if got["r1"] != 10 || got["r2"] != 4 {
		t.Fatalf("got %+v", got)
	}
}

func TestSyncUpdateRoundTrip(t *testing.T) {
	payload := []byte(`{"sequences":{},"maps":{}}`)
	enc := NewSyncEncoder()
	if err := enc.WriteSyncUpdate(payload); err != nil {
		t.Fatal(err)
	}

	dec := NewDecoder(enc.Bytes())
	if _, err := dec.MessageType(); err != nil {
		t.Fatal(err)
	}
	sub, err := dec.SyncSubType()
	if err != nil || sub != types.SyncUpdate {
		t.Fatalf("got sub %v, err %v", sub, err)
	}
	got, err := dec.Update()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %s", got)
	}
}

func TestAwarenessRoundTrip(t *testing.T) {
	payload := []byte(`{"client-1":{"cursor":3}}`)
	enc := NewAwarenessEncoder()
	enc.WriteAwareness(payload)

	dec := NewDecoder(enc.Bytes())
	mt, err := dec.MessageType()
	if err != nil || mt != types.MessageAwareness {
		t.Fatalf("got type %v, err %v", mt, err)
	}
	got, err := dec.Awareness()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %s", got)
	}
}

func TestQueryAwarenessFrameIsJustThePrefix(t *testing.T) {
	enc := NewQueryAwarenessEncoder()
	dec := NewDecoder(enc.Bytes())
	mt, err := dec.MessageType()
	if err != nil || mt != types.MessageQueryAwareness {
		t.Fatalf("got type %v, err %v", mt, err)
	}
}

func TestEncoderLenDetectsEmptyReply(t *testing.T) {
	enc := NewSyncEncoder()
	prefixOnly := enc.Len()

	enc2 := NewSyncEncoder()
	_ = enc2.WriteSyncUpdate([]byte("x"))
	if enc2.Len() <= prefixOnly {
		t.Fatal("expected a written sub-message to grow the encoder beyond the prefix")
	}
}

func TestDecoderRejectsTruncatedFrame(t *testing.T) {
	enc := NewSyncEncoder()
	_ = enc.WriteSyncUpdate([]byte("hello"))
	frame := enc.Bytes()

	dec := NewDecoder(frame[:len(frame)-2])
	if _, err := dec.MessageType(); err != nil {
		t.Fatal(err)
	}
	if _, err := dec.SyncSubType(); err != nil {
		t.Fatal(err)
	}
	if _, err := dec.Update(); err == nil {
		t.Fatal("expected truncated frame to error")
	}
}
