// Package syncserver implements the Sync Server: per-room connection
// bookkeeping, broadcast fan-out, awareness state, and origin-aware echo
// suppression over a gorilla/websocket transport. Follows a connection-
// registry/dispatch-by-message-type shape (peers/connections/handlers
// maps, a single handleMessage switch) generalized from a hand-rolled TCP
// protocol to a websocket transport, with room lookup, echo suppression,
// and close-code-4004 unknown-room handling built fresh since that
// protocol had no room or awareness concept (see DESIGN.md).
package syncserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/loomkv/loomkv/internal/crdt"
	"github.com/loomkv/loomkv/internal/logging"
	"github.com/loomkv/loomkv/internal/monitoring"
	"github.com/loomkv/loomkv/internal/syncproto"
	"github.com/loomkv/loomkv/internal/tracing"
	"github.com/loomkv/loomkv/internal/types"
)

// RoomNotFoundCloseCode is sent when a connection names a room the
// DocumentLookup does not resolve.
const RoomNotFoundCloseCode = 4004

// DocumentLookup resolves a room name to the Document backing it. Returns
// ok=false if the room does not exist.
type DocumentLookup func(room string) (doc *crdt.Document, ok bool)

// Server is the Sync Server: a websocket upgrader (HandleWebSocket, which
// takes the room name alongside the usual handler arguments) plus
// per-room connection/awareness bookkeeping.
type Server struct {
	upgrader websocket.Upgrader
	lookup   DocumentLookup
	log      *logging.Logger
	metrics  *monitoring.Metrics

	mu    sync.Mutex
	rooms map[string]*room
}

// WithMetrics attaches m so room/connection lifecycle events and frame
// counts are observed. Optional; a Server with no metrics attached
// simply skips every observation.
func (s *Server) WithMetrics(m *monitoring.Metrics) *Server {
	s.metrics = m
	return s
}

type room struct {
	mu        sync.Mutex
	conns     map[*conn]struct{}
	awareness *Awareness
}

// conn is one connection's server-side state: the room it joined (whose
// shared awareness it updates), the document it syncs, the document-update
// listener it installed, and which awareness client ids it controls (so
// they can be cleared on close).
type conn struct {
	id                 string
	ws                 *websocket.Conn
	writeMu            sync.Mutex
	room               *room
	roomName           string
	doc                *crdt.Document
	unsubscribeDoc     func()
	controlledClientID map[string]struct{}
	metrics            *monitoring.Metrics
}

// New builds a Server that resolves rooms via lookup.
func New(lookup DocumentLookup, log *logging.Logger) *Server {
	return &Server{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		lookup:   lookup,
		log:      log,
		rooms:    map[string]*room{},
	}
}

// HandleWebSocket upgrades r and runs the connection's lifecycle for the
// named room until it closes.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request, roomName string) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.serve(ws, roomName)
}

func (s *Server) serve(ws *websocket.Conn, roomName string) {
	doc, ok := s.lookup(roomName)
	if !ok {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(RoomNotFoundCloseCode, fmt.Sprintf("Room not found: %s", roomName)),
			time.Now().Add(time.Second))
		ws.Close()
		return
	}

	c := &conn{
		id:                 uuid.NewString(),
		ws:                 ws,
		roomName:           roomName,
		doc:                doc,
		controlledClientID: map[string]struct{}{},
		metrics:            s.metrics,
	}
	rm := s.joinRoom(roomName)
	c.room = rm

	rm.mu.Lock()
	rm.conns[c] = struct{}{}
	rm.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ActiveConnections.Inc()
	}

	c.unsubscribeDoc = doc.OnUpdate(func(update []byte, origin crdt.Origin) {
		if origin == c {
			return
		}
		enc := syncproto.NewSyncEncoder()
		_ = enc.WriteSyncUpdate(update)
		c.send(enc.Bytes())
	})

	defer s.leave(c)

	s.sendHandshake(c)
	s.readLoop(c)
}

func (s *Server) joinRoom(name string) *room {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.rooms[name]
	if !ok {
		rm = &room{conns: map[*conn]struct{}{}, awareness: newAwareness()}
		s.rooms[name] = rm
		if s.metrics != nil {
			s.metrics.ActiveRooms.Inc()
		}
	}
	return rm
}

func (s *Server) sendHandshake(c *conn) {
	enc := syncproto.NewSyncEncoder()
	if err := enc.WriteSyncStep1(c.doc.StateVector()); err == nil {
		c.send(enc.Bytes())
	}
	if c.room.awareness.HasStates() {
		if bundle, err := c.room.awareness.Encode(); err == nil {
			aenc := syncproto.NewAwarenessEncoder()
			aenc.WriteAwareness(bundle)
			c.send(aenc.Bytes())
		}
	}
}

func (s *Server) readLoop(c *conn) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		s.dispatch(c, data)
	}
}

func (s *Server) dispatch(c *conn, frame []byte) {
	dec := syncproto.NewDecoder(frame)
	mt, err := dec.MessageType()
	if err != nil {
		s.warn("malformed frame", err)
		return
	}

	_, span := tracing.StartSpan(context.Background(), "syncserver.dispatch",
		attribute.String("room", c.roomName), attribute.Int("message_type", int(mt)))
	defer span.End()

	if s.metrics != nil {
		s.metrics.SyncFramesReceived.Inc()
	}

	switch mt {
	case types.MessageSync:
		s.handleSync(c, dec)
	case types.MessageAwareness:
		s.handleAwareness(c, dec)
	case types.MessageQueryAwareness:
		s.handleQueryAwareness(c)
	default:
		// AUTH and anything unrecognized: ignored, connection stays open.
	}
}

func (s *Server) handleSync(c *conn, dec *syncproto.Decoder) {
	sub, err := dec.SyncSubType()
	if err != nil {
		s.warn("malformed sync sub-message", err)
		return
	}
	reply := syncproto.NewSyncEncoder()
	switch sub {
	case types.SyncStep1: // peer's state vector, reply with our diff
		sv, err := dec.StateVector()
		if err != nil {
			s.warn("malformed state vector", err)
			return
		}
		update, err := c.doc.Diff(sv)
		if err == nil {
			_ = reply.WriteSyncStep2(update)
		}
	case types.SyncStep2, types.SyncUpdate: // apply to our document
		update, err := dec.Update()
		if err != nil {
			s.warn("malformed sync update", err)
			return
		}
		c.doc.Transact(c, func(txn *crdt.Txn) {
			if err := c.doc.ApplyUpdate(txn, update); err != nil {
				s.warn("apply update failed", err)
			}
		})
	}
	if reply.HasBody() {
		c.send(reply.Bytes())
	}
}

func (s *Server) handleAwareness(c *conn, dec *syncproto.Decoder) {
	raw, err := dec.Awareness()
	if err != nil {
		s.warn("malformed awareness frame", err)
		return
	}
	clientIDs, removed, err := c.room.awareness.ApplyUpdate(raw)
	if err != nil {
		s.warn("malformed awareness payload", err)
		return
	}
	for _, id := range clientIDs {
		c.controlledClientID[id] = struct{}{}
	}
	for _, id := range removed {
		delete(c.controlledClientID, id)
	}
	s.broadcastExcept(c, rebuildAwarenessFrame(raw))
}

func rebuildAwarenessFrame(raw []byte) []byte {
	enc := syncproto.NewAwarenessEncoder()
	enc.WriteAwareness(raw)
	return enc.Bytes()
}

// removalAwarenessFrame builds an AWARENESS frame setting every id in ids
// to null, mirroring the bundle shape ApplyUpdate expects so other peers
// drop those ids the same way they would from a live removal update.
func removalAwarenessFrame(ids []string) ([]byte, error) {
	bundle := make(map[string]json.RawMessage, len(ids))
	for _, id := range ids {
		bundle[id] = json.RawMessage("null")
	}
	raw, err := json.Marshal(bundle)
	if err != nil {
		return nil, err
	}
	return rebuildAwarenessFrame(raw), nil
}

func (s *Server) handleQueryAwareness(c *conn) {
	if !c.room.awareness.HasStates() {
		return
	}
	bundle, err := c.room.awareness.Encode()
	if err != nil {
		return
	}
	enc := syncproto.NewAwarenessEncoder()
	enc.WriteAwareness(bundle)
	c.send(enc.Bytes())
}

func (s *Server) broadcastExcept(sender *conn, frame []byte) {
	sender.room.mu.Lock()
	targets := make([]*conn, 0, len(sender.room.conns))
	for other := range sender.room.conns {
		if other != sender {
			targets = append(targets, other)
		}
	}
	sender.room.mu.Unlock()
	for _, t := range targets {
		t.send(frame)
	}
}

func (s *Server) leave(c *conn) {
	if c.unsubscribeDoc != nil {
		c.unsubscribeDoc()
	}
	ids := make([]string, 0, len(c.controlledClientID))
	for id := range c.controlledClientID {
		ids = append(ids, id)
	}
	c.room.awareness.Remove(ids)
	if len(ids) > 0 {
		if frame, err := removalAwarenessFrame(ids); err != nil {
			s.warn("failed to encode awareness removal", err)
		} else {
			s.broadcastExcept(c, frame)
		}
	}

	c.room.mu.Lock()
	delete(c.room.conns, c)
	empty := len(c.room.conns) == 0
	c.room.mu.Unlock()

	if empty {
		s.mu.Lock()
		if rm, ok := s.rooms[c.roomName]; ok && rm == c.room {
			delete(s.rooms, c.roomName)
			if s.metrics != nil {
				s.metrics.ActiveRooms.Dec()
			}
		}
		s.mu.Unlock()
	}
	if s.metrics != nil {
		s.metrics.ActiveConnections.Dec()
	}
	c.ws.Close()
}

func (c *conn) send(data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.WriteMessage(websocket.BinaryMessage, data)
	if c.metrics != nil {
		c.metrics.SyncFramesSent.Inc()
	}
}

func (s *Server) warn(msg string, err error) {
	if s.log != nil {
		s.log.Warn("syncserver: " + msg, zap.Error(err))
	}
}
