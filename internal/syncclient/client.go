// Package syncclient implements the Sync Client Provider: a long-lived
// outbound peer that connects to a named room URL, runs the sync
// handshake, relays local document updates upstream, applies updates
// from the server tagged with itself as origin so they are not relayed
// back, and reconnects with bounded exponential backoff on
// transport loss. Follows a dial/handshake/per-connection-read-loop/
// reconnect-on-drop shape, adapted to gorilla/websocket framing
// (see DESIGN.md).
package syncclient

import (
	"context"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/loomkv/loomkv/internal/crdt"
	"github.com/loomkv/loomkv/internal/logging"
	"github.com/loomkv/loomkv/internal/syncproto"
	"github.com/loomkv/loomkv/internal/types"
)

// Backoff policy: exponential
// starting at 200ms, doubling, capped at 30s, with +/-20% jitter, so a
// persistently unreachable server is retried without storming it.
const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// Client is a reconnecting outbound peer for one room.
type Client struct {
	url  string
	doc  *crdt.Document
	log  *logging.Logger
	dial func(url string) (*websocket.Conn, error)

	synced     chan struct{}
	syncedOnce sync.Once

	stop      chan struct{}
	stopWg    sync.WaitGroup
	closeOnce sync.Once

	relayMu    sync.Mutex
	activeConn *websocket.Conn

	writeMu sync.Mutex

	unsubscribeDoc func()
}

// New builds a Client that will, once Start is called, maintain a
// connection to wsURL and keep doc synced with it.
func New(wsURL string, doc *crdt.Document, log *logging.Logger) *Client {
	return &Client{
		url:    wsURL,
		doc:    doc,
		log:    log,
		dial:   defaultDial,
		synced: make(chan struct{}),
		stop:   make(chan struct{}),
	}
}

func defaultDial(wsURL string) (*websocket.Conn, error) {
	if _, err := url.Parse(wsURL); err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	return conn, err
}

// WhenSynced resolves once the first sync round-trip with the server
// completes.
func (c *Client) WhenSynced() <-chan struct{} {
	return c.synced
}

// Start launches the connect-handshake-relay-reconnect loop in the
// background. Call Close to stop it.
func (c *Client) Start(ctx context.Context) {
	c.unsubscribeDoc = c.doc.OnUpdate(func(update []byte, origin crdt.Origin) {
		if origin == c {
			return
		}
		c.relayMu.Lock()
		conn := c.activeConn
		c.relayMu.Unlock()
		if conn == nil {
			return
		}
		enc := syncproto.NewSyncEncoder()
		_ = enc.WriteSyncUpdate(update)
		c.writeTo(conn, enc.Bytes())
	})

	c.stopWg.Add(1)
	go c.run(ctx)
}

// run is the reconnect loop: dial, run the session to completion, back
// off, repeat, until ctx is cancelled or Close is called.
func (c *Client) run(ctx context.Context) {
	defer c.stopWg.Done()
	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		default:
		}

		conn, err := c.dial(c.url)
		if err != nil {
			if !c.sleep(ctx, jitter(backoff)) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = initialBackoff
		c.setActiveConn(conn)
		c.session(ctx, conn)
		c.setActiveConn(nil)
		conn.Close()

		if !c.sleep(ctx, jitter(backoff)) {
			return
		}
	}
}

func (c *Client) setActiveConn(conn *websocket.Conn) {
	c.relayMu.Lock()
	c.activeConn = conn
	c.relayMu.Unlock()
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * 0.2
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.stop:
		return false
	}
}

// session runs one connection's read loop: sends our state vector, then
// processes frames until the connection drops.
func (c *Client) session(ctx context.Context, conn *websocket.Conn) {
	enc := syncproto.NewSyncEncoder()
	if err := enc.WriteSyncStep1(c.doc.StateVector()); err == nil {
		c.writeTo(conn, enc.Bytes())
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		default:
		}
		c.handle(conn, data)
	}
}

func (c *Client) handle(conn *websocket.Conn, frame []byte) {
	dec := syncproto.NewDecoder(frame)
	mt, err := dec.MessageType()
	if err != nil {
		c.warn("malformed frame", err)
		return
	}
	if mt != types.MessageSync { // only MessageSync carries data this client acts on
		return
	}
	sub, err := dec.SyncSubType()
	if err != nil {
		c.warn("malformed sync sub-message", err)
		return
	}
	switch sub {
	case types.SyncStep1: // from server: reply with our diff
		sv, err := dec.StateVector()
		if err != nil {
			c.warn("malformed state vector", err)
			return
		}
		update, err := c.doc.Diff(sv)
		if err != nil {
			return
		}
		enc := syncproto.NewSyncEncoder()
		if err := enc.WriteSyncStep2(update); err == nil && enc.HasBody() {
			c.writeTo(conn, enc.Bytes())
		}
	case types.SyncStep2, types.SyncUpdate: // apply, then signal first-sync readiness
		update, err := dec.Update()
		if err != nil {
			c.warn("malformed sync update", err)
			return
		}
		c.doc.Transact(c, func(txn *crdt.Txn) {
			if err := c.doc.ApplyUpdate(txn, update); err != nil {
				c.warn("apply update failed", err)
			}
		})
		c.markSynced()
	}
}

func (c *Client) markSynced() {
	c.syncedOnce.Do(func() { close(c.synced) })
}

func (c *Client) writeTo(conn *websocket.Conn, data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *Client) warn(msg string, err error) {
	if c.log != nil {
		c.log.Warn("syncclient: "+msg, zap.Error(err))
	}
}

// Close detaches the document listener and stops the reconnect loop,
// closing the active connection if any. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.unsubscribeDoc != nil {
			c.unsubscribeDoc()
		}
		close(c.stop)
		c.relayMu.Lock()
		conn := c.activeConn
		c.relayMu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
	c.stopWg.Wait()
}
