package syncclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loomkv/loomkv/internal/crdt"
	"github.com/loomkv/loomkv/internal/kvlog"
	"github.com/loomkv/loomkv/internal/syncserver"
)

func startTestServer(t *testing.T, docs map[string]*crdt.Document) *httptest.Server {
	t.Helper()
	srv := syncserver.New(func(room string) (*crdt.Document, bool) {
		d, ok := docs[room]
		return d, ok
	}, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/sync/", func(w http.ResponseWriter, r *http.Request) {
		room := strings.TrimPrefix(r.URL.Path, "/sync/")
		srv.HandleWebSocket(w, r, room)
	})
	return httptest.NewServer(mux)
}

func TestClientSyncsExistingServerStateOnConnect(t *testing.T) {
	serverDoc := crdt.NewDocument("ws-1", "server")
	serverLog := kvlog.New(serverDoc.Sequence("kv"), serverDoc.Clock, "server", kvlog.LWW{})
	serverDoc.Transact(nil, func(txn *crdt.Txn) {
		serverLog.Set(txn, "greeting", "hello")
	})

	ts := startTestServer(t, map[string]*crdt.Document{"ws-1": serverDoc})
	defer ts.Close()

	clientDoc := crdt.NewDocument("ws-1", "client")
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/sync/ws-1"
	c := New(wsURL, clientDoc, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Close()

	select {
	case <-c.WhenSynced():
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for WhenSynced")
	}

	clientLog := kvlog.New(clientDoc.Sequence("kv"), clientDoc.Clock, "client", kvlog.LWW{})
	got, ok := clientLog.Get("greeting")
	if !ok || got != "hello" {
		t.Fatalf("expected greeting=hello after sync, got (%v, %v)", got, ok)
	}
}

func TestClientRelaysLocalUpdatesToServer(t *testing.T) {
	serverDoc := crdt.NewDocument("ws-1", "server")
	ts := startTestServer(t, map[string]*crdt.Document{"ws-1": serverDoc})
	defer ts.Close()

	clientDoc := crdt.NewDocument("ws-1", "client")
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/sync/ws-1"
	c := New(wsURL, clientDoc, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Close()

	select {
	case <-c.WhenSynced():
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for WhenSynced")
	}

	clientLog := kvlog.New(clientDoc.Sequence("kv"), clientDoc.Clock, "client", kvlog.LWW{})
	clientDoc.Transact(clientLog, func(txn *crdt.Txn) {
		clientLog.Set(txn, "from-client", "value")
	})

	serverLog := kvlog.New(serverDoc.Sequence("kv"), serverDoc.Clock, "server", kvlog.LWW{})
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got, ok := serverLog.Get("from-client"); ok && got == "value" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("server never received the client's update")
}
