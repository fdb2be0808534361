// Command syncd runs the Sync Server: one websocket endpoint serving
// every workspace room, backed by a Persistence Store and instrumented
// with the ambient logging/tracing/metrics stack.
package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/loomkv/loomkv/internal/config"
	"github.com/loomkv/loomkv/internal/crdt"
	"github.com/loomkv/loomkv/internal/logging"
	"github.com/loomkv/loomkv/internal/monitoring"
	"github.com/loomkv/loomkv/internal/persistence"
	"github.com/loomkv/loomkv/internal/syncserver"
	"github.com/loomkv/loomkv/internal/tracing"
	"github.com/loomkv/loomkv/internal/workspace"
)

// roomRegistry lazily constructs one Workspace Client per room name,
// backed by a FileStore rooted at cfg.Persistence.DataDir/<room>, and
// resolves syncserver's DocumentLookup against it.
type roomRegistry struct {
	cfg *config.Config
	log *logging.Logger

	mu      sync.Mutex
	clients map[string]*workspace.Client
}

func newRoomRegistry(cfg *config.Config, log *logging.Logger) *roomRegistry {
	return &roomRegistry{cfg: cfg, log: log, clients: map[string]*workspace.Client{}}
}

func (r *roomRegistry) lookup(room string) (*crdt.Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[room]; ok {
		return c.Document(), true
	}

	store, err := persistence.NewFileStore(filepath.Join(r.cfg.Persistence.DataDir, room), r.log)
	if err != nil {
		r.log.Error("syncd: open persistence store", zap.Error(err))
		return nil, false
	}

	c := workspace.New(workspace.Options{
		ID:         room,
		Epoch:      "0",
		Extensions: []workspace.ExtensionFactory{workspace.PersistenceExtension(store)},
		Log:        r.log,
	})
	r.clients[room] = c
	return c.Document(), true
}

func main() {
	cfg := config.Load()

	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		os.Stderr.WriteString("syncd: init logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint)
		if err != nil {
			logger.Warn("syncd: tracing disabled, init failed", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
		}
	}

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)

	registry := newRoomRegistry(cfg, logger)
	srv := syncserver.New(registry.lookup, logger).WithMetrics(metrics)

	mux := http.NewServeMux()
	mux.HandleFunc("/sync/", func(w http.ResponseWriter, r *http.Request) {
		room := strings.TrimPrefix(r.URL.Path, "/sync/")
		if room == "" {
			http.Error(w, "room name required", http.StatusBadRequest)
			return
		}
		srv.HandleWebSocket(w, r, room)
	})
	mux.Handle("/metrics", promhttp.Handler())

	logger.Sugar().Infof("syncd: listening on %s", cfg.Server.ListenAddr)
	if err := http.ListenAndServe(cfg.Server.ListenAddr, mux); err != nil {
		logger.Sugar().Fatalf("syncd: server exited: %v", err)
	}
}
