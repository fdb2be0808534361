// Package monitoring wires the ambient stack's metrics concern: counters
// and histograms around room occupancy, KVLog mutation throughput, and
// sync frame traffic, exported via Prometheus.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every gauge/counter/histogram this process exports.
// Registered against a caller-supplied Registerer rather than the global
// default so tests (and multiple Workspace Clients in one process) can
// each build their own without a duplicate-registration panic.
type Metrics struct {
	KVLogSets           prometheus.Counter
	KVLogDeletes        prometheus.Counter
	RowUpserts          prometheus.Counter
	SyncFramesSent      prometheus.Counter
	SyncFramesReceived  prometheus.Counter
	SyncFrameLatency    prometheus.Histogram
	ActiveConnections   prometheus.Gauge
	ActiveRooms         prometheus.Gauge
	ReconnectAttempts   prometheus.Counter
	PersistenceWrites   prometheus.Counter
	PersistenceWriteErr prometheus.Counter
}

// NewMetrics builds Metrics registered against reg. Pass
// prometheus.NewRegistry() in tests; pass prometheus.DefaultRegisterer
// in production to expose the usual /metrics endpoint.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		KVLogSets: factory.NewCounter(prometheus.CounterOpts{
			Name: "loomkv_kvlog_sets_total",
			Help: "Total number of KVLog Set operations.",
		}),
		KVLogDeletes: factory.NewCounter(prometheus.CounterOpts{
			Name: "loomkv_kvlog_deletes_total",
			Help: "Total number of KVLog Delete operations.",
		}),
		RowUpserts: factory.NewCounter(prometheus.CounterOpts{
			Name: "loomkv_row_upserts_total",
			Help: "Total number of Table row upserts.",
		}),
		SyncFramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "loomkv_sync_frames_sent_total",
			Help: "Total number of sync protocol frames sent.",
		}),
		SyncFramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "loomkv_sync_frames_received_total",
			Help: "Total number of sync protocol frames received.",
		}),
		SyncFrameLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "loomkv_sync_frame_latency_seconds",
			Help:    "Time to handle one sync protocol frame.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10),
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loomkv_active_connections",
			Help: "Number of currently open sync server connections.",
		}),
		ActiveRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loomkv_active_rooms",
			Help: "Number of currently occupied sync server rooms.",
		}),
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "loomkv_sync_client_reconnect_attempts_total",
			Help: "Total number of Sync Client reconnect attempts.",
		}),
		PersistenceWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "loomkv_persistence_writes_total",
			Help: "Total number of persistence store writes.",
		}),
		PersistenceWriteErr: factory.NewCounter(prometheus.CounterOpts{
			Name: "loomkv_persistence_write_errors_total",
			Help: "Total number of persistence store write failures.",
		}),
	}
}
