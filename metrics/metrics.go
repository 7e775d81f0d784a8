// Package metrics defines the Prometheus collectors for dbbridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbbridge_connection_attempts_total",
			Help: "Total number of connection attempts",
		},
		[]string{"db_type", "result"},
	)

	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dbbridge_reconnects_total",
			Help: "Total number of automatic reconnect attempts after a failed operation",
		},
	)

	QueriesExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbbridge_queries_executed_total",
			Help: "Total number of queries executed through the pool",
		},
		[]string{"db_type"},
	)

	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbbridge_query_duration_seconds",
			Help:    "Time taken to execute queries",
			Buckets: prometheus.DefBuckets,
		},
	)

	ActiveTunnels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dbbridge_active_ssh_tunnels",
			Help: "Number of currently open SSH tunnels",
		},
	)

	TunnelBytesCopied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbbridge_tunnel_bytes_copied_total",
			Help: "Bytes forwarded through SSH tunnels",
		},
		[]string{"direction"},
	)

	SchemaCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dbbridge_schema_cache_hits_total",
			Help: "Schema overview requests served from the cache",
		},
	)
)
