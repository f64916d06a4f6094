// Package monitoring exposes Prometheus metrics for the API and the
// document store client.
package monitoring

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verse_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verse_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	StoreWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verse_store_writes_total",
			Help: "Total number of document store writes",
		},
		[]string{"op"},
	)

	StoreConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "verse_store_update_conflicts_total",
			Help: "Atomic update attempts retried after a write conflict",
		},
	)

	LiveFeedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "verse_live_feed_clients",
			Help: "Connected live feed websocket clients",
		},
	)
)

var registered = false

// Register installs all collectors into the default registry. Safe to
// call once from the composition root; tests skip it.
func Register() {
	if registered {
		return
	}
	registered = true
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		StoreWrites,
		StoreConflicts,
		LiveFeedClients,
	)
}
