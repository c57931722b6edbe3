// Package metrics provides Prometheus metrics for the hubwatch runtime.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	sessionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hubwatch_session_state",
			Help: "1 for the session's current lifecycle state, 0 otherwise",
		},
		[]string{"state"},
	)

	// Directory metrics
	directorySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hubwatch_directory_terminals",
			Help: "Number of terminals in the directory index",
		},
	)

	directoryAddsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubwatch_directory_adds_total",
			Help: "Directory insertions by source",
		},
		[]string{"source"},
	)

	directoryEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hubwatch_directory_events_dropped_total",
			Help: "Live directory events dropped because of malformed payloads",
		},
	)

	// Tree metrics
	subtreeFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hubwatch_subtree_fetch_duration_seconds",
			Help:    "Subtree query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	subtreeFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubwatch_subtree_fetches_total",
			Help: "Subtree queries by outcome (merged, discarded, error)",
		},
		[]string{"outcome"},
	)

	// Connection registry metrics
	connectionsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hubwatch_connections",
			Help: "Transport connections known to the registry",
		},
		[]string{"state"},
	)

	connectionEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubwatch_connection_events_dropped_total",
			Help: "Connection records the registry could not apply, by reason",
		},
		[]string{"reason"},
	)

	dnsLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubwatch_dns_lookups_total",
			Help: "Remote host name lookups",
		},
		[]string{"status"},
	)

	// Hub client metrics
	hubRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hubwatch_hub_request_duration_seconds",
			Help:    "Hub gateway request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	hubRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubwatch_hub_requests_total",
			Help: "Hub gateway requests",
		},
		[]string{"endpoint", "status"},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubwatch_sse_events_total",
			Help: "Change events received from the hub gateway",
		},
		[]string{"type"},
	)

	// Snapshot metrics
	snapshotDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hubwatch_snapshot_duration_seconds",
			Help:    "Snapshot export duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)

	snapshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubwatch_snapshots_total",
			Help: "Snapshot exports",
		},
		[]string{"sink", "status"},
	)
)

var sessionStates = []string{"connecting", "connected", "connection_lost", "connection_failed"}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetSessionState marks state as the current session state.
func SetSessionState(state string) {
	for _, s := range sessionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		sessionState.WithLabelValues(s).Set(v)
	}
}

// SetDirectorySize sets the number of indexed terminals.
func SetDirectorySize(n int) {
	directorySize.Set(float64(n))
}

// RecordDirectoryAdd records an insertion from a source ("bulk" or "live").
func RecordDirectoryAdd(source string) {
	directoryAddsTotal.WithLabelValues(source).Inc()
}

// RecordDirectoryEventDropped records a dropped live event.
func RecordDirectoryEventDropped() {
	directoryEventsDropped.Inc()
}

// RecordSubtreeFetch records a subtree query and what happened to its result.
func RecordSubtreeFetch(outcome string, duration time.Duration) {
	subtreeFetchDuration.Observe(duration.Seconds())
	subtreeFetchesTotal.WithLabelValues(outcome).Inc()
}

// SetConnections sets connected/disconnected connection counts.
func SetConnections(connected, disconnected int) {
	connectionsGauge.WithLabelValues("connected").Set(float64(connected))
	connectionsGauge.WithLabelValues("disconnected").Set(float64(disconnected))
}

// RecordConnectionDropped records a connection record that was not applied.
func RecordConnectionDropped(reason string) {
	connectionEventsDropped.WithLabelValues(reason).Inc()
}

// RecordDNSLookup records a name lookup.
func RecordDNSLookup(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	dnsLookupsTotal.WithLabelValues(status).Inc()
}

// RecordHubRequest records a hub gateway request.
func RecordHubRequest(endpoint string, duration time.Duration, success bool) {
	hubRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	hubRequestsTotal.WithLabelValues(endpoint, status).Inc()
}

// RecordSSEEvent records a received change event.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordSnapshot records a snapshot export.
func RecordSnapshot(sink string, duration time.Duration, success bool) {
	snapshotDuration.WithLabelValues(sink).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	snapshotsTotal.WithLabelValues(sink, status).Inc()
}
