// Package metrics provides Prometheus metrics for the drivewatch watcher.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RemoteCalls counts Drive API calls by operation and outcome
	RemoteCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivewatch_remote_calls_total",
			Help: "Total number of remote store API calls",
		},
		[]string{"op", "status"},
	)

	// Poll cycle metrics
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivewatch_cycles_total",
			Help: "Total number of poll cycles",
		},
		[]string{"status"},
	)

	cycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drivewatch_cycle_duration_seconds",
			Help:    "Wall-clock duration of a poll cycle",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	cursorTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drivewatch_cursor_timestamp_seconds",
			Help: "Current cursor of a watched root as a unix timestamp",
		},
		[]string{"root"},
	)

	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivewatch_events_total",
			Help: "Total change events emitted",
		},
		[]string{"type"},
	)

	// Listing metrics
	pagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drivewatch_listing_pages_total",
			Help: "Total listing pages fetched by the scanner",
		},
	)

	foldersVisited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drivewatch_folders_visited_total",
			Help: "Total folders visited by the tree walker",
		},
	)

	// Ancestor resolution metrics
	ancestorLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivewatch_ancestor_lookups_total",
			Help: "Ancestor name lookups by result (hit, miss, fallback)",
		},
		[]string{"result"},
	)

	// Sink metrics
	sinkDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivewatch_sink_deliveries_total",
			Help: "Events handed to a sink by outcome",
		},
		[]string{"sink", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCycle records the outcome and duration of a poll cycle.
func RecordCycle(success bool, duration time.Duration) {
	status := "ok"
	if !success {
		status = "error"
	}
	cyclesTotal.WithLabelValues(status).Inc()
	cycleDuration.Observe(duration.Seconds())
}

// SetCursor publishes the cursor of a watched root.
func SetCursor(rootID string, cursor time.Time) {
	cursorTimestamp.WithLabelValues(rootID).Set(float64(cursor.UnixNano()) / 1e9)
}

// RecordEvent records one emitted change event.
func RecordEvent(eventType string) {
	eventsTotal.WithLabelValues(eventType).Inc()
}

// RecordPage records one fetched listing page.
func RecordPage() {
	pagesTotal.Inc()
}

// RecordFolderVisit records one folder visited during a walk.
func RecordFolderVisit() {
	foldersVisited.Inc()
}

// RecordAncestorLookup records a resolver lookup result: "hit", "miss" or "fallback".
func RecordAncestorLookup(result string) {
	ancestorLookups.WithLabelValues(result).Inc()
}

// RecordSinkDelivery records an event delivery attempt to a sink.
func RecordSinkDelivery(sink string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	sinkDeliveries.WithLabelValues(sink, status).Inc()
}
