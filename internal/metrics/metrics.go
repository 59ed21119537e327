package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Relay metrics
	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_rooms_active",
			Help: "Rooms currently registered",
		},
	)

	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_rooms_created_total",
			Help: "Total rooms created",
		},
	)

	RoomsRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rooms_removed_total",
			Help: "Total rooms removed",
		},
		[]string{"reason"}, // "closed" or "expired"
	)

	CommandsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_commands_sent_total",
			Help: "Total commands appended to room queues",
		},
	)

	CommandsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_commands_delivered_total",
			Help: "Total commands drained from room queues",
		},
		[]string{"transport"}, // "http", "grpc" or "ws"
	)

	CommandsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_commands_rejected_total",
			Help: "Total commands not accepted",
		},
		[]string{"reason"},
	)

	CommandsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_commands_dropped_total",
			Help: "Commands discarded by the drop_oldest overflow policy",
		},
	)

	DrainBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_drain_batch_size",
			Help:    "Commands returned per non-empty drain",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 500},
		},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"route"},
	)

	AuditFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_audit_failures_total",
			Help: "Room audit events that could not be written",
		},
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_ws_connections",
			Help: "Open push-delivery websocket connections",
		},
	)
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
