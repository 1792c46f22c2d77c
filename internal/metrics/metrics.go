package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "safenest_connections_active",
			Help: "Currently connected clients",
		},
	)

	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safenest_connections_total",
			Help: "Total connection attempts",
		},
		[]string{"outcome"}, // "accepted", "auth_failed"
	)

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safenest_events_received_total",
			Help: "Inbound socket events by kind",
		},
		[]string{"kind"},
	)

	EventErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safenest_event_errors_total",
			Help: "Handler errors reported back to clients",
		},
		[]string{"kind", "code"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safenest_events_dropped_total",
			Help: "Inbound events rejected by the per-connection rate limit",
		},
	)

	// Messaging metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safenest_messages_sent_total",
			Help: "Messages persisted and fanned out",
		},
		[]string{"kind"}, // "text" or "image"
	)

	MessagesBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safenest_messages_blocked_total",
			Help: "Messages rejected by moderation",
		},
		[]string{"kind"},
	)

	BroadcastFanout = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "safenest_broadcast_fanout_size",
			Help:    "Recipients per room broadcast",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		},
	)

	// Moderation metrics
	ModerationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "safenest_moderation_latency_seconds",
			Help:    "Classifier round-trip latency",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"kind"},
	)

	ModerationFailOpen = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safenest_moderation_fail_open_total",
			Help: "Approvals issued because the classifier was unreachable",
		},
		[]string{"kind"},
	)

	// Guardian notifier metrics
	GuardianAlertsQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safenest_guardian_alerts_queued_total",
			Help: "Guardian alerts accepted into the queue",
		},
	)

	GuardianAlertsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safenest_guardian_alerts_dropped_total",
			Help: "Guardian alerts dropped because the queue was full",
		},
	)

	GuardianAlertFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safenest_guardian_alert_failures_total",
			Help: "Guardian alert deliveries that failed",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safenest_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "safenest_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "safenest_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	PostgresLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "safenest_postgres_latency_seconds",
			Help:    "PostgreSQL query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
