package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Notifications persisted, by type and priority.
	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Total number of notifications persisted",
		},
		[]string{"type", "priority"},
	)

	// Lifecycle transitions applied by users or maintenance.
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_status_transitions_total",
			Help: "Total number of applied notification status transitions",
		},
		[]string{"to"},
	)

	// Realtime envelopes accepted by the dispatcher.
	DeliveryEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_delivery_enqueued_total",
			Help: "Realtime events accepted for delivery",
		},
		[]string{"kind"},
	)

	// Realtime envelopes dropped (queue or session buffer full).
	DeliveryDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_delivery_dropped_total",
			Help: "Realtime events dropped before reaching a session",
		},
		[]string{"reason"},
	)

	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_delivery_failures_total",
			Help: "Realtime delivery errors, logged and never surfaced to callers",
		},
		[]string{"stage"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notification_ws_sessions",
			Help: "Currently subscribed realtime sessions on this instance",
		},
	)

	CleanupAffected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_cleanup_affected_total",
			Help: "Notifications removed or archived by maintenance",
		},
		[]string{"action"},
	)

	DomainEventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_domain_events_total",
			Help: "Domain events consumed from the broker, by outcome",
		},
		[]string{"kind", "outcome"},
	)

	// MQ consume latency in milliseconds.
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"routing_key", "queue"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation"},
	)

	SlowQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_queries_total",
			Help: "Queries slower than the configured threshold",
		},
		[]string{"sql"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)
)

func IncrementCreated(notificationType, priority string) {
	NotificationsCreated.WithLabelValues(notificationType, priority).Inc()
}

func IncrementTransition(to string, n int) {
	StatusTransitions.WithLabelValues(to).Add(float64(n))
}

func IncrementDeliveryEnqueued(kind string) {
	DeliveryEnqueued.WithLabelValues(kind).Inc()
}

func IncrementDeliveryDropped(reason string) {
	DeliveryDropped.WithLabelValues(reason).Inc()
}

func IncrementDeliveryFailure(stage string) {
	DeliveryFailures.WithLabelValues(stage).Inc()
}

func AddCleanupAffected(action string, n int64) {
	CleanupAffected.WithLabelValues(action).Add(float64(n))
}

func IncrementDomainEvent(kind, outcome string) {
	DomainEventsHandled.WithLabelValues(kind, outcome).Inc()
}

// RecordMQConsumeLatency records how long a broker message took to handle.
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

func RecordDBQueryDuration(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func IncrementSlowQuery(sql string, _ time.Duration) {
	SlowQueries.WithLabelValues(sql).Inc()
}

// RecordHTTPRequestDuration records one served HTTP request.
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
