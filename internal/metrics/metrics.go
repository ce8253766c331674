package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики сервера реального времени. Регистрируются в реестре по умолчанию
// и отдаются через /metrics.
var (
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "falconwatch_websocket_connections",
			Help: "Current number of open websocket connections",
		},
	)

	WSSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "falconwatch_websocket_sessions",
			Help: "Current number of authenticated sessions",
		},
	)

	WSMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "falconwatch_websocket_messages_received_total",
			Help: "Total number of websocket messages received by type",
		},
		[]string{"type"},
	)

	WSMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "falconwatch_websocket_messages_sent_total",
			Help: "Total number of websocket messages queued for delivery by type",
		},
		[]string{"type"},
	)

	WSSlowConsumers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "falconwatch_websocket_slow_consumers_total",
			Help: "Total number of connections dropped because their send buffer was full",
		},
	)

	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "falconwatch_auth_failures_total",
			Help: "Total number of rejected session authentications by reason",
		},
		[]string{"reason"},
	)

	IncidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "falconwatch_incidents_created_total",
			Help: "Total number of incidents created by severity",
		},
		[]string{"severity"},
	)

	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "falconwatch_webhook_deliveries_total",
			Help: "Total number of escalation webhook delivery outcomes",
		},
		[]string{"outcome"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "falconwatch_http_request_duration_seconds",
			Help:    "Duration of REST requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
