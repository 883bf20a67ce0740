package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesRelayed tracks messages delivered per route
	MessagesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_relayed_total",
			Help: "Total number of messages delivered",
		},
		[]string{"route"},
	)

	// MessagesAbandoned tracks messages given up on, by failure kind
	MessagesAbandoned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_abandoned_total",
			Help: "Total number of messages abandoned without advancing the checkpoint",
		},
		[]string{"route", "kind"},
	)

	// DeliveryFailures tracks every failed delivery attempt
	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_delivery_failures_total",
			Help: "Total number of failed delivery attempts",
		},
		[]string{"route", "kind"},
	)

	// WaitSeconds tracks time spent suspended, by reason
	WaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_wait_seconds",
			Help:    "Time spent waiting before the next call",
			Buckets: []float64{0.5, 1, 2, 3, 5, 10, 30, 60, 300, 1800, 3600},
		},
		[]string{"route", "reason"},
	)

	// DeliveryLatency tracks delivery call latency
	DeliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_delivery_latency_seconds",
			Help:    "Delivery call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Checkpoint tracks the persisted offset of each route
	Checkpoint = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_checkpoint",
			Help: "Last successfully relayed message id",
		},
		[]string{"route"},
	)

	// RouteFailures tracks route-level failures
	RouteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_route_failures_total",
			Help: "Total number of routes aborted by a route-level error",
		},
		[]string{"route"},
	)

	// StateTransitions tracks route state machine transitions
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_state_transitions_total",
			Help: "Route state machine transitions",
		},
		[]string{"route", "to"},
	)

	// DBConnectionPoolUsage tracks the percentage of open connections in use
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_db_connection_pool_usage_percent",
			Help: "Open connections as a percentage of the pool limit",
		},
	)
)
