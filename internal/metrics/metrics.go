package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qryptchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qryptchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Delivery pipeline metrics
	MessagesFannedOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qryptchat_messages_fanned_out_total",
			Help: "Total messages accepted and fanned out",
		},
	)

	RecipientCopiesSealed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qryptchat_recipient_copies_sealed_total",
			Help: "Total per-recipient ciphertext copies produced",
		},
	)

	FanoutFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qryptchat_fanout_failures_total",
			Help: "Total sends rolled back before any copy persisted",
		},
	)

	// Broadcast router metrics
	OpenConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qryptchat_open_connections",
			Help: "Currently registered client connections",
		},
	)

	BroadcastsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qryptchat_broadcasts_delivered_total",
			Help: "Envelopes enqueued to connections",
		},
	)

	BroadcastsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qryptchat_broadcasts_dropped_total",
			Help: "Connections dropped for failing to keep up with broadcasts",
		},
	)

	// Expiry sweeper metrics
	SweepTombstoned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qryptchat_sweep_tombstoned_total",
			Help: "Deliveries tombstoned as expired",
		},
	)

	SweepReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qryptchat_sweep_reclaimed_total",
			Help: "Messages garbage-collected",
		},
	)

	SweepErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qryptchat_sweep_errors_total",
			Help: "Row-level failures skipped during sweeps",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qryptchat_sweep_duration_seconds",
			Help:    "Wall time of one full sweep",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5},
		},
	)

	// Ledger metrics
	DeliveriesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qryptchat_deliveries_read_total",
			Help: "Delivery rows transitioned to read",
		},
	)

	// Infrastructure metrics
	PostgresLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qryptchat_postgres_latency_seconds",
			Help:    "PostgreSQL query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
