package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Websocket metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_ws_connections_active",
			Help: "Websocket connections currently streaming",
		},
	)

	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_ws_rejections_total",
			Help: "Websocket connections closed during authorization",
		},
		[]string{"reason"},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_frames_dropped_total",
			Help: "Inbound frames or outbound messages skipped after an error",
		},
		[]string{"reason"}, // "decode", "persist", "encode", "slow_consumer"
	)

	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_messages_persisted_total",
			Help: "Messages appended to the store",
		},
	)

	// Fan-out metrics
	RoomDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_room_deliveries_total",
			Help: "Messages queued to room subscribers",
		},
	)

	FeedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_feed_events_total",
			Help: "Change feed events by outcome",
		},
		[]string{"outcome"}, // "published", "duplicate", "malformed"
	)

	FeedEmitFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_feed_emit_failures_total",
			Help: "Persisted messages that could not be emitted to the change feed after retries",
		},
	)

	FeedRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_feed_restarts_total",
			Help: "Change feed resubscriptions after a failure",
		},
	)
)
