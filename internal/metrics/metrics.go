package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TelemetryReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gamebeat_telemetry_received_total",
		Help: "Total number of telemetry records published to the feed, labelled by kind (event, info).",
	}, []string{"kind"})

	TelemetryDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gamebeat_telemetry_dropped_total",
		Help: "Total number of telemetry records dropped because a subscriber buffer was full.",
	})

	EventsNormalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gamebeat_events_normalized_total",
		Help: "Total number of telemetry records mapped to a canonical event, labelled by key.",
	}, []string{"event"})

	EventsUnrecognized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gamebeat_events_unrecognized_total",
		Help: "Total number of telemetry records that did not map to a canonical event.",
	})

	EventsGated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gamebeat_events_gated_total",
		Help: "Total number of events skipped before evaluation, labelled by key and reason.",
	}, []string{"event", "reason"})

	RuleDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gamebeat_rule_decisions_total",
		Help: "Total number of rule engine decisions, labelled by key and outcome.",
	}, []string{"event", "outcome"})

	DispatchTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gamebeat_dispatch_tasks_total",
		Help: "Total number of dispatch task attempts, labelled by operation and status.",
	}, []string{"operation", "status"})

	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gamebeat_dispatch_duration_ms",
		Help:    "Duration of a single dispatch task attempt in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})

	DispatchQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gamebeat_dispatch_queue_depth",
		Help: "Current number of tasks waiting in the dispatch queue.",
	})

	ConfigReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gamebeat_config_reloads_total",
		Help: "Total number of configuration reloads, labelled by status (applied, rejected).",
	}, []string{"status"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gamebeat_http_requests_total",
		Help: "Total number of HTTP requests served, labelled by route pattern and status code.",
	}, []string{"route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gamebeat_http_request_duration_ms",
		Help:    "HTTP request latency in milliseconds, labelled by route pattern.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"route"})
)
