// Package metrics provides Prometheus metrics collection for agentmeter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for agentmeter.
type Collector struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Ingestion metrics
	EventsIngested  *prometheus.CounterVec
	IngestFailures  *prometheus.CounterVec
	TokensRecorded  *prometheus.CounterVec
	CostRecordedUSD *prometheus.CounterVec

	// Auth metrics
	AuthFailures *prometheus.CounterVec

	// Dashboard metrics
	SnapshotRebuilds  *prometheus.CounterVec
	FeedSubscribers   prometheus.Gauge
	FeedEventsDropped prometheus.Counter

	// Config metrics
	ConfigReloads    prometheus.Counter
	ConfigLastReload prometheus.Gauge
}

// New creates a metrics collector registered on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a metrics collector on a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentmeter",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "agentmeter",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agentmeter",
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),

		EventsIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentmeter",
				Name:      "events_ingested_total",
				Help:      "Total usage events accepted",
			},
			[]string{"agent_type", "provider"},
		),
		IngestFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentmeter",
				Name:      "ingest_failures_total",
				Help:      "Total usage events rejected",
			},
			[]string{"reason"},
		),
		TokensRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentmeter",
				Name:      "tokens_recorded_total",
				Help:      "Total tokens recorded across ingested events",
			},
			[]string{"agent_type"},
		),
		CostRecordedUSD: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentmeter",
				Name:      "cost_recorded_usd_total",
				Help:      "Total cost in USD recorded across ingested events",
			},
			[]string{"agent_type"},
		),

		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentmeter",
				Name:      "auth_failures_total",
				Help:      "Total number of API key validation failures",
			},
			[]string{"reason"},
		),

		SnapshotRebuilds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentmeter",
				Name:      "snapshot_rebuilds_total",
				Help:      "Total full dashboard snapshot rebuilds",
			},
			[]string{"reason"},
		),
		FeedSubscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agentmeter",
				Name:      "feed_subscribers",
				Help:      "Number of open live dashboard subscriptions",
			},
		),
		FeedEventsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentmeter",
				Name:      "feed_events_dropped_total",
				Help:      "Total live feed events dropped for slow subscribers",
			},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentmeter",
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agentmeter",
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}
