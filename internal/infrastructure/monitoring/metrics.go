package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Lookup outcomes recorded by the fetch interceptor
const (
	OutcomeHit     = "hit"
	OutcomeMiss    = "miss"
	OutcomeOffline = "offline"
	OutcomeBypass  = "bypass"
	OutcomeError   = "error"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Cache metrics
	CacheLookups   *prometheus.CounterVec
	CacheStores    *prometheus.CounterVec
	BucketsDeleted prometheus.Counter

	// Lifecycle metrics
	Transitions   *prometheus.CounterVec
	EventDuration *prometheus.HistogramVec

	// Upstream metrics
	UpstreamFetches  *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	BreakerState     *prometheus.GaugeVec

	// Client metrics
	Clients prometheus.Gauge
}

// NewMetrics registers all metrics on reg. A nil reg gets a fresh registry
// so tests can build as many collectors as they like.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shellcache_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shellcache_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),

		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shellcache_cache_lookups_total",
				Help: "Intercepted requests by outcome",
			},
			[]string{"outcome"},
		),
		CacheStores: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shellcache_cache_stores_total",
				Help: "Entries written to the current bucket",
			},
			[]string{"status"},
		),
		BucketsDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shellcache_buckets_deleted_total",
				Help: "Stale buckets removed during activation",
			},
		),

		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shellcache_lifecycle_transitions_total",
				Help: "Worker lifecycle transitions by target state",
			},
			[]string{"version", "state"},
		),
		EventDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shellcache_event_duration_seconds",
				Help:    "Agent event handler duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"event", "status"},
		),

		UpstreamFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shellcache_upstream_fetches_total",
				Help: "Network fetches by host and status",
			},
			[]string{"host", "status"},
		),
		UpstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shellcache_upstream_duration_seconds",
				Help:    "Network fetch duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"host"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shellcache_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),

		Clients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "shellcache_clients",
				Help: "Connected page clients",
			},
		),
	}
}

// Registry returns the registry the metrics live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the registry in Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records one served HTTP request
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordLookup records the outcome of one intercepted request
func (m *Metrics) RecordLookup(outcome string) {
	m.CacheLookups.WithLabelValues(outcome).Inc()
}

// RecordStore records one write to the current bucket
func (m *Metrics) RecordStore(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.CacheStores.WithLabelValues(status).Inc()
}

// RecordBucketDeleted records one stale bucket removal
func (m *Metrics) RecordBucketDeleted() {
	m.BucketsDeleted.Inc()
}

// RecordTransition records a worker entering state
func (m *Metrics) RecordTransition(version, state string) {
	m.Transitions.WithLabelValues(version, state).Inc()
}

// RecordUpstream records one network fetch. status is 0 on transport errors.
func (m *Metrics) RecordUpstream(host string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.UpstreamFetches.WithLabelValues(host, label).Inc()
	m.UpstreamDuration.WithLabelValues(host).Observe(duration.Seconds())
}

// SetBreakerState publishes a breaker's state
func (m *Metrics) SetBreakerState(name string, state int) {
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// SetClients publishes the number of connected clients
func (m *Metrics) SetClients(n int) {
	m.Clients.Set(float64(n))
}
