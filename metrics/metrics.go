package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the ingest bridge's Prometheus metrics. Each Registry owns
// its own prometheus.Registry so tests can build as many as they like.
type Registry struct {
	reg *prometheus.Registry

	// HTTP
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Ingest
	ListingsIngested *prometheus.CounterVec // outcome: saved, existing, invalid, failed
	IngestDuration   prometheus.Histogram

	// Upstream API
	UpstreamRequests *prometheus.CounterVec // endpoint, status
	TokenRefreshes   prometheus.Counter
	TokenCacheHits   prometheus.Counter

	// Runs
	RunsTotal   *prometheus.CounterVec // profile, status
	RunDuration *prometheus.HistogramVec
}

func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Registry{
		reg: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domain_ingest_http_requests_total",
				Help: "HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "domain_ingest_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"route", "method"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "domain_ingest_http_requests_in_flight",
				Help: "HTTP requests currently being served",
			},
		),
		ListingsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domain_ingest_listings_total",
				Help: "Listings passed to ingest, by outcome",
			},
			[]string{"outcome"},
		),
		IngestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "domain_ingest_listing_duration_seconds",
				Help:    "Time to ingest one listing, including the transaction",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domain_ingest_upstream_requests_total",
				Help: "Requests sent to the Domain API by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		TokenRefreshes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "domain_ingest_token_refreshes_total",
				Help: "OAuth tokens fetched from the Domain auth server",
			},
		),
		TokenCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "domain_ingest_token_cache_hits_total",
				Help: "OAuth token lookups served from cache",
			},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domain_ingest_runs_total",
				Help: "Search profile runs by profile and final status",
			},
			[]string{"profile", "status"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "domain_ingest_run_duration_seconds",
				Help:    "Search profile run duration in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"profile"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal, m.HTTPRequestDuration, m.HTTPRequestsInFlight,
		m.ListingsIngested, m.IngestDuration,
		m.UpstreamRequests, m.TokenRefreshes, m.TokenCacheHits,
		m.RunsTotal, m.RunDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry, mainly for tests
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.reg
}

// The helpers below accept a nil *Registry so callers can run unmetered.

func (m *Registry) ObserveIngest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ListingsIngested.WithLabelValues(outcome).Inc()
	m.IngestDuration.Observe(d.Seconds())
}

func (m *Registry) ObserveUpstream(endpoint string, status int) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(endpoint, statusLabel(status)).Inc()
}

func (m *Registry) ObserveToken(cached bool) {
	if m == nil {
		return
	}
	if cached {
		m.TokenCacheHits.Inc()
		return
	}
	m.TokenRefreshes.Inc()
}

func (m *Registry) ObserveRun(profile, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(profile, status).Inc()
	m.RunDuration.WithLabelValues(profile).Observe(d.Seconds())
}

func statusLabel(status int) string {
	if status == 0 {
		return "error"
	}
	return strconv.Itoa(status)
}
