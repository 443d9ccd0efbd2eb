package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry             *prometheus.Registry
	httpRequests         *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	pollTicksTotal       prometheus.Counter
	pollFailuresTotal    prometheus.Counter
	pollTickDuration     prometheus.Histogram
	tokenRefreshesTotal  prometheus.Counter
	boundaryLoadFailures prometheus.Counter
	liveConnections      prometheus.Gauge
}

// New creates a fresh Metrics registry with HTTP and polling metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mapcore",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by map-core",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mapcore",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by map-core",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	pollTicksTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mapcore",
		Name:      "poll_ticks_total",
		Help:      "Total number of telemetry poll ticks executed",
	})

	pollFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mapcore",
		Name:      "poll_failures_total",
		Help:      "Total number of telemetry poll ticks that failed",
	})

	pollTickDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mapcore",
		Name:      "poll_tick_duration_seconds",
		Help:      "Duration of telemetry poll ticks from start to finish",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	tokenRefreshesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mapcore",
		Name:      "token_refreshes_total",
		Help:      "Total number of bearer token refreshes performed",
	})

	boundaryLoadFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mapcore",
		Name:      "boundary_load_failures_total",
		Help:      "Total number of boundary file loads that fell back or failed",
	})

	liveConnections := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mapcore",
		Name:      "live_connections",
		Help:      "Currently open live-feed websocket connections",
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		pollTicksTotal,
		pollFailuresTotal,
		pollTickDuration,
		tokenRefreshesTotal,
		boundaryLoadFailures,
		liveConnections,
	)

	return &Metrics{
		registry:             registry,
		httpRequests:         httpRequests,
		httpRequestDuration:  httpRequestDuration,
		pollTicksTotal:       pollTicksTotal,
		pollFailuresTotal:    pollFailuresTotal,
		pollTickDuration:     pollTickDuration,
		tokenRefreshesTotal:  tokenRefreshesTotal,
		boundaryLoadFailures: boundaryLoadFailures,
		liveConnections:      liveConnections,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// IncPollTick increments the poll tick counter.
func (m *Metrics) IncPollTick() {
	if m == nil {
		return
	}
	m.pollTicksTotal.Inc()
}

// IncPollFailure increments the failed tick counter.
func (m *Metrics) IncPollFailure() {
	if m == nil {
		return
	}
	m.pollFailuresTotal.Inc()
}

// ObservePollTickDuration observes one tick duration.
func (m *Metrics) ObservePollTickDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.pollTickDuration.Observe(duration.Seconds())
}

// IncTokenRefresh increments the bearer refresh counter.
func (m *Metrics) IncTokenRefresh() {
	if m == nil {
		return
	}
	m.tokenRefreshesTotal.Inc()
}

// IncBoundaryLoadFailure increments the boundary fallback counter.
func (m *Metrics) IncBoundaryLoadFailure() {
	if m == nil {
		return
	}
	m.boundaryLoadFailures.Inc()
}

// AddLiveConnection tracks websocket connect/disconnect.
func (m *Metrics) AddLiveConnection(delta int) {
	if m == nil {
		return
	}
	m.liveConnections.Add(float64(delta))
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
