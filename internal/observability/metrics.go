package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// Metrics holds the Prometheus metrics for the resolver service.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestSize      *prometheus.HistogramVec
	httpResponseSize     *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Rate limiting metrics
	rateLimitHitsTotal *prometheus.CounterVec

	// Role table / resolver rebuild metrics (see internal/resolvercache)
	rebuildsTotal    *prometheus.CounterVec
	rebuildDuration  prometheus.Histogram
	rolesRejected    prometheus.Gauge
	activeGeneration prometheus.Gauge

	// System metrics
	systemUptime prometheus.Gauge
}

// NewMetrics creates and registers the Prometheus metrics (singleton).
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = createMetrics()
	})
	return metricsInstance
}

func createMetrics() *Metrics {
	m := &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scoperesolve_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scoperesolve_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		httpRequestSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scoperesolve_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		httpResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scoperesolve_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path", "status"},
		),
		httpRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scoperesolve_http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		rateLimitHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scoperesolve_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limiter_type", "identifier"},
		),

		rebuildsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scoperesolve_resolver_rebuilds_total",
				Help: "Total number of role-table rebuilds by outcome",
			},
			[]string{"status"},
		),
		rebuildDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scoperesolve_resolver_rebuild_duration_seconds",
				Help:    "Time spent expanding roles and compiling the DFA on rebuild",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),
		rolesRejected: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scoperesolve_resolver_roles_rejected",
				Help: "Number of roles rejected as malformed in the most recent rebuild",
			},
		),
		activeGeneration: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scoperesolve_resolver_active_generation",
				Help: "Monotonically increasing generation number of the resolver currently serving traffic",
			},
		),

		systemUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scoperesolve_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),
	}

	return m
}

// MetricsMiddleware returns a Fiber middleware that collects HTTP metrics.
func (m *Metrics) MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		m.httpRequestsInFlight.Inc()
		defer m.httpRequestsInFlight.Dec()

		requestSize := len(c.Body())
		path := normalizePath(c.Path())
		method := c.Method()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := statusClass(c.Response().StatusCode())
		responseSize := len(c.Response().Body())

		m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		m.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
		m.httpResponseSize.WithLabelValues(method, path, status).Observe(float64(responseSize))

		return err
	}
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(limiterType, identifier string) {
	m.rateLimitHitsTotal.WithLabelValues(limiterType, identifier).Inc()
}

// RecordRebuild records the outcome and duration of a role-table rebuild
// (internal/resolvercache), and the count of roles rejected as malformed
// in that rebuild.
func (m *Metrics) RecordRebuild(status string, duration time.Duration, rejected int) {
	m.rebuildsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.rebuildDuration.Observe(duration.Seconds())
		m.rolesRejected.Set(float64(rejected))
	}
}

// UpdateActiveGeneration records the generation number of the resolver
// currently being served.
func (m *Metrics) UpdateActiveGeneration(generation uint64) {
	m.activeGeneration.Set(float64(generation))
}

// UpdateUptime updates the system uptime metric.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.systemUptime.Set(time.Since(startTime).Seconds())
}

// Handler returns a Fiber handler that exposes Prometheus metrics.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// normalizePath normalizes API paths for metrics to avoid cardinality
// explosion from path segments like client IDs.
func normalizePath(path string) string {
	if len(path) > 50 {
		return "long_path"
	}
	return path
}

// statusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx).
func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// MetricsServer is a dedicated HTTP server for Prometheus metrics.
type MetricsServer struct {
	server *http.Server
	port   int
	path   string
}

// NewMetricsServer creates a new metrics server.
func NewMetricsServer(port int, path string) *MetricsServer {
	return &MetricsServer{
		port: port,
		path: path,
	}
}

// Start starts the metrics server on the configured port.
func (ms *MetricsServer) Start() error {
	mux := http.NewServeMux()
	mux.Handle(ms.path, promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	ms.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", ms.port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	log.Info().
		Int("port", ms.port).
		Str("path", ms.path).
		Msg("Starting Prometheus metrics server")

	go func() {
		if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	if ms.server == nil {
		return nil
	}

	log.Info().Msg("Shutting down metrics server")
	return ms.server.Shutdown(ctx)
}
