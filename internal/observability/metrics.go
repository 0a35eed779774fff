package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Adacracker/MintTrail/internal/ratelimit"
)

const namespace = "minttrail"

// Metrics holds every collector the service exports. It owns its registry
// so tests can build independent instances.
type Metrics struct {
	registry *prometheus.Registry

	UpstreamRequests *prometheus.CounterVec
	UpstreamLatency  *prometheus.HistogramVec
	UpstreamRetries  *prometheus.CounterVec
	CircuitTrips     prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
	RateLimited  *prometheus.CounterVec

	TracesCompleted prometheus.Counter
	TraceHops       prometheus.Histogram
	BundleReports   *prometheus.CounterVec
	BundleScore     prometheus.Histogram

	WSClients prometheus.Gauge
}

// NewMetrics creates and registers all collectors, including the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blockfrost",
			Name:      "requests_total",
			Help:      "Blockfrost requests by endpoint and HTTP status (0 for transport errors).",
		}, []string{"endpoint", "status"}),
		UpstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "blockfrost",
			Name:      "request_duration_seconds",
			Help:      "Blockfrost request latency by endpoint.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		UpstreamRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blockfrost",
			Name:      "retries_total",
			Help:      "Blockfrost retry attempts by endpoint.",
		}, []string{"endpoint"}),
		CircuitTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blockfrost",
			Name:      "circuit_trips_total",
			Help:      "Times the Blockfrost circuit breaker opened.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by route and response status.",
		}, []string{"route", "status"}),
		HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latency by route.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"route"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "API requests rejected by the per-caller limiter.",
		}, []string{"route"}),
		TracesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trace",
			Name:      "completed_total",
			Help:      "Successful mint traces.",
		}),
		TraceHops: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trace",
			Name:      "flow_hops",
			Help:      "Hops in each reconstructed ADA flow.",
			Buckets:   []float64{1, 2, 3},
		}),
		BundleReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "reports_total",
			Help:      "Bundle reports by detection outcome.",
		}, []string{"detected"}),
		BundleScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "risk_score",
			Help:      "Distribution of bundle risk scores.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "clients",
			Help:      "Connected WebSocket subscribers.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.UpstreamRequests, m.UpstreamLatency, m.UpstreamRetries, m.CircuitTrips,
		m.HTTPRequests, m.HTTPLatency, m.RateLimited,
		m.TracesCompleted, m.TraceHops, m.BundleReports, m.BundleScore,
		m.WSClients,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TrackLimiter exports the limiter's live counters as gauges.
func (m *Metrics) TrackLimiter(l *ratelimit.Limiter) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "tracked_callers",
			Help:      "Callers with requests inside the current window.",
		}, func() float64 { return float64(l.Stats().TrackedKeys) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "unique_callers_estimate",
			Help:      "Approximate distinct callers seen since start.",
		}, func() float64 { return float64(l.Stats().UniqueCallers) }),
	)
}

// ObserveRequest implements blockfrost.Observer.
func (m *Metrics) ObserveRequest(endpoint string, status int, latency time.Duration) {
	m.UpstreamRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.UpstreamLatency.WithLabelValues(endpoint).Observe(latency.Seconds())
}

// ObserveRetry implements blockfrost.Observer.
func (m *Metrics) ObserveRetry(endpoint string) {
	m.UpstreamRetries.WithLabelValues(endpoint).Inc()
}

// ObserveCircuitOpen implements blockfrost.Observer.
func (m *Metrics) ObserveCircuitOpen() {
	m.CircuitTrips.Inc()
}

// ObserveHTTP records one served API request.
func (m *Metrics) ObserveHTTP(route string, status int, latency time.Duration) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(latency.Seconds())
}

// ObserveRateLimited records a request rejected by the limiter.
func (m *Metrics) ObserveRateLimited(route string) {
	m.RateLimited.WithLabelValues(route).Inc()
}

// ObserveTrace records a completed trace and its flow length.
func (m *Metrics) ObserveTrace(hops int) {
	m.TracesCompleted.Inc()
	m.TraceHops.Observe(float64(hops))
}

// ObserveBundle records a completed bundle report.
func (m *Metrics) ObserveBundle(score int, detected bool) {
	m.BundleReports.WithLabelValues(strconv.FormatBool(detected)).Inc()
	m.BundleScore.Observe(float64(score))
}
