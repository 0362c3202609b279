// Package metrics exposes gateway and resilience counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pysugar/nexus-gateway/internal/resilience"
)

const namespace = "nexus"

// Collector owns every gateway metric. It implements resilience.Observer.
//
// Metrics:
//   - nexus_upstream_attempts_total{provider}
//   - nexus_upstream_failures_total{provider,reason,fallback}
//   - nexus_upstream_successes_total{provider}
//   - nexus_model_lockouts_total{provider,reason}
//   - nexus_exhausted_total{reason}
//   - nexus_requests_total{endpoint,source,target,code}
//   - nexus_request_duration_seconds{endpoint}
type Collector struct {
	registry *prometheus.Registry

	attempts  *prometheus.CounterVec
	failures  *prometheus.CounterVec
	successes *prometheus.CounterVec
	lockouts  *prometheus.CounterVec
	exhausted *prometheus.CounterVec
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewCollector registers the gateway metrics with registry; nil creates a
// private registry.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	c := &Collector{
		registry: registry,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_attempts_total",
			Help:      "Upstream calls started, by provider.",
		}, []string{"provider"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_failures_total",
			Help:      "Failed upstream calls by provider and error reason; fallback tells whether another account was tried.",
		}, []string{"provider", "reason", "fallback"}),
		successes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_successes_total",
			Help:      "Successful upstream calls, by provider.",
		}, []string{"provider"}),
		lockouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_lockouts_total",
			Help:      "Per-model lockouts applied, by provider and reason.",
		}, []string{"provider", "reason"}),
		exhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exhausted_total",
			Help:      "Requests that ran out of candidate accounts, by last reason.",
		}, []string{"reason"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Gateway requests by endpoint, client format, provider format and status code.",
		}, []string{"endpoint", "source", "target", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Gateway request latency in seconds.",
			// Optimized for LLM request latencies (100ms - 2m)
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"endpoint"}),
	}
	registry.MustRegister(c.attempts, c.failures, c.successes, c.lockouts, c.exhausted, c.requests, c.duration)
	return c
}

// Registry returns the registry the metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

func (c *Collector) Attempt(cand resilience.Candidate) {
	c.attempts.WithLabelValues(cand.Provider).Inc()
}

func (c *Collector) Failure(cand resilience.Candidate, o resilience.Outcome) {
	c.failures.WithLabelValues(cand.Provider, string(o.Reason), strconv.FormatBool(o.ShouldFallback)).Inc()
}

func (c *Collector) Success(cand resilience.Candidate, attempts int) {
	c.successes.WithLabelValues(cand.Provider).Inc()
}

func (c *Collector) ModelLocked(cand resilience.Candidate, reason resilience.Reason) {
	c.lockouts.WithLabelValues(cand.Provider, string(reason)).Inc()
}

func (c *Collector) Exhausted(err *resilience.ExhaustedError) {
	c.exhausted.WithLabelValues(string(err.LastReason)).Inc()
}

// ObserveRequest records one finished gateway request.
func (c *Collector) ObserveRequest(endpoint, source, target string, code int, elapsed time.Duration) {
	c.requests.WithLabelValues(endpoint, source, target, strconv.Itoa(code)).Inc()
	c.duration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

var _ resilience.Observer = (*Collector)(nil)
