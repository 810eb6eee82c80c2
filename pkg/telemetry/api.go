package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// APICollector bundles the worker's submission API metrics.
type APICollector struct {
	gatherer prometheus.Gatherer

	Requests  *prometheus.CounterVec
	Durations *prometheus.HistogramVec
	Accepted  *prometheus.CounterVec
	Rejected  *prometheus.CounterVec
}

// NewAPICollector registers the API metrics against reg, defaulting to the
// global Prometheus registry when nil.
func NewAPICollector(reg prometheus.Registerer) (*APICollector, error) {
	reg, gatherer := gathererFor(reg)

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "api_requests_total",
		Help:      "HTTP requests handled by the submission API, labeled by route and status code.",
	}, []string{"route", "code"}), "api_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "api_request_duration_seconds",
		Help:      "Submission API latency in seconds.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"route"}), "api_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	accepted, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "api_accepted_total",
		Help:      "Commands accepted and forwarded to the host, labeled by kind.",
	}, []string{"kind"}), "api_accepted_total")
	if err != nil {
		return nil, err
	}

	rejected, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "api_rejected_total",
		Help:      "Commands rejected at submission, labeled by reason.",
	}, []string{"reason"}), "api_rejected_total")
	if err != nil {
		return nil, err
	}

	return &APICollector{
		gatherer:  gatherer,
		Requests:  requests,
		Durations: durations,
		Accepted:  accepted,
		Rejected:  rejected,
	}, nil
}

// Instrument wraps h, recording count and latency under route.
func (c *APICollector) Instrument(route string, h http.Handler) http.Handler {
	if c == nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h.ServeHTTP(sw, r)
		c.Requests.WithLabelValues(route, strconv.Itoa(sw.code)).Inc()
		c.Durations.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveAccepted counts one forwarded command.
func (c *APICollector) ObserveAccepted(kind string) {
	if c == nil {
		return
	}
	c.Accepted.WithLabelValues(kind).Inc()
}

// ObserveRejected counts one rejected submission.
func (c *APICollector) ObserveRejected(reason string) {
	if c == nil {
		return
	}
	c.Rejected.WithLabelValues(reason).Inc()
}

// Handler exposes a ready-to-use /metrics handler.
func (c *APICollector) Handler() http.Handler { return handlerFor(c.gatherer) }

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
