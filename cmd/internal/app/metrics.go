package app

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gcolon75/Project-Valine-sub005/cmd/internal/auth/audit"
)

// Metrics owns the Prometheus registry and the server's collectors.
type Metrics struct {
	registry *prometheus.Registry

	requests   *prometheus.HistogramVec
	authEvents *prometheus.CounterVec
}

// NewMetrics builds a registry with process, Go runtime, HTTP, and auth
// event collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	requests := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "valine",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method, path, and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	authEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "valine",
		Subsystem: "auth",
		Name:      "events_total",
		Help:      "Authentication events by action.",
	}, []string{"action"})

	reg.MustRegister(requests, authEvents)

	return &Metrics{
		registry:   reg,
		requests:   requests,
		authEvents: authEvents,
	}
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed HTTP request. The route set is
// fixed, so path is safe as a label.
func (m *Metrics) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, path, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// CountAuthEvent bumps the counter for one auth action.
func (m *Metrics) CountAuthEvent(action string) {
	m.authEvents.WithLabelValues(action).Inc()
}

// WrapRecorder decorates an audit recorder so every audited event also
// increments the auth event counter.
func (m *Metrics) WrapRecorder(next audit.Recorder) audit.Recorder {
	if next == nil {
		next = audit.NopRecorder{}
	}
	return meteredRecorder{next: next, metrics: m}
}

type meteredRecorder struct {
	next    audit.Recorder
	metrics *Metrics
}

func (r meteredRecorder) Record(ctx context.Context, now time.Time, ev audit.Event) {
	r.metrics.CountAuthEvent(ev.Action)
	r.next.Record(ctx, now, ev)
}
