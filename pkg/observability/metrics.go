package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the instrumentation surface wrapping the request pipeline and
// the scheduler. It owns a private registry so applications embedding
// multiple runtimes never collide on collector names.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	taskExecutions  *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	resolveDuration prometheus.Gauge
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mitsuki_http_requests_total",
			Help: "Requests processed by the pipeline.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mitsuki_http_request_duration_seconds",
			Help:    "Request processing time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		taskExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mitsuki_scheduler_executions_total",
			Help: "Scheduled task executions by outcome.",
		}, []string{"task", "outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mitsuki_scheduler_task_duration_seconds",
			Help:    "Scheduled task execution time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"task"}),
		resolveDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mitsuki_container_resolve_seconds",
			Help: "Time spent resolving the component container at startup.",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.taskExecutions,
		m.taskDuration,
		m.resolveDuration,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware instruments every request with count and duration, labeled by
// the matched chi route pattern.
func (m *Metrics) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			// Prefer the matched pattern over the raw path to bound label
			// cardinality.
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}

			m.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
			m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// ObserveTaskExecution implements the scheduler's execution observer.
func (m *Metrics) ObserveTaskExecution(taskID string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.taskExecutions.WithLabelValues(taskID, outcome).Inc()
	m.taskDuration.WithLabelValues(taskID).Observe(duration.Seconds())
}

// RecordResolveDuration records the container resolution time.
func (m *Metrics) RecordResolveDuration(d time.Duration) {
	m.resolveDuration.Set(d.Seconds())
}
