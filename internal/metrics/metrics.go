// Package metrics holds the Prometheus instruments of the service. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"okrline/internal/domain"
)

type Metrics struct {
	registry     *prometheus.Registry
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	recomputes   *prometheus.CounterVec
	denials      *prometheus.CounterVec
	cascadeRows  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "okrline_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "okrline_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		recomputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "okrline_okr_recomputes_total",
			Help: "OKR progress recomputations by outcome.",
		}, []string{"outcome"}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "okrline_access_denied_total",
			Help: "Access resolver denials by entity kind and action.",
		}, []string{"kind", "action"}),
		cascadeRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "okrline_cascade_deleted_rows_total",
			Help: "Rows removed by cascading deletes, by entity kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration, m.recomputes, m.denials, m.cascadeRows,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordRecompute(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.recomputes.WithLabelValues(outcome).Inc()
}

// RecordDenial counts err when it is a permission denial.
func (m *Metrics) RecordDenial(kind, action string, err error) {
	if m == nil || !errors.Is(err, domain.ErrPermissionDenied) {
		return
	}
	m.denials.WithLabelValues(kind, action).Inc()
}

func (m *Metrics) RecordCascade(counts map[string]int) {
	if m == nil {
		return
	}
	for kind, n := range counts {
		m.cascadeRows.WithLabelValues(kind).Add(float64(n))
	}
}
