// Package metrics exposes Prometheus instrumentation for interaction sessions.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission outcomes.
const (
	OutcomeSuccess        = "success"
	OutcomeHTTPError      = "http_error"
	OutcomeTransportError = "transport_error"
	OutcomeMalformed      = "malformed"
)

// Metrics groups the collectors for one process. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	submissionsTotal *prometheus.CounterVec
	requestsInFlight prometheus.Gauge
	requestDuration  prometheus.Histogram
	staleResults     prometheus.Counter
	selectionsTotal  *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
}

// New registers all collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		submissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "canecheck",
				Name:      "submissions_total",
				Help:      "Settled prediction requests by outcome.",
			},
			[]string{"outcome"},
		),
		requestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "canecheck",
			Name:      "requests_in_flight",
			Help:      "Prediction requests currently outstanding.",
		}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "canecheck",
			Name:      "request_duration_seconds",
			Help:      "Prediction request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		staleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canecheck",
			Name:      "stale_results_total",
			Help:      "Results discarded because a different image was selected meanwhile.",
		}),
		selectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "canecheck",
				Name:      "selections_total",
				Help:      "File selections by input source and acceptance.",
			},
			[]string{"source", "accepted"},
		),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "canecheck",
			Name:      "sessions_active",
			Help:      "Interaction sessions currently open.",
		}),
	}

	registry.MustRegister(
		m.submissionsTotal,
		m.requestsInFlight,
		m.requestDuration,
		m.staleResults,
		m.selectionsTotal,
		m.sessionsActive,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveSelection(source string, accepted bool) {
	if m == nil {
		return
	}
	m.selectionsTotal.WithLabelValues(source, strconv.FormatBool(accepted)).Inc()
}

func (m *Metrics) RequestStarted() {
	if m == nil {
		return
	}
	m.requestsInFlight.Inc()
}

func (m *Metrics) RequestSettled(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsInFlight.Dec()
	m.submissionsTotal.WithLabelValues(outcome).Inc()
	m.requestDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) StaleResultDiscarded() {
	if m == nil {
		return
	}
	m.staleResults.Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}
