// Package metrics exposes the engine's counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/framejobs/internal/engine"
)

const namespace = "framejobs"

// Metrics holds the process metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	streamsOpened  prometheus.Counter
	streamsClosed  prometheus.Counter
	jobsPlanned    *prometheus.CounterVec
	jobsFinished   *prometheus.CounterVec
	deadlineMisses *prometheus.CounterVec
	framesSkipped  prometheus.Counter
	lateness       prometheus.Histogram
	activeStreams  prometheus.Gauge
	inFlight       prometheus.Gauge
	buffersInUse   prometheus.Gauge
	requests       *prometheus.CounterVec
}

var _ engine.Metrics = (*Metrics)(nil)

// New creates the metrics and registers them.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		streamsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_opened_total",
			Help:      "Calculation streams opened.",
		}),
		streamsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_closed_total",
			Help:      "Calculation streams that stopped planning.",
		}),
		jobsPlanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_planned_total",
			Help:      "Jobs handed to the scheduler.",
		}, []string{"kind"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs reported back by the scheduler.",
		}, []string{"kind", "outcome"}),
		deadlineMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deadline_misses_total",
			Help:      "Jobs finished after their deadline.",
		}, []string{"kind"}),
		framesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_skipped_total",
			Help:      "Frames skipped because their deadline had already passed at planning.",
		}),
		lateness: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deadline_lateness_seconds",
			Help:      "How far past the deadline late jobs finished.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Streams currently planning jobs.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Scheduled jobs without a reported outcome.",
		}),
		buffersInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffers_in_use",
			Help:      "Buffers currently checked out.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_requests_total",
			Help:      "Requests served by the status endpoint.",
		}, []string{"class"}),
	}
	reg.MustRegister(
		m.streamsOpened,
		m.streamsClosed,
		m.jobsPlanned,
		m.jobsFinished,
		m.deadlineMisses,
		m.framesSkipped,
		m.lateness,
		m.activeStreams,
		m.inFlight,
		m.buffersInUse,
		m.requests,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) StreamOpened() {
	m.streamsOpened.Inc()
}

func (m *Metrics) StreamClosed() {
	m.streamsClosed.Inc()
}

func (m *Metrics) JobPlanned(kind string) {
	m.jobsPlanned.WithLabelValues(kind).Inc()
}

func (m *Metrics) JobFinished(kind string, outcome engine.Outcome) {
	m.jobsFinished.WithLabelValues(kind, string(outcome)).Inc()
}

func (m *Metrics) DeadlineMissed(kind string, late time.Duration) {
	m.deadlineMisses.WithLabelValues(kind).Inc()
	m.lateness.Observe(late.Seconds())
}

func (m *Metrics) FramesSkipped(n int) {
	m.framesSkipped.Add(float64(n))
}

// SetActiveStreams sets the active streams gauge.
func (m *Metrics) SetActiveStreams(n int) {
	m.activeStreams.Set(float64(n))
}

// SetInFlight sets the in-flight jobs gauge.
func (m *Metrics) SetInFlight(n int) {
	m.inFlight.Set(float64(n))
}

// SetBuffersInUse sets the checked-out buffers gauge.
func (m *Metrics) SetBuffersInUse(n int) {
	m.buffersInUse.Set(float64(n))
}

// Handler returns an HTTP handler for the Prometheus scrape endpoint.
// updateGauges, when non-nil, runs before each scrape to refresh gauges.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}

// RequestMiddleware counts status endpoint requests by response class.
func (m *Metrics) RequestMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrap := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrap, r)
			class := "ok"
			if wrap.status >= 400 {
				class = "error"
			}
			m.requests.WithLabelValues(class).Inc()
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
