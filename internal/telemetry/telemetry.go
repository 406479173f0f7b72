// Package telemetry exposes the control plane as Prometheus metrics.
package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/thermalctl/internal/event"
	"codeberg.org/mutker/thermalctl/internal/thermal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "thermalctl"

// StatusSource is read on every scrape.
type StatusSource interface {
	Status() thermal.Status
}

// StatusFunc adapts a function to StatusSource.
type StatusFunc func() thermal.Status

func (f StatusFunc) Status() thermal.Status { return f() }

type Metrics struct {
	registry          *prometheus.Registry
	eventsTotal       *prometheus.CounterVec
	levelChanges      *prometheus.CounterVec
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func NewMetrics(source StatusSource) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Thermal state changes by zone and direction.",
		}, []string{"profile", "zone", "kind"}),
		levelChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_level_changes_total",
			Help:      "Throttle levels applied to cooling devices.",
		}, []string{"device"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.eventsTotal,
		m.levelChanges,
		m.httpRequestsTotal,
		m.httpDuration,
	)
	if source != nil {
		m.registry.MustRegister(newStatusCollector(source))
	}

	return m
}

// Notify counts ev. Metrics is an event.Sink.
func (m *Metrics) Notify(_ context.Context, ev event.ThermalEvent) error {
	m.eventsTotal.WithLabelValues(ev.Profile, ev.ZoneName, ev.Kind.String()).Inc()
	return nil
}

// DeviceLevelChanged implements cooling.LevelObserver.
func (m *Metrics) DeviceLevelChanged(_ int, name string, _ int) {
	m.levelChanges.WithLabelValues(name).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
