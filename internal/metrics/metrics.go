// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package metrics exposes pipeline and store counters to Prometheus.
//
// Every method is safe to call on a nil *Metrics, so components can run
// without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the live stabilizer's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	samplesIngested prometheus.Counter
	samplesDropped  prometheus.Counter
	samplesRejected prometheus.Counter
	framesRendered  prometheus.Counter
	framesDropped   prometheus.Counter
	framesHeld      prometheus.Counter
	framesSkipped   prometheus.Counter
	integrations    prometheus.Counter
	storeWindows    *prometheus.GaugeVec
	storePruned     *prometheus.GaugeVec
	ringEntries     prometheus.Gauge
	httpRequests    *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		samplesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stabilizer_samples_ingested_total",
			Help: "Sensor samples pushed into the session ring",
		}),
		samplesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stabilizer_samples_dropped_total",
			Help: "Sensor samples evicted from a full ingest queue",
		}),
		samplesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stabilizer_samples_rejected_total",
			Help: "Sensor samples refused because the session was disabled",
		}),
		framesRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stabilizer_frames_rendered_total",
			Help: "Frames that received an orientation",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stabilizer_frames_dropped_total",
			Help: "Frames evicted from a full frame queue",
		}),
		framesHeld: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stabilizer_frames_held_total",
			Help: "Frames rendered with the last known orientation",
		}),
		framesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stabilizer_frames_skipped_total",
			Help: "Frames skipped for lack of an orientation",
		}),
		integrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stabilizer_integrations_total",
			Help: "Integration ticks that published new windows",
		}),
		storeWindows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stabilizer_store_windows",
			Help: "Windows currently held per store",
		}, []string{"stream"}),
		storePruned: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stabilizer_store_pruned",
			Help: "Windows pruned so far per store",
		}, []string{"stream"}),
		ringEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stabilizer_ring_entries",
			Help: "Entries currently held in the sample ring",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stabilizer_http_requests_total",
			Help: "HTTP requests by response class",
		}, []string{"class"}),
	}

	m.registry.MustRegister(
		m.samplesIngested,
		m.samplesDropped,
		m.samplesRejected,
		m.framesRendered,
		m.framesDropped,
		m.framesHeld,
		m.framesSkipped,
		m.integrations,
		m.storeWindows,
		m.storePruned,
		m.ringEntries,
		m.httpRequests,
	)
	return m
}

func (m *Metrics) IncSamplesIngested() {
	if m != nil {
		m.samplesIngested.Inc()
	}
}

func (m *Metrics) IncSamplesRejected() {
	if m != nil {
		m.samplesRejected.Inc()
	}
}

// AddSamplesDropped adds n queue evictions.
func (m *Metrics) AddSamplesDropped(n uint64) {
	if m != nil && n > 0 {
		m.samplesDropped.Add(float64(n))
	}
}

// AddFramesDropped adds n queue evictions.
func (m *Metrics) AddFramesDropped(n uint64) {
	if m != nil && n > 0 {
		m.framesDropped.Add(float64(n))
	}
}

func (m *Metrics) IncFramesRendered() {
	if m != nil {
		m.framesRendered.Inc()
	}
}

func (m *Metrics) IncFramesHeld() {
	if m != nil {
		m.framesHeld.Inc()
	}
}

func (m *Metrics) IncFramesSkipped() {
	if m != nil {
		m.framesSkipped.Inc()
	}
}

func (m *Metrics) IncIntegrations() {
	if m != nil {
		m.integrations.Inc()
	}
}

// SetStore records the size and prune count of one store.
func (m *Metrics) SetStore(stream string, windows int, pruned uint64) {
	if m == nil {
		return
	}
	m.storeWindows.WithLabelValues(stream).Set(float64(windows))
	m.storePruned.WithLabelValues(stream).Set(float64(pruned))
}

func (m *Metrics) SetRingEntries(n int) {
	if m != nil {
		m.ringEntries.Set(float64(n))
	}
}

// Handler serves the registry. refresh, when non-nil, runs before each
// scrape to update gauges.
func (m *Metrics) Handler(refresh func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if refresh != nil {
			refresh()
		}
		h.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestMiddleware counts requests by status class (2xx, 4xx, ...).
func RequestMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			if m != nil {
				m.httpRequests.WithLabelValues(statusClass(sw.status)).Inc()
			}
		})
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
