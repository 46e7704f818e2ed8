// Package metrics exposes Prometheus metrics for live audio sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voicelab"

// Metrics holds the pipeline collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Audio metrics
	FramesCaptured prometheus.Counter
	FramesDropped  prometheus.Counter
	ChunksPlayed   prometheus.Counter
	DecodeErrors   prometheus.Counter
	AudioSeconds   *prometheus.CounterVec

	// Transcript metrics
	TurnsCompleted prometheus.Counter

	// Simulator metrics
	SimulatedReplies *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests *prometheus.CounterVec
}

// New creates and registers all collectors, including the Go runtime ones.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live sessions currently connected",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Live sessions by how they ended",
		}, []string{"outcome"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Live session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		FramesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_captured_total",
			Help:      "Microphone frames delivered by the capture pipeline",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Microphone frames the transport refused",
		}),
		ChunksPlayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_scheduled_total",
			Help:      "Response audio chunks scheduled for playback",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Malformed response audio chunks dropped",
		}),
		AudioSeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_seconds_total",
			Help:      "Seconds of audio streamed",
		}, []string{"direction"}),
		TurnsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_completed_total",
			Help:      "Finalized transcript turns",
		}),
		SimulatedReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulated_replies_total",
			Help:      "Simulated call replies by source",
		}, []string{"source"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SessionsActive,
		m.SessionsTotal,
		m.SessionDuration,
		m.FramesCaptured,
		m.FramesDropped,
		m.ChunksPlayed,
		m.DecodeErrors,
		m.AudioSeconds,
		m.TurnsCompleted,
		m.SimulatedReplies,
		m.HTTPRequests,
	)
	return m
}

// Registry exposes the underlying registry for gathering
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionStart records a session reaching the connected state.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a connected session ending.
func (m *Metrics) RecordSessionEnd(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(outcome).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordSessionFailed records a session that never connected.
func (m *Metrics) RecordSessionFailed() {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues("connect_error").Inc()
}

// RecordFrame records one captured frame and whether it was sent.
func (m *Metrics) RecordFrame(seconds float64, sent bool) {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
	if !sent {
		m.FramesDropped.Inc()
		return
	}
	m.AudioSeconds.WithLabelValues("input").Add(seconds)
}

// RecordPlayback records one response chunk handed to the scheduler.
func (m *Metrics) RecordPlayback(seconds float64) {
	if m == nil {
		return
	}
	m.ChunksPlayed.Inc()
	m.AudioSeconds.WithLabelValues("output").Add(seconds)
}

// RecordDecodeError records a dropped malformed chunk.
func (m *Metrics) RecordDecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

// RecordTurn records a finalized transcript turn.
func (m *Metrics) RecordTurn() {
	if m == nil {
		return
	}
	m.TurnsCompleted.Inc()
}

// RecordSimulatedReply records where a simulated reply came from
// ("call_flow" or "llm").
func (m *Metrics) RecordSimulatedReply(source string) {
	if m == nil {
		return
	}
	m.SimulatedReplies.WithLabelValues(source).Inc()
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(route, code string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, code).Inc()
}
