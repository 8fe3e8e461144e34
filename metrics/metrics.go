// Package metrics exposes Prometheus instrumentation for the voice session.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the daemon.
type Metrics struct {
	registry *prometheus.Registry

	// Lifecycle metrics
	Transitions      *prometheus.CounterVec
	State            *prometheus.GaugeVec
	SessionsTotal    prometheus.Counter
	HandshakeSeconds prometheus.Histogram

	// Audio metrics
	FramesSent      prometheus.Counter
	FramesDropped   prometheus.Counter
	AudioBytes      *prometheus.CounterVec
	ChunksScheduled prometheus.Counter
	PlaybackSeconds prometheus.Counter
	DecodeErrors    prometheus.Counter
	Interruptions   prometheus.Counter

	// Transcript metrics
	Turns *prometheus.CounterVec
}

// New creates a Metrics instance with every collector registered on a
// private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "livevoice"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Connection state transitions",
		}, []string{"from", "to"}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise",
		}, []string{"state"}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Sessions started",
		}),
		HandshakeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Time from start to connected",
			Buckets:   []float64{0.1, 0.2, 0.5, 1, 2, 5, 10},
		}),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Captured frames sent to the model",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Captured frames dropped because the outbound queue was full",
		}),
		AudioBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Base64 audio bytes by direction",
		}, []string{"direction"}),
		ChunksScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_chunks_total",
			Help:      "Inbound audio chunks scheduled for playback",
		}),
		PlaybackSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_seconds_total",
			Help:      "Seconds of audio scheduled for playback",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Malformed inbound audio chunks dropped",
		}),
		Interruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Model turns interrupted by the user",
		}),
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_turns_total",
			Help:      "Finalized transcript turns by speaker",
		}, []string{"speaker"}),
	}

	registry.MustRegister(
		m.Transitions,
		m.State,
		m.SessionsTotal,
		m.HandshakeSeconds,
		m.FramesSent,
		m.FramesDropped,
		m.AudioBytes,
		m.ChunksScheduled,
		m.PlaybackSeconds,
		m.DecodeErrors,
		m.Interruptions,
		m.Turns,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTransition records a state change and moves the state gauge.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
	m.State.WithLabelValues(from).Set(0)
	m.State.WithLabelValues(to).Set(1)
}

// RecordSessionStart counts a new session.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
}

// RecordHandshake observes the time it took to reach connected.
func (m *Metrics) RecordHandshake(d time.Duration) {
	if m == nil {
		return
	}
	m.HandshakeSeconds.Observe(d.Seconds())
}

// RecordFrameSent counts one outbound frame of n encoded bytes.
func (m *Metrics) RecordFrameSent(n int) {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
	m.AudioBytes.WithLabelValues("outbound").Add(float64(n))
}

// RecordFrameDropped counts one frame rejected by the outbound queue.
func (m *Metrics) RecordFrameDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

// RecordChunk counts one scheduled inbound chunk.
func (m *Metrics) RecordChunk(encodedBytes int, seconds float64) {
	if m == nil {
		return
	}
	m.ChunksScheduled.Inc()
	m.PlaybackSeconds.Add(seconds)
	m.AudioBytes.WithLabelValues("inbound").Add(float64(encodedBytes))
}

// RecordDecodeError counts one dropped inbound chunk.
func (m *Metrics) RecordDecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

// RecordInterruption counts one interrupted model turn.
func (m *Metrics) RecordInterruption() {
	if m == nil {
		return
	}
	m.Interruptions.Inc()
}

// RecordTurn counts one finalized transcript turn.
func (m *Metrics) RecordTurn(speaker string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(speaker).Inc()
}
