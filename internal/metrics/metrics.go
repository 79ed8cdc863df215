package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_sessions_active",
		Help: "Number of active relay sessions",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_sessions_total",
		Help: "Total relay sessions started, by smoothing profile",
	}, []string{"profile"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_session_duration_seconds",
		Help:    "Relay session duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1s to ~16k seconds
	})

	// Frame pipeline metrics
	framesRelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_frames_relayed_total",
		Help: "Total frames written to viewer sinks per session",
	}, []string{"session_id"})

	bytesRelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_bytes_relayed_total",
		Help: "Total payload bytes written to viewer sinks per session",
	}, []string{"session_id"})

	framesEvictedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_frames_evicted_total",
		Help: "Frames evicted from the jitter buffer to admit newer ones",
	}, []string{"session_id"})

	malformedPartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_malformed_parts_total",
		Help: "Multipart parts dropped after a failed header parse",
	}, []string{"session_id"})

	stallReemitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_stall_reemits_total",
		Help: "Frames re-emitted during an upstream stall (cinema profile)",
	}, []string{"session_id"})

	pacingDelay = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_pacing_delay_seconds",
		Help:    "Delay applied before releasing each frame",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~2s
	}, []string{"profile"})

	bufferDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_buffer_depth_frames",
		Help: "Current jitter buffer depth in frames",
	}, []string{"session_id"})

	// Prober metrics
	probesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_probes_total",
		Help: "Endpoint probes by classification",
	}, []string{"classification"})
)

// SessionStarted records a new session with the given smoothing profile.
func SessionStarted(profile string) {
	sessionsActive.Inc()
	sessionsTotal.WithLabelValues(profile).Inc()
}

// SessionEnded records session teardown and its duration in seconds.
func SessionEnded(sessionID string, seconds float64) {
	sessionsActive.Dec()
	sessionDuration.Observe(seconds)

	// Per-session series are unbounded over time; drop them on teardown.
	framesRelayedTotal.DeleteLabelValues(sessionID)
	bytesRelayedTotal.DeleteLabelValues(sessionID)
	framesEvictedTotal.DeleteLabelValues(sessionID)
	malformedPartsTotal.DeleteLabelValues(sessionID)
	stallReemitsTotal.DeleteLabelValues(sessionID)
	bufferDepth.DeleteLabelValues(sessionID)
}

// FrameRelayed records a frame written to a viewer sink.
func FrameRelayed(sessionID string, bytes int) {
	framesRelayedTotal.WithLabelValues(sessionID).Inc()
	bytesRelayedTotal.WithLabelValues(sessionID).Add(float64(bytes))
}

// FramesEvicted records buffer evictions.
func FramesEvicted(sessionID string, count int) {
	framesEvictedTotal.WithLabelValues(sessionID).Add(float64(count))
}

// MalformedPart records a dropped multipart part.
func MalformedPart(sessionID string) {
	malformedPartsTotal.WithLabelValues(sessionID).Inc()
}

// StallReemit records a re-emitted frame during an upstream stall.
func StallReemit(sessionID string) {
	stallReemitsTotal.WithLabelValues(sessionID).Inc()
}

// PacingDelay records the delay applied before a frame release.
func PacingDelay(profile string, seconds float64) {
	pacingDelay.WithLabelValues(profile).Observe(seconds)
}

// BufferDepth sets the current buffer depth for a session.
func BufferDepth(sessionID string, frames int) {
	bufferDepth.WithLabelValues(sessionID).Set(float64(frames))
}

// ProbeResult records one probe classification.
func ProbeResult(classification string) {
	probesTotal.WithLabelValues(classification).Inc()
}
