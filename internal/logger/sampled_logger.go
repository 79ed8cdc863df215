package logger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// SampledLogger throttles high-frequency log categories. A relay session
// produces an event per frame; without sampling a 30fps stream would write
// thirty log lines a second per viewer.
type SampledLogger struct {
	base          Logger
	samplers      map[string]*logSampler
	samplersMutex sync.RWMutex
}

type logSampler struct {
	name         string
	maxFrequency time.Duration // minimum spacing between logged messages

	lastLogTime int64 // atomic, unix nanos
	total       int64 // atomic
	logged      int64 // atomic
	dropped     int64 // atomic
}

// NewSampledLogger creates a new sampled logger
func NewSampledLogger(base Logger) *SampledLogger {
	return &SampledLogger{
		base:     base,
		samplers: make(map[string]*logSampler),
	}
}

// WithSampler adds a sampler configuration for a specific category
func (s *SampledLogger) WithSampler(name string, maxFreq time.Duration) *SampledLogger {
	s.samplersMutex.Lock()
	defer s.samplersMutex.Unlock()

	s.samplers[name] = &logSampler{
		name:         name,
		maxFrequency: maxFreq,
	}

	return s
}

// shouldLog determines if a message should be logged based on sampling rules
func (s *SampledLogger) shouldLog(category string) bool {
	s.samplersMutex.RLock()
	sampler, exists := s.samplers[category]
	s.samplersMutex.RUnlock()

	if !exists {
		// No sampler configured, always log
		return true
	}

	now := time.Now().UnixNano()
	atomic.AddInt64(&sampler.total, 1)

	lastLog := atomic.LoadInt64(&sampler.lastLogTime)
	if now-lastLog < sampler.maxFrequency.Nanoseconds() {
		atomic.AddInt64(&sampler.dropped, 1)
		return false
	}

	atomic.StoreInt64(&sampler.lastLogTime, now)
	atomic.AddInt64(&sampler.logged, 1)
	return true
}

// LogWithCategory logs a message, applying the category's sampling rules.
// Errors are never sampled.
func (s *SampledLogger) LogWithCategory(level logrus.Level, category, msg string, fields map[string]interface{}) {
	if level != logrus.ErrorLevel && !s.shouldLog(category) {
		return
	}

	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["category"] = category
	s.base.WithFields(fields).Log(level, msg)
}

// SamplerStats holds statistics for a log sampler
type SamplerStats struct {
	Name            string `json:"name"`
	TotalMessages   int64  `json:"total_messages"`
	LoggedMessages  int64  `json:"logged_messages"`
	DroppedMessages int64  `json:"dropped_messages"`
}

// GetSamplerStats returns statistics for all samplers
func (s *SampledLogger) GetSamplerStats() map[string]SamplerStats {
	s.samplersMutex.RLock()
	defer s.samplersMutex.RUnlock()

	stats := make(map[string]SamplerStats)
	for name, sampler := range s.samplers {
		stats[name] = SamplerStats{
			Name:            name,
			TotalMessages:   atomic.LoadInt64(&sampler.total),
			LoggedMessages:  atomic.LoadInt64(&sampler.logged),
			DroppedMessages: atomic.LoadInt64(&sampler.dropped),
		}
	}

	return stats
}

// Relay log categories.
const (
	CategoryFrameRelay    = "frame_relay"
	CategoryBufferEvict   = "buffer_eviction"
	CategoryPacing        = "pacing"
	CategoryStallRecovery = "stall_recovery"
	CategoryMalformedPart = "malformed_part"
)

// NewRelayLogger creates a pre-configured sampled logger for relay sessions.
func NewRelayLogger(base Logger) *SampledLogger {
	return NewSampledLogger(base).
		// Per-frame events: at most one line per second
		WithSampler(CategoryFrameRelay, time.Second).
		WithSampler(CategoryPacing, time.Second).
		// Evictions and malformed parts come in bursts; one line per 500ms
		WithSampler(CategoryBufferEvict, 500*time.Millisecond).
		WithSampler(CategoryMalformedPart, 500*time.Millisecond)
	// CategoryStallRecovery intentionally not configured - always logs
}
