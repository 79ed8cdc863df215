package logger

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSampledLogger_ThrottlesCategory(t *testing.T) {
	s := NewSampledLogger(NewNullLogger()).
		WithSampler("spammy", time.Hour)

	for i := 0; i < 100; i++ {
		s.LogWithCategory(logrus.DebugLevel, "spammy", "frame", nil)
	}

	stats := s.GetSamplerStats()["spammy"]
	assert.Equal(t, int64(100), stats.TotalMessages)
	assert.Equal(t, int64(1), stats.LoggedMessages)
	assert.Equal(t, int64(99), stats.DroppedMessages)
}

func TestSampledLogger_UnknownCategoryAlwaysLogs(t *testing.T) {
	s := NewSampledLogger(NewNullLogger())

	for i := 0; i < 10; i++ {
		s.LogWithCategory(logrus.InfoLevel, "rare", "event", nil)
	}

	// No sampler for the category, so nothing is tracked or dropped
	_, ok := s.GetSamplerStats()["rare"]
	assert.False(t, ok)
}

func TestSampledLogger_ErrorsNeverSampled(t *testing.T) {
	s := NewSampledLogger(NewNullLogger()).
		WithSampler(CategoryMalformedPart, time.Hour)

	for i := 0; i < 5; i++ {
		s.LogWithCategory(logrus.ErrorLevel, CategoryMalformedPart, "bad part", nil)
	}

	stats := s.GetSamplerStats()[CategoryMalformedPart]
	// Error-level messages bypass shouldLog entirely
	assert.Equal(t, int64(0), stats.TotalMessages)
}

func TestNewRelayLogger_Categories(t *testing.T) {
	s := NewRelayLogger(NewNullLogger())

	stats := s.GetSamplerStats()
	assert.Contains(t, stats, CategoryFrameRelay)
	assert.Contains(t, stats, CategoryPacing)
	assert.Contains(t, stats, CategoryBufferEvict)
	assert.Contains(t, stats, CategoryMalformedPart)
	assert.NotContains(t, stats, CategoryStallRecovery)
}
