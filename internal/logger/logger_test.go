package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/steady/internal/config"
)

func TestNew_JSONFormat(t *testing.T) {
	cfg := &config.LoggingConfig{
		Level:  "debug",
		Format: "json",
		Output: "stdout",
	}

	log, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.WithField("session_id", "abc").Info("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "abc", entry["session_id"])
	assert.NotEmpty(t, entry["timestamp"])
}

func TestNew_TextFormat(t *testing.T) {
	cfg := &config.LoggingConfig{
		Level:  "info",
		Format: "text",
		Output: "stderr",
	}

	log, err := New(cfg)
	require.NoError(t, err)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.Info("plain text line")
	assert.Contains(t, buf.String(), "plain text line")
}

func TestNew_InvalidLevel(t *testing.T) {
	cfg := &config.LoggingConfig{
		Level:  "shout",
		Format: "json",
		Output: "stdout",
	}

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestNew_FileOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.LoggingConfig{
		Level:   "info",
		Format:  "json",
		Output:  filepath.Join(dir, "logs", "steady.log"),
		MaxSize: 1,
	}

	log, err := New(cfg)
	require.NoError(t, err)
	log.Info("write to file")
}

func TestWithComponent(t *testing.T) {
	log := logrus.New()
	entry := WithComponent(log, "pacer")
	assert.Equal(t, "pacer", entry.Data["component"])
}

func TestWithSession(t *testing.T) {
	log := logrus.New()
	entry := WithSession(log, "sess-1")
	assert.Equal(t, "sess-1", entry.Data["session_id"])
}

func TestContextRoundTrip(t *testing.T) {
	log := logrus.New()
	entry := log.WithField("k", "v")

	ctx := WithLogger(context.Background(), entry)
	got := FromContext(ctx)
	assert.Equal(t, "v", got.Data["k"])

	ctx = WithRequestID(ctx, "rid-1")
	assert.Equal(t, "rid-1", GetRequestID(ctx))
}

func TestFromContext_Fallback(t *testing.T) {
	got := FromContext(context.Background())
	assert.NotNil(t, got)
}

func TestRequestLoggerMiddleware(t *testing.T) {
	log := logrus.New()
	log.SetOutput(&bytes.Buffer{})

	var sawRequestID string
	handler := RequestLoggerMiddleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawRequestID = GetRequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/scan", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.NotEmpty(t, sawRequestID)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestResponseWriter_CapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK) // second call ignored
	_, err := rw.Write([]byte("x"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusTeapot, rw.StatusCode())
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestResponseWriter_Flush(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)
	rw.Flush()
	assert.True(t, rec.Flushed)
}
