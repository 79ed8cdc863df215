package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/steady/internal/config"
	"github.com/zsiec/steady/pkg/version"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			HTTPPort:           8080,
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       0,
			ShutdownTimeout:    time.Second,
			RateLimitPerSecond: 100,
			RateLimitBurst:     100,
		},
		Logging: config.LoggingConfig{Level: "error", Format: "json", Output: "stdout"},
		Metrics: config.MetricsConfig{Enabled: false, Path: "/metrics", Port: 9090},
		Relay: config.RelayConfig{
			Upstream: config.UpstreamConfig{
				DefaultPort:    4747,
				ConnectTimeout: time.Second,
				ReadTimeout:    time.Second,
				UserAgent:      "Steady/test",
			},
			Buffer:      config.BufferConfig{Tier: "large", ExpectedFrameSize: 16384},
			Smoothing:   config.SmoothingConfig{Profile: "ultra", TargetFPS: 24},
			Scan:        config.ScanConfig{Timeout: time.Second, RatePerSecond: 100, Burst: 10},
			MaxSessions: 4,
		},
	}
}

func newTestServer(cfg *config.Config) *Server {
	log := logrus.New()
	log.SetOutput(io.Discard)

	s := New(cfg, log)
	s.registerDefaultCheckers()
	s.setupRoutes()
	return s
}

func TestServer_HealthEndpoints(t *testing.T) {
	s := newTestServer(testConfig())

	for _, path := range []string{"/health", "/live"} {
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	// Ready flips once the health endpoint has run the checks.
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_VersionEndpoint(t *testing.T) {
	s := newTestServer(testConfig())

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var info version.Info
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.NotEmpty(t, info.GoVersion)
}

func TestServer_NotFound(t *testing.T) {
	s := newTestServer(testConfig())

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s := newTestServer(testConfig())

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/version", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_AdditionalRoutes(t *testing.T) {
	cfg := testConfig()
	log := logrus.New()
	log.SetOutput(io.Discard)

	s := New(cfg, log)
	s.RegisterRoutes(func(r *mux.Router) {
		r.HandleFunc("/custom", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}).Methods("GET")
	})
	s.setupRoutes()

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/custom", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestServer_MetricsOnMainListener(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = cfg.Server.HTTPPort // same listener

	s := newTestServer(cfg)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_RequestIDPropagated(t *testing.T) {
	s := newTestServer(testConfig())

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, "fixed-id", rec.Header().Get("X-Request-ID"))
}
