package server

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Import for side effects (registers pprof handlers)
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/steady/internal/config"
	"github.com/zsiec/steady/internal/errors"
	"github.com/zsiec/steady/internal/health"
	"github.com/zsiec/steady/internal/logger"
)

// Server is the HTTP front of the relay: the viewer stream endpoint, the
// management API, health and metrics. Plain HTTP/1.1 on purpose — MJPEG
// viewers speak multipart over h1 and nothing else.
type Server struct {
	config       *config.Config
	router       *mux.Router
	httpServer   *http.Server
	logger       *logrus.Logger
	healthMgr    *health.Manager
	errorHandler *errors.ErrorHandler

	// Additional handlers can be registered before Start
	additionalRoutes []func(*mux.Router)
}

// New creates a new server instance.
func New(cfg *config.Config, log *logrus.Logger) *Server {
	return &Server{
		config:           cfg,
		router:           mux.NewRouter(),
		logger:           log,
		healthMgr:        health.NewManager(log),
		errorHandler:     errors.NewErrorHandler(log),
		additionalRoutes: make([]func(*mux.Router), 0),
	}
}

// RegisterRoutes queues a route registration callback. Must be called before
// Start.
func (s *Server) RegisterRoutes(register func(*mux.Router)) {
	s.additionalRoutes = append(s.additionalRoutes, register)
}

// RegisterHealthChecker adds a health checker to the manager.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	s.healthMgr.Register(c)
}

// Router exposes the router for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ErrorHandler exposes the shared error handler so route modules render
// errors the same way the server does.
func (s *Server) ErrorHandler() *errors.ErrorHandler {
	return s.errorHandler
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.registerDefaultCheckers()
	s.setupRoutes()

	go s.healthMgr.StartPeriodicChecks(ctx, 30*time.Second)

	if s.config.Metrics.Enabled && s.config.Metrics.Port != s.config.Server.HTTPPort {
		go s.startMetricsServer(ctx)
	}

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", s.config.Server.HTTPPort),
		Handler:     s.router,
		ReadTimeout: s.config.Server.ReadTimeout,
		// WriteTimeout stays at the configured value, which defaults to zero:
		// a deadline here would cut off every long-lived stream response.
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	s.logger.WithField("port", s.config.Server.HTTPPort).Info("Starting HTTP server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed to start: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully drains connections within the configured timeout.
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Apply global middleware
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.errorHandler.Middleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.rateLimitMiddleware)

	// Health endpoints
	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods("GET")
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods("GET")

	// Version endpoint
	s.router.HandleFunc("/version", s.handleVersion).Methods("GET")

	// Metrics on the main listener when no dedicated port is configured
	if s.config.Metrics.Enabled && s.config.Metrics.Port == s.config.Server.HTTPPort {
		s.router.Handle(s.config.Metrics.Path, promhttp.Handler()).Methods("GET")
	}

	// Debug endpoints (only if enabled)
	if s.config.Server.DebugEndpoints {
		s.setupDebugEndpoints()
	}

	// Register any additional routes
	for _, registerFunc := range s.additionalRoutes {
		registerFunc(s.router)
	}

	// 404 handler
	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)
}

// startMetricsServer serves Prometheus metrics on its own listener so
// scrapes never contend with viewer streams.
func (s *Server) startMetricsServer(ctx context.Context) {
	metricsMux := http.NewServeMux()
	metricsMux.Handle(s.config.Metrics.Path, promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Metrics.Port),
		Handler: metricsMux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutdownCtx)
	}()

	s.logger.WithFields(logrus.Fields{
		"port": s.config.Metrics.Port,
		"path": s.config.Metrics.Path,
	}).Info("Starting metrics server")

	if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("Metrics server error")
	}
}

// registerDefaultCheckers registers the built-in health checkers.
func (s *Server) registerDefaultCheckers() {
	s.healthMgr.Register(health.NewMemoryChecker(0.9))
	s.healthMgr.Register(health.NewGoroutineChecker(10000))
}

// setupDebugEndpoints registers debug endpoints like pprof
func (s *Server) setupDebugEndpoints() {
	s.logger.Info("Enabling debug endpoints")

	// pprof registers itself on http.DefaultServeMux
	s.router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
}
