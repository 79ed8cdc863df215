package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/zsiec/steady/internal/errors"
	"github.com/zsiec/steady/internal/logger"
	"github.com/zsiec/steady/internal/relay/probe"
)

var errNoStreamEndpoint = fmt.Errorf("no MJPEG endpoint found on host")

// Handlers wraps the relay manager to provide HTTP handlers
type Handlers struct {
	manager      *Manager
	logger       logger.Logger
	errorHandler *errors.ErrorHandler
}

// NewHandlers creates a new handlers wrapper
func NewHandlers(manager *Manager, log logger.Logger, errorHandler *errors.ErrorHandler) *Handlers {
	return &Handlers{
		manager:      manager,
		logger:       log.WithField("component", "relay_handlers"),
		errorHandler: errorHandler,
	}
}

// RegisterRoutes registers all relay API routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// The viewer-facing stream endpoint lives at the root, like the camera
	// apps it fronts.
	router.HandleFunc("/stream", h.HandleStream).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	// Endpoint discovery
	api.HandleFunc("/scan", h.HandleScan).Methods("GET")

	// Session management endpoints
	api.HandleFunc("/sessions", h.HandleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.HandleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.HandleStopSession).Methods("DELETE")

	// System stats endpoint
	api.HandleFunc("/stats", h.HandleStats).Methods("GET")

	h.logger.Info("Relay routes registered")
}

// API Response DTOs
type ScanResponse struct {
	Host    string         `json:"host"`
	Port    int            `json:"port"`
	Results []probe.Result `json:"results"`
	Best    *probe.Result  `json:"best,omitempty"`
	Time    time.Time      `json:"time"`
}

type SessionListResponse struct {
	Sessions []SessionInfo `json:"sessions"`
	Count    int           `json:"count"`
	Time     time.Time     `json:"time"`
}

// HandleStream relays an upstream camera to the viewer. Query parameters:
// url (full upstream URL) or host[+port] combined with the configured
// default path probing; profile, tier and fps override the relay defaults
// for this session.
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	target, err := h.resolveTarget(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	opts := SessionOptions{
		Profile:    r.URL.Query().Get("profile"),
		BufferTier: r.URL.Query().Get("tier"),
	}
	if fps := r.URL.Query().Get("fps"); fps != "" {
		parsed, perr := strconv.ParseFloat(fps, 64)
		if perr != nil || parsed <= 0 {
			h.errorHandler.HandleError(w, r,
				errors.NewValidationError("fps must be a positive number"))
			return
		}
		opts.TargetFPS = parsed
	}

	if err := h.manager.Serve(r.Context(), w, target, opts); err != nil {
		// Headers may already be gone down the wire; HandleError is only
		// safe before the first frame.
		if appErr, ok := errors.GetAppError(err); ok && appErr.Type != errors.ErrorTypeSinkWriteFailure {
			h.errorHandler.HandleError(w, r, err)
			return
		}
		h.logger.WithError(err).Debug("Stream ended with write failure")
	}
}

// resolveTarget turns the request's url or host/port parameters into a full
// upstream URL, probing the candidate endpoints when only a host is given.
func (h *Handlers) resolveTarget(r *http.Request) (string, error) {
	q := r.URL.Query()

	if raw := q.Get("url"); raw != "" {
		return raw, nil
	}

	host := q.Get("host")
	if host == "" {
		return "", errors.NewValidationError("either url or host parameter is required")
	}

	port := 0
	if p := q.Get("port"); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil || parsed < 1 || parsed > 65535 {
			return "", errors.NewValidationError("port must be between 1 and 65535")
		}
		port = parsed
	}

	results := h.manager.Scan(r.Context(), host, port)
	best, ok := probe.Best(results)
	if !ok || best.Classification != probe.ClassMJPEGMultipart {
		return "", errors.NewUpstreamUnavailableError(host, errNoStreamEndpoint)
	}
	return best.URL, nil
}

// HandleScan probes a camera host and reports every candidate endpoint.
func (h *Handlers) HandleScan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	host := q.Get("host")
	if host == "" {
		h.errorHandler.HandleError(w, r, errors.NewValidationError("host parameter is required"))
		return
	}

	port := 0
	if p := q.Get("port"); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil || parsed < 1 || parsed > 65535 {
			h.errorHandler.HandleError(w, r, errors.NewValidationError("port must be between 1 and 65535"))
			return
		}
		port = parsed
	}
	if port == 0 {
		port = h.manager.cfg.Upstream.DefaultPort
	}

	results := h.manager.Scan(r.Context(), host, port)

	resp := ScanResponse{
		Host:    host,
		Port:    port,
		Results: results,
		Time:    time.Now(),
	}
	if best, ok := probe.Best(results); ok {
		resp.Best = &best
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// HandleListSessions returns all active sessions.
func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.manager.Sessions()
	h.writeJSON(w, r, http.StatusOK, SessionListResponse{
		Sessions: sessions,
		Count:    len(sessions),
		Time:     time.Now(),
	})
}

// HandleGetSession returns one session by ID.
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	info, ok := h.manager.Session(id)
	if !ok {
		h.errorHandler.HandleError(w, r, errors.NewNotFoundError("session"))
		return
	}
	h.writeJSON(w, r, http.StatusOK, info)
}

// HandleStopSession tears down a session by ID.
func (h *Handlers) HandleStopSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if !h.manager.StopSession(id) {
		h.errorHandler.HandleError(w, r, errors.NewNotFoundError("session"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleStats returns relay-level counters.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.manager.Stats())
}

func (h *Handlers) writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}
