package relay

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/zsiec/steady/internal/config"
	"github.com/zsiec/steady/internal/errors"
	"github.com/zsiec/steady/internal/logger"
	"github.com/zsiec/steady/internal/relay/probe"
)

// Stats aggregates manager-level counters for the stats API.
type Stats struct {
	ActiveSessions int       `json:"active_sessions"`
	TotalSessions  uint64    `json:"total_sessions"`
	MaxSessions    int       `json:"max_sessions"`
	StartedAt      time.Time `json:"started_at"`
}

// Manager owns the session table and enforces the concurrent-session cap.
// Sessions never interact with each other; the manager only tracks them for
// the API and for shutdown.
type Manager struct {
	cfg    *config.RelayConfig
	dialer *Dialer
	prober *probe.Prober
	logger logger.Logger

	sessions map[string]*Session
	mu       sync.RWMutex

	// active counts admitted sessions, including ones still dialing their
	// upstream and so not yet in the table.
	active    int
	total     uint64
	startedAt time.Time
}

// NewManager creates a relay manager.
func NewManager(cfg *config.RelayConfig, log logger.Logger) *Manager {
	componentLog := log.WithField("component", "relay_manager")
	return &Manager{
		cfg:       cfg,
		dialer:    NewDialer(cfg.Upstream, componentLog),
		prober:    probe.NewProber(cfg.Scan, cfg.Upstream.UserAgent, componentLog),
		logger:    componentLog,
		sessions:  make(map[string]*Session),
		startedAt: time.Now(),
	}
}

// Serve opens the upstream at rawURL and relays it to the viewer for the
// lifetime of the request. Options override the configured profile and
// buffer tier per session.
func (m *Manager) Serve(ctx context.Context, w http.ResponseWriter, rawURL string, opts SessionOptions) error {
	if err := m.admit(); err != nil {
		return err
	}
	defer m.release()

	upstream, err := m.dialer.Dial(ctx, rawURL)
	if err != nil {
		return err
	}

	sessionCfg := m.sessionConfig(opts)
	session, err := NewSession(upstream, sessionCfg, m.logger)
	if err != nil {
		upstream.Close()
		return err
	}

	m.register(session)
	defer m.unregister(session.ID())

	return session.Run(ctx, w)
}

// Scan probes a camera host's candidate endpoints.
func (m *Manager) Scan(ctx context.Context, host string, port int) []probe.Result {
	if port <= 0 {
		port = m.cfg.Upstream.DefaultPort
	}
	return m.prober.Scan(ctx, host, port)
}

// Sessions lists active sessions, newest first.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.After(infos[j].StartedAt)
	})
	return infos
}

// Session returns one session's info by ID.
func (m *Manager) Session(id string) (SessionInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return SessionInfo{}, false
	}
	return s.Info(), true
}

// StopSession tears down a session by ID.
func (m *Manager) StopSession(id string) bool {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if ok {
		s.Close()
	}
	return ok
}

// Stats snapshots manager counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		ActiveSessions: m.active,
		TotalSessions:  m.total,
		MaxSessions:    m.cfg.MaxSessions,
		StartedAt:      m.startedAt,
	}
}

// ActiveSessions returns the number of admitted sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// MaxSessions returns the configured session cap.
func (m *Manager) MaxSessions() int {
	return m.cfg.MaxSessions
}

// Close tears down every active session. Used on server shutdown.
func (m *Manager) Close() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.Close()
	}
}

// SessionOptions are per-request overrides of the relay defaults.
type SessionOptions struct {
	Profile    string
	BufferTier string
	TargetFPS  float64
}

func (m *Manager) sessionConfig(opts SessionOptions) *config.RelayConfig {
	cfg := *m.cfg
	if opts.Profile != "" {
		cfg.Smoothing.Profile = opts.Profile
	}
	if opts.BufferTier != "" {
		cfg.Buffer.Tier = opts.BufferTier
	}
	if opts.TargetFPS > 0 {
		cfg.Smoothing.TargetFPS = opts.TargetFPS
	}
	return &cfg
}

// admit reserves a session slot or rejects with a rate limit error when the
// cap is reached.
func (m *Manager) admit() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.MaxSessions > 0 && m.active >= m.cfg.MaxSessions {
		return errors.NewRateLimitError("maximum concurrent sessions reached")
	}
	m.active++
	m.total++
	return nil
}

func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active--
}

func (m *Manager) register(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID()] = s
}

func (m *Manager) unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}
