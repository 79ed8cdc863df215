package relay

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/steady/internal/config"
	"github.com/zsiec/steady/internal/errors"
	"github.com/zsiec/steady/internal/logger"
	"github.com/zsiec/steady/internal/metrics"
	"github.com/zsiec/steady/internal/relay/jitter"
	"github.com/zsiec/steady/internal/relay/mjpeg"
	"github.com/zsiec/steady/internal/relay/pacer"
	"github.com/zsiec/steady/internal/relay/timing"
)

// SessionState tracks a session through its lifecycle.
type SessionState int32

const (
	StateStarting SessionState = iota
	StateRunning
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionInfo is the read-only view of a session exposed over the API.
type SessionInfo struct {
	ID             string    `json:"id"`
	UpstreamURL    string    `json:"upstream_url"`
	Profile        string    `json:"profile"`
	State          string    `json:"state"`
	StartedAt      time.Time `json:"started_at"`
	FramesRelayed  uint64    `json:"frames_relayed"`
	FramesEvicted  uint64    `json:"frames_evicted"`
	StallReemits   uint64    `json:"stall_reemits"`
	MalformedParts int64     `json:"malformed_parts"`
	BufferDepth    int       `json:"buffer_depth"`
}

// Session relays one upstream camera stream to one viewer. It owns all of
// its pipeline state: the upstream connection, the multipart reader, the
// jitter buffer, the cadence predictor and the pacer. Nothing is shared
// between sessions.
//
// Two goroutines run per session: the reader pulls frames off the upstream
// into the buffer, and Run's calling goroutine paces frames out of the
// buffer to the viewer. An upstream failure is terminal; the session drains
// what it has buffered and tears down.
type Session struct {
	id       string
	upstream *UpstreamConn
	profile  pacer.Profile

	reader *mjpeg.Reader
	buffer *jitter.Buffer
	pred   *timing.Predictor
	pacer  *pacer.Pacer

	logger   logger.Logger
	relayLog *logger.SampledLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	state     atomic.Int32
	startedAt time.Time
	relayed   atomic.Uint64
}

// NewSession assembles a session pipeline around an open upstream
// connection. The session takes ownership of the connection.
func NewSession(upstream *UpstreamConn, cfg *config.RelayConfig, log logger.Logger) (*Session, error) {
	profile, err := pacer.ParseProfile(cfg.Smoothing.Profile)
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}

	capacity, ok := config.BufferTierBytes[cfg.Buffer.Tier]
	if !ok {
		return nil, errors.NewValidationError("unknown buffer tier " + cfg.Buffer.Tier)
	}

	id := uuid.New().String()
	sessionLog := log.WithFields(map[string]interface{}{
		"session_id": id,
		"upstream":   upstream.URL,
		"profile":    profile,
	})

	ctx, cancel := context.WithCancel(context.Background())

	pred := timing.NewPredictor(cfg.Smoothing.TargetFPS)

	s := &Session{
		id:        id,
		upstream:  upstream,
		profile:   profile,
		reader:    mjpeg.NewReader(upstream.Body, upstream.Boundary),
		buffer:    jitter.NewBuffer(jitter.ConfigForCapacity(capacity, cfg.Buffer.ExpectedFrameSize)),
		pred:      pred,
		pacer:     pacer.New(profile, cfg.Smoothing.TargetFPS, pred),
		logger:    sessionLog,
		relayLog:  logger.NewRelayLogger(sessionLog),
		ctx:       ctx,
		cancel:    cancel,
		startedAt: time.Now(),
	}
	s.pacer.OnDelay(func(d time.Duration) {
		metrics.PacingDelay(profile.String(), d.Seconds())
	})
	s.state.Store(int32(StateStarting))
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Info snapshots the session for the API.
func (s *Session) Info() SessionInfo {
	pacerStats := s.pacer.Stats()
	_, _, evicted := s.buffer.Stats()
	return SessionInfo{
		ID:             s.id,
		UpstreamURL:    s.upstream.URL,
		Profile:        s.profile.String(),
		State:          SessionState(s.state.Load()).String(),
		StartedAt:      s.startedAt,
		FramesRelayed:  s.relayed.Load(),
		FramesEvicted:  evicted,
		StallReemits:   pacerStats.Reemits,
		MalformedParts: s.reader.MalformedParts(),
		BufferDepth:    s.buffer.Len(),
	}
}

// Run relays frames to the viewer until the upstream ends, the viewer
// disconnects, or ctx is cancelled. It blocks for the session's lifetime
// and always tears the pipeline down before returning.
//
// The upstream ending is a clean finish (nil); a viewer write failure
// returns a sink write error.
func (s *Session) Run(ctx context.Context, w http.ResponseWriter) error {
	s.state.Store(int32(StateRunning))
	metrics.SessionStarted(s.profile.String())

	defer func() {
		s.teardown()
		metrics.SessionEnded(s.id, time.Since(s.startedAt).Seconds())
	}()

	writer := mjpeg.NewWriter(w, mjpeg.DefaultBoundary)
	w.Header().Set("Content-Type", writer.ContentType())
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)

	s.wg.Add(1)
	go s.readLoop()

	s.logger.Info("Session started")

	// Viewer disconnect cancels the request context, which unwinds the
	// pacer wait and the teardown closes the upstream behind the reader.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	var lastSeq uint64
	err := s.pacer.Run(runCtx, s.buffer, func(f *mjpeg.Frame) error {
		if werr := writer.WriteFrame(f); werr != nil {
			return errors.NewSinkWriteFailureError(werr)
		}
		if f.Seq == lastSeq {
			metrics.StallReemit(s.id)
			s.relayLog.LogWithCategory(logrus.InfoLevel, logger.CategoryStallRecovery,
				"Re-emitted last frame during upstream stall",
				map[string]interface{}{"seq": f.Seq})
		} else {
			lastSeq = f.Seq
			s.relayed.Add(1)
			metrics.FrameRelayed(s.id, f.Size())
			s.relayLog.LogWithCategory(logrus.DebugLevel, logger.CategoryFrameRelay,
				"Frame relayed",
				map[string]interface{}{"seq": f.Seq, "bytes": f.Size()})
		}
		return nil
	})

	if err != nil && runCtx.Err() != nil && s.ctx.Err() == nil {
		// The viewer went away; not a relay failure.
		s.logger.Info("Viewer disconnected")
		return nil
	}
	if err != nil {
		s.logger.WithError(err).Error("Session ended with error")
		return err
	}

	s.logger.WithField("frames", s.relayed.Load()).Info("Session ended")
	return nil
}

// Close tears the session down from outside (manager shutdown, API stop).
func (s *Session) Close() {
	s.cancel()
	s.upstream.Close()
}

// readLoop pulls frames off the upstream into the jitter buffer and feeds
// the cadence predictor. Any upstream error is terminal: the loop closes
// the buffer so the pacer drains the remaining frames and finishes.
func (s *Session) readLoop() {
	defer s.wg.Done()
	defer s.buffer.Close()

	var seenMalformed int64
	for {
		frame, err := s.reader.Next(s.ctx)

		if dropped := s.reader.MalformedParts(); dropped > seenMalformed {
			for ; seenMalformed < dropped; seenMalformed++ {
				metrics.MalformedPart(s.id)
			}
			s.relayLog.LogWithCategory(logrus.WarnLevel, logger.CategoryMalformedPart,
				"Skipped malformed part", map[string]interface{}{"total_dropped": dropped})
		}

		if err != nil {
			if err == io.EOF {
				s.logger.Info("Upstream stream ended")
			} else if s.ctx.Err() == nil {
				s.logger.WithError(err).Warn("Upstream read failed")
			}
			return
		}

		s.pred.Observe(frame.CapturedAt)

		if evicted := s.buffer.Push(frame); evicted > 0 {
			metrics.FramesEvicted(s.id, evicted)
			s.relayLog.LogWithCategory(logrus.DebugLevel, logger.CategoryBufferEvict,
				"Evicted oldest frames to admit new one",
				map[string]interface{}{"evicted": evicted, "seq": frame.Seq})
		}
		metrics.BufferDepth(s.id, s.buffer.Len())
	}
}

// teardown releases the pipeline in dependency order: cancel, close the
// upstream to unblock the reader, wait for it, then mark closed.
func (s *Session) teardown() {
	s.cancel()
	s.upstream.Close()
	s.wg.Wait()
	s.buffer.Close()
	s.state.Store(int32(StateClosed))
}
