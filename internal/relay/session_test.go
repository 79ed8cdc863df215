package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/steady/internal/config"
	"github.com/zsiec/steady/internal/logger"
	"github.com/zsiec/steady/internal/relay/mjpeg"
)

func testRelayConfig() *config.RelayConfig {
	return &config.RelayConfig{
		Upstream: testUpstreamConfig(),
		Buffer: config.BufferConfig{
			Tier:              "large",
			ExpectedFrameSize: 4096,
		},
		Smoothing: config.SmoothingConfig{
			Profile:   "basic",
			TargetFPS: 30,
		},
		Scan: config.ScanConfig{
			Timeout:       time.Second,
			RatePerSecond: 100,
			Burst:         10,
		},
		MaxSessions: 4,
	}
}

func framePayload(n int) []byte {
	p := []byte{0xFF, 0xD8}
	for i := 0; i < 64; i++ {
		p = append(p, byte(n), byte(i))
	}
	return append(p, 0xFF, 0xD9)
}

func dialTestUpstream(t *testing.T, handler http.HandlerFunc) (*UpstreamConn, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)

	d := NewDialer(testUpstreamConfig(), logger.NewNullLogger())
	conn, err := d.Dial(context.Background(), srv.URL)
	require.NoError(t, err)

	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

// readRelayed parses the viewer-side body back into frames.
func readRelayed(t *testing.T, body io.Reader) []*mjpeg.Frame {
	t.Helper()
	r := mjpeg.NewReader(body, mjpeg.DefaultBoundary)
	var frames []*mjpeg.Frame
	for {
		f, err := r.Next(context.Background())
		if err == io.EOF {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, f)
	}
}

func TestSession_RelaysAllFramesByteExact(t *testing.T) {
	payloads := [][]byte{framePayload(1), framePayload(2), framePayload(3), framePayload(4)}
	conn, cleanup := dialTestUpstream(t, serveFrames("camb", payloads...))
	defer cleanup()

	session, err := NewSession(conn, testRelayConfig(), logger.NewNullLogger())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, session.Run(context.Background(), rec))

	assert.Contains(t, rec.Header().Get("Content-Type"), "multipart/x-mixed-replace")
	assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))

	frames := readRelayed(t, rec.Body)
	require.Len(t, frames, len(payloads))
	for i, f := range frames {
		assert.Equal(t, payloads[i], f.Data, "frame %d must survive the relay untouched", i)
	}

	info := session.Info()
	assert.Equal(t, uint64(len(payloads)), info.FramesRelayed)
	assert.Equal(t, "closed", info.State)
	assert.Equal(t, "basic", info.Profile)
	assert.Zero(t, info.MalformedParts)
}

func TestSession_SkipsMalformedParts(t *testing.T) {
	good1 := framePayload(1)
	good2 := framePayload(2)

	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=camb")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)

		fmt.Fprintf(w, "--camb\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(good1))
		w.Write(good1)
		fmt.Fprint(w, "\r\n")
		// Unparseable header block in the middle
		fmt.Fprint(w, "--camb\r\n\x01\x02 broken\r\n\r\n")
		fmt.Fprintf(w, "--camb\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(good2))
		w.Write(good2)
		fmt.Fprint(w, "\r\n--camb--\r\n")
		flusher.Flush()
	}

	conn, cleanup := dialTestUpstream(t, handler)
	defer cleanup()

	session, err := NewSession(conn, testRelayConfig(), logger.NewNullLogger())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, session.Run(context.Background(), rec))

	frames := readRelayed(t, rec.Body)
	require.Len(t, frames, 2)
	assert.Equal(t, good1, frames[0].Data)
	assert.Equal(t, good2, frames[1].Data)
	assert.GreaterOrEqual(t, session.Info().MalformedParts, int64(1))
}

func TestSession_ViewerDisconnectTearsDown(t *testing.T) {
	// Upstream streams forever.
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=camb")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		p := framePayload(0)
		for i := 0; ; i++ {
			select {
			case <-r.Context().Done():
				return
			default:
			}
			fmt.Fprintf(w, "--camb\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(p))
			w.Write(p)
			fmt.Fprint(w, "\r\n")
			flusher.Flush()
			time.Sleep(5 * time.Millisecond)
		}
	}

	conn, cleanup := dialTestUpstream(t, handler)
	defer cleanup()

	session, err := NewSession(conn, testRelayConfig(), logger.NewNullLogger())
	require.NoError(t, err)

	viewerCtx, disconnect := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()

	done := make(chan error, 1)
	go func() {
		done <- session.Run(viewerCtx, rec)
	}()

	time.Sleep(50 * time.Millisecond)
	disconnect()

	select {
	case err := <-done:
		assert.NoError(t, err, "viewer disconnect is a clean teardown")
	case <-time.After(2 * time.Second):
		t.Fatal("session did not tear down after viewer disconnect")
	}
	assert.Equal(t, "closed", session.Info().State)
}

func TestSession_CloseStopsRun(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=camb")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done() // stream nothing, just hold the connection
	}

	conn, cleanup := dialTestUpstream(t, handler)
	defer cleanup()

	session, err := NewSession(conn, testRelayConfig(), logger.NewNullLogger())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- session.Run(context.Background(), httptest.NewRecorder())
	}()

	time.Sleep(30 * time.Millisecond)
	session.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after Close")
	}
	assert.Equal(t, "closed", session.Info().State)
}

func TestNewSession_RejectsBadConfig(t *testing.T) {
	conn, cleanup := dialTestUpstream(t, serveFrames("camb", framePayload(1)))
	defer cleanup()

	badProfile := testRelayConfig()
	badProfile.Smoothing.Profile = "vhs"
	_, err := NewSession(conn, badProfile, logger.NewNullLogger())
	assert.Error(t, err)

	badTier := testRelayConfig()
	badTier.Buffer.Tier = "enormous"
	_, err = NewSession(conn, badTier, logger.NewNullLogger())
	assert.Error(t, err)
}
