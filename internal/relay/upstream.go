package relay

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/zsiec/steady/internal/config"
	"github.com/zsiec/steady/internal/errors"
	"github.com/zsiec/steady/internal/logger"
)

// UpstreamConn is an open camera stream: the negotiated boundary token plus
// the raw multipart body. The caller owns Body and must close it.
type UpstreamConn struct {
	URL         string
	ContentType string
	Boundary    string
	Body        io.ReadCloser
}

// Close releases the upstream connection.
func (u *UpstreamConn) Close() error {
	return u.Body.Close()
}

// Dialer opens camera endpoints with connect and per-read deadlines. A read
// deadline doubles as stall detection: an upstream that stops sending frames
// for longer than the read timeout fails the blocked read, which the session
// treats as terminal.
type Dialer struct {
	cfg    config.UpstreamConfig
	client *http.Client
	logger logger.Logger
}

// NewDialer creates a dialer from upstream config.
func NewDialer(cfg config.UpstreamConfig, log logger.Logger) *Dialer {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}

	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &deadlineConn{Conn: conn, readTimeout: cfg.ReadTimeout}, nil
		},
		// One throwaway connection per session; cameras cap clients hard.
		DisableKeepAlives: true,
	}

	return &Dialer{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			// No overall timeout: the response body streams indefinitely.
		},
		logger: log,
	}
}

// Dial opens rawURL and validates that it serves an MJPEG multipart stream.
// The returned connection's Body is bound to ctx: cancelling the context
// aborts blocked reads.
func (d *Dialer) Dial(ctx context.Context, rawURL string) (*UpstreamConn, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.NewUpstreamUnavailableError(rawURL, err)
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, errors.NewUpstreamUnavailableError(rawURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, errors.NewUpstreamUnavailableError(rawURL,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		resp.Body.Close()
		return nil, errors.NewUpstreamUnavailableError(rawURL,
			fmt.Errorf("unparseable content type %q: %w", contentType, err))
	}
	if !strings.EqualFold(mediaType, "multipart/x-mixed-replace") {
		resp.Body.Close()
		return nil, errors.NewUpstreamUnavailableError(rawURL,
			fmt.Errorf("not an MJPEG stream: content type %q", mediaType))
	}

	boundary := params["boundary"]
	if boundary == "" {
		resp.Body.Close()
		return nil, errors.NewUpstreamUnavailableError(rawURL,
			fmt.Errorf("multipart content type missing boundary parameter"))
	}

	d.logger.WithFields(map[string]interface{}{
		"url":      rawURL,
		"boundary": boundary,
	}).Info("Upstream connected")

	return &UpstreamConn{
		URL:         rawURL,
		ContentType: contentType,
		Boundary:    boundary,
		Body:        resp.Body,
	}, nil
}

// deadlineConn arms a fresh read deadline before every read so a silent
// upstream surfaces as a timeout instead of a goroutine blocked forever.
type deadlineConn struct {
	net.Conn
	readTimeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(p)
}
