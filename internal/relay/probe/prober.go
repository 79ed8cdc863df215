package probe

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zsiec/steady/internal/config"
	"github.com/zsiec/steady/internal/logger"
	"github.com/zsiec/steady/internal/metrics"
)

// Classification is what a probed endpoint turned out to serve.
type Classification string

const (
	// ClassMJPEGMultipart is a live multipart/x-mixed-replace stream.
	ClassMJPEGMultipart Classification = "mjpeg-multipart"
	// ClassSingleImage is a still image endpoint.
	ClassSingleImage Classification = "single-image"
	// ClassUnknown responded but with a content type we do not relay.
	ClassUnknown Classification = "unknown"
	// ClassUnreachable failed to connect, timed out, or returned an error
	// status.
	ClassUnreachable Classification = "unreachable"
)

// DefaultCandidatePaths covers the common phone-camera app endpoints:
// DroidCam (/video), IP Webcam (/mjpegfeed), generic IP cameras
// (/cam/1/stream) and a bare root fallback.
var DefaultCandidatePaths = []string{"/video", "/mjpegfeed", "/cam/1/stream", "/"}

// Result is one candidate's probe outcome. The prober reports every
// candidate; picking one is the caller's decision.
type Result struct {
	URL            string         `json:"url"`
	Path           string         `json:"path"`
	Classification Classification `json:"classification"`
	ContentType    string         `json:"content_type,omitempty"`
	Boundary       string         `json:"boundary,omitempty"`
	StatusCode     int            `json:"status_code,omitempty"`
	Latency        time.Duration  `json:"latency_ms"`
	Error          string         `json:"error,omitempty"`
}

// Prober probes a camera host's candidate endpoints concurrently and
// classifies each by the content type it answers with. Probe starts are
// paced by a rate limiter so a scan does not hammer the camera.
type Prober struct {
	client    *http.Client
	timeout   time.Duration
	limiter   *rate.Limiter
	paths     []string
	userAgent string
	logger    logger.Logger
}

// NewProber builds a prober from scan config. The HTTP client disables
// keep-alives: probe connections are throwaway and cameras tend to cap
// concurrent clients.
func NewProber(cfg config.ScanConfig, userAgent string, log logger.Logger) *Prober {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Prober{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext:       (&net.Dialer{Timeout: timeout}).DialContext,
				DisableKeepAlives: true,
			},
			// No client timeout: an MJPEG endpoint never finishes its body.
			// The per-probe context bounds each request instead.
		},
		timeout:   timeout,
		limiter:   rate.NewLimiter(limit, burst),
		paths:     DefaultCandidatePaths,
		userAgent: userAgent,
		logger:    log,
	}
}

// Scan probes every candidate path on host:port and returns all results in
// candidate order. A failed candidate is reported as unreachable and never
// aborts the rest of the scan.
func (p *Prober) Scan(ctx context.Context, host string, port int) []Result {
	results := make([]Result, len(p.paths))

	var wg sync.WaitGroup
	for i, path := range p.paths {
		if err := p.limiter.Wait(ctx); err != nil {
			// Context gone: mark the remaining candidates unreachable.
			for j := i; j < len(p.paths); j++ {
				results[j] = Result{
					URL:            candidateURL(host, port, p.paths[j]),
					Path:           p.paths[j],
					Classification: ClassUnreachable,
					Error:          err.Error(),
				}
			}
			break
		}

		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			results[i] = p.probe(ctx, host, port, path)
		}(i, path)
	}
	wg.Wait()

	for _, r := range results {
		metrics.ProbeResult(string(r.Classification))
	}
	return results
}

// Best returns the most stream-worthy result from a scan: multipart streams
// first, then still images, preserving candidate order within a class.
func Best(results []Result) (Result, bool) {
	ranked := make([]Result, len(results))
	copy(ranked, results)
	sort.SliceStable(ranked, func(i, j int) bool {
		return classRank(ranked[i].Classification) < classRank(ranked[j].Classification)
	})
	if len(ranked) == 0 || classRank(ranked[0].Classification) >= classRank(ClassUnknown) {
		return Result{}, false
	}
	return ranked[0], true
}

func classRank(c Classification) int {
	switch c {
	case ClassMJPEGMultipart:
		return 0
	case ClassSingleImage:
		return 1
	case ClassUnknown:
		return 2
	default:
		return 3
	}
}

func (p *Prober) probe(ctx context.Context, host string, port int, path string) Result {
	url := candidateURL(host, port, path)
	result := Result{URL: url, Path: path}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		result.Classification = ClassUnreachable
		result.Error = err.Error()
		return result
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	result.Latency = time.Since(start)
	if err != nil {
		result.Classification = ClassUnreachable
		result.Error = err.Error()
		p.logger.WithField("url", url).WithError(err).Debug("Probe failed")
		return result
	}
	// Only the headers matter; an MJPEG body would stream forever.
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.ContentType = resp.Header.Get("Content-Type")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.Classification = ClassUnreachable
		result.Error = fmt.Sprintf("status %d", resp.StatusCode)
		return result
	}

	mediaType, params, err := mime.ParseMediaType(result.ContentType)
	if err != nil {
		result.Classification = ClassUnknown
		return result
	}

	switch {
	case mediaType == "multipart/x-mixed-replace":
		result.Classification = ClassMJPEGMultipart
		result.Boundary = params["boundary"]
	case strings.HasPrefix(mediaType, "image/"):
		result.Classification = ClassSingleImage
	default:
		result.Classification = ClassUnknown
	}

	p.logger.WithFields(map[string]interface{}{
		"url":            url,
		"classification": result.Classification,
		"latency_ms":     result.Latency.Milliseconds(),
	}).Debug("Probe completed")
	return result
}

func candidateURL(host string, port int, path string) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + path
}
