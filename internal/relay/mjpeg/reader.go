package mjpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const (
	// readerBufSize is sized for one typical camera frame per fill.
	readerBufSize = 64 * 1024

	// maxPartSize bounds a single part so a corrupt length header or a
	// missing boundary cannot grow the payload without limit.
	maxPartSize = 8 * 1024 * 1024

	// DefaultFrameContentType is assumed when a part omits its content type.
	DefaultFrameContentType = "image/jpeg"
)

var (
	// ErrMalformedPart marks a part whose header block or payload could not
	// be parsed. The reader recovers from it internally; it surfaces only
	// through the malformed-part counter.
	ErrMalformedPart = errors.New("malformed multipart part")
)

// Reader consumes a raw MJPEG multipart byte stream and yields Frames as a
// lazy, forward-only sequence. It is not restartable: a new Reader is
// required per upstream connection.
//
// A malformed part is skipped by resynchronizing to the next boundary line;
// a truncated final part at stream end is discarded, not emitted.
type Reader struct {
	br    *bufio.Reader
	delim []byte // "--" + boundary token, no trailing CRLF

	seq        uint64
	atBoundary bool // last payload scan already consumed the next boundary
	done       bool

	malformed atomic.Int64

	now func() time.Time
}

// NewReader creates a Reader for the given byte stream and boundary token.
// The token may arrive with or without the leading dashes and with optional
// quotes, as cameras disagree on the format.
func NewReader(r io.Reader, boundary string) *Reader {
	token := strings.Trim(boundary, `"`)
	token = strings.TrimPrefix(token, "--")

	return &Reader{
		br:    bufio.NewReaderSize(r, readerBufSize),
		delim: []byte("--" + token),
		now:   time.Now,
	}
}

// Next returns the next complete frame, blocking until one is available.
// It returns io.EOF once the upstream closes and ctx.Err() once the context
// is cancelled. Cancellation of blocked reads is the caller's job: closing
// the underlying stream unblocks Next.
func (r *Reader) Next(ctx context.Context) (*Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.done {
			return nil, io.EOF
		}

		if err := r.scanToBoundary(); err != nil {
			return nil, err
		}

		header, err := textproto.NewReader(r.br).ReadMIMEHeader()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				// Truncated final part: discard.
				return nil, io.EOF
			}
			r.malformed.Add(1)
			continue // resynchronize at the next boundary
		}

		payload, err := r.readPayload(header)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, io.EOF
			}
			r.malformed.Add(1)
			continue
		}

		contentType := header.Get("Content-Type")
		if contentType == "" {
			contentType = DefaultFrameContentType
		}

		r.seq++
		return &Frame{
			Seq:         r.seq,
			Data:        payload,
			ContentType: contentType,
			CapturedAt:  r.now(),
		}, nil
	}
}

// MalformedParts returns how many parts were dropped after a failed parse.
func (r *Reader) MalformedParts() int64 {
	return r.malformed.Load()
}

// scanToBoundary discards bytes until a line holding the boundary delimiter.
// Boundary matches are anchored at line starts, so delimiter-looking bytes
// inside a binary payload cannot cause a false split.
func (r *Reader) scanToBoundary() error {
	if r.atBoundary {
		r.atBoundary = false
		return nil
	}

	for {
		line, err := r.br.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return io.EOF
		}

		switch r.classifyLine(line) {
		case lineBoundary:
			return nil
		case lineClosing:
			r.done = true
			return io.EOF
		}

		if err != nil {
			return io.EOF
		}
	}
}

type lineClass int

const (
	lineData lineClass = iota
	lineBoundary
	lineClosing
)

func (r *Reader) classifyLine(line []byte) lineClass {
	trimmed := bytes.TrimRight(line, "\r\n")
	if bytes.Equal(trimmed, r.delim) {
		return lineBoundary
	}
	if len(trimmed) == len(r.delim)+2 &&
		bytes.Equal(trimmed[:len(r.delim)], r.delim) &&
		bytes.Equal(trimmed[len(r.delim):], []byte("--")) {
		return lineClosing
	}
	return lineData
}

// readPayload reads one part body. With a Content-Length it reads exactly
// that many bytes; without one it accumulates until the next boundary line.
func (r *Reader) readPayload(header textproto.MIMEHeader) ([]byte, error) {
	if cl := header.Get("Content-Length"); cl != "" {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad content-length %q", ErrMalformedPart, cl)
		}
		if n > maxPartSize {
			return nil, fmt.Errorf("%w: part of %d bytes exceeds limit", ErrMalformedPart, n)
		}

		payload := make([]byte, n)
		if _, err := io.ReadFull(r.br, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}

	// No declared length: scan line by line for the next boundary. The
	// boundary consumed here is remembered so the next scanToBoundary call
	// does not look for a second one.
	var payload []byte
	for {
		line, err := r.br.ReadBytes('\n')

		switch r.classifyLine(line) {
		case lineBoundary:
			r.atBoundary = true
			return trimTrailingCRLF(payload), nil
		case lineClosing:
			r.done = true
			return trimTrailingCRLF(payload), nil
		}

		payload = append(payload, line...)
		if len(payload) > maxPartSize {
			return nil, fmt.Errorf("%w: unterminated part exceeds limit", ErrMalformedPart)
		}

		if err != nil {
			// Stream ended mid-part: truncated, discard.
			return nil, io.EOF
		}
	}
}

// trimTrailingCRLF removes the CRLF that separates a payload from the
// boundary line that follows it.
func trimTrailingCRLF(b []byte) []byte {
	if n := len(b); n >= 2 && b[n-2] == '\r' && b[n-1] == '\n' {
		return b[:n-2]
	}
	if n := len(b); n >= 1 && b[n-1] == '\n' {
		return b[:n-1]
	}
	return b
}
