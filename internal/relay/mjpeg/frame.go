package mjpeg

import (
	"time"
)

// Frame is a single JPEG image lifted out of an MJPEG multipart stream.
// Frames are immutable once constructed: the reader builds them, the jitter
// buffer holds them, the pacer releases them, and nobody mutates them in
// between.
type Frame struct {
	// Seq is monotonic and unique within a session, assigned at parse time.
	Seq uint64

	// Data is the opaque JPEG payload. Never decoded or re-encoded.
	Data []byte

	// ContentType is the part's declared content type.
	ContentType string

	// CapturedAt is when the frame arrived from the upstream.
	CapturedAt time.Time

	// EnqueuedAt is when the frame entered the jitter buffer.
	EnqueuedAt time.Time
}

// Size returns the payload size in bytes.
func (f *Frame) Size() int {
	return len(f.Data)
}

// WithEnqueueTime returns a copy of the frame stamped with its buffer
// admission time. The original frame is left untouched.
func (f *Frame) WithEnqueueTime(t time.Time) *Frame {
	c := *f
	c.EnqueuedAt = t
	return &c
}
