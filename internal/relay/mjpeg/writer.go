package mjpeg

import (
	"fmt"
	"io"
	"net/http"
)

// DefaultBoundary is the boundary token used for re-framed viewer output.
const DefaultBoundary = "frame"

// Writer emits byte-exact MJPEG multipart parts to a viewer sink. Framing
// is: boundary line, Content-Type, Content-Length, blank line, payload,
// CRLF. Browsers render exactly this shape inside an <img> tag.
type Writer struct {
	w        io.Writer
	boundary string

	frames uint64
	bytes  uint64
}

// NewWriter creates a Writer with the given boundary token. An empty token
// selects DefaultBoundary.
func NewWriter(w io.Writer, boundary string) *Writer {
	if boundary == "" {
		boundary = DefaultBoundary
	}
	return &Writer{w: w, boundary: boundary}
}

// ContentType returns the response content type a viewer must be served.
func (w *Writer) ContentType() string {
	return fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", w.boundary)
}

// WriteFrame writes one complete part and flushes it to the viewer so
// playback is frame-by-frame rather than buffer-by-buffer.
func (w *Writer) WriteFrame(f *Frame) error {
	contentType := f.ContentType
	if contentType == "" {
		contentType = DefaultFrameContentType
	}

	header := fmt.Sprintf("--%s\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n",
		w.boundary, contentType, len(f.Data))

	if _, err := io.WriteString(w.w, header); err != nil {
		return err
	}
	if _, err := w.w.Write(f.Data); err != nil {
		return err
	}
	if _, err := io.WriteString(w.w, "\r\n"); err != nil {
		return err
	}

	if flusher, ok := w.w.(http.Flusher); ok {
		flusher.Flush()
	}

	w.frames++
	w.bytes += uint64(len(f.Data))
	return nil
}

// FramesWritten returns the number of parts emitted so far.
func (w *Writer) FramesWritten() uint64 {
	return w.frames
}

// BytesWritten returns the payload bytes emitted so far.
func (w *Writer) BytesWritten() uint64 {
	return w.bytes
}
