package mjpeg

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flushRecorder struct {
	bytes.Buffer
	flushes int
}

func (f *flushRecorder) Flush() {
	f.flushes++
}

func TestWriter_ByteExactFraming(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, "frame")

	payload := []byte{0xFF, 0xD8, 0x00, 0x01, 0xFF, 0xD9}
	require.NoError(t, w.WriteFrame(&Frame{Seq: 1, Data: payload, ContentType: "image/jpeg"}))

	expected := fmt.Sprintf("--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(payload))
	expectedBytes := append([]byte(expected), payload...)
	expectedBytes = append(expectedBytes, '\r', '\n')

	assert.Equal(t, expectedBytes, buf.Bytes())
	assert.Equal(t, uint64(1), w.FramesWritten())
	assert.Equal(t, uint64(len(payload)), w.BytesWritten())
}

func TestWriter_DefaultsApplied(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, "")

	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", w.ContentType())

	require.NoError(t, w.WriteFrame(&Frame{Seq: 1, Data: []byte("x")}))
	assert.Contains(t, buf.String(), "Content-Type: image/jpeg\r\n")
}

func TestWriter_FlushesPerFrame(t *testing.T) {
	rec := &flushRecorder{}
	w := NewWriter(rec, "frame")

	for i := 0; i < 3; i++ {
		require.NoError(t, w.WriteFrame(&Frame{Seq: uint64(i + 1), Data: []byte("p")}))
	}
	assert.Equal(t, 3, rec.flushes)
}

// A stream written by the Writer must parse back through the Reader with every
// payload byte-identical.
func TestWriter_ReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, "relay")

	payloads := [][]byte{
		jpegish(4, 0x11),
		jpegish(40, 0x22),
		{0xFF, 0xD8, 0xFF, 0xD9},
	}
	for i, p := range payloads {
		require.NoError(t, w.WriteFrame(&Frame{Seq: uint64(i + 1), Data: p, ContentType: "image/jpeg"}))
	}

	r := NewReader(&buf, "relay")
	for i, want := range payloads {
		f, err := r.Next(context.Background())
		require.NoError(t, err, "frame %d", i)
		assert.Equal(t, want, f.Data)
	}
	assert.Equal(t, int64(0), r.MalformedParts())
}
