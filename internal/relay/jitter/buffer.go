package jitter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zsiec/steady/internal/relay/mjpeg"
)

type nowFunc func() time.Time

var defaultNow nowFunc = time.Now

// ErrClosed is returned by Pop once the buffer is closed and drained.
var ErrClosed = errors.New("jitter buffer closed")

// Config bounds a buffer by both payload bytes and frame count. Both limits
// are enforced together: admission of a new frame evicts oldest frames until
// the buffer fits under both.
type Config struct {
	// MaxBytes is the total payload byte budget.
	MaxBytes int

	// MaxFrames is the frame count budget.
	MaxFrames int
}

// ConfigForCapacity derives a Config from a byte budget and the expected
// size of a single frame. The frame budget is the number of expected-size
// frames that fit in the byte budget, never less than one.
func ConfigForCapacity(maxBytes, expectedFrameSize int) Config {
	if expectedFrameSize < 1 {
		expectedFrameSize = 1
	}
	frames := maxBytes / expectedFrameSize
	if frames < 1 {
		frames = 1
	}
	return Config{MaxBytes: maxBytes, MaxFrames: frames}
}

// Buffer is a bounded FIFO of frames between the upstream reader and the
// pacer. It absorbs arrival jitter and is lossy under sustained pressure:
// when full, the oldest frames are evicted to admit the newest one, keeping
// viewer latency bounded at the cost of dropped frames.
//
// An empty buffer is not an error condition. Pop blocks until a frame
// arrives, the context is cancelled, or the buffer is closed.
type Buffer struct {
	mu     sync.Mutex
	frames []*mjpeg.Frame
	bytes  int
	closed bool

	// notify is closed and replaced on every state change so blocked Pop
	// callers wake up.
	notify chan struct{}

	cfg Config
	now nowFunc

	evicted uint64
	pushed  uint64
	popped  uint64
}

// NewBuffer creates a buffer with the given limits. Non-positive limits are
// clamped to 1 so the buffer can always hold at least the newest frame.
func NewBuffer(cfg Config) *Buffer {
	if cfg.MaxFrames < 1 {
		cfg.MaxFrames = 1
	}
	if cfg.MaxBytes < 1 {
		cfg.MaxBytes = 1
	}
	return &Buffer{
		cfg:    cfg,
		notify: make(chan struct{}),
		now:    defaultNow,
	}
}

// Push admits a frame, evicting oldest frames as needed to satisfy both the
// byte and count budgets. It returns the number of frames evicted by this
// admission. Push on a closed buffer silently drops the frame.
func (b *Buffer) Push(f *mjpeg.Frame) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0
	}

	stamped := f.WithEnqueueTime(b.now())

	evictions := 0
	for len(b.frames) > 0 &&
		(len(b.frames)+1 > b.cfg.MaxFrames || b.bytes+stamped.Size() > b.cfg.MaxBytes) {
		oldest := b.frames[0]
		b.frames[0] = nil
		b.frames = b.frames[1:]
		b.bytes -= oldest.Size()
		evictions++
	}

	b.frames = append(b.frames, stamped)
	b.bytes += stamped.Size()
	b.pushed++
	b.evicted += uint64(evictions)

	b.wake()
	return evictions
}

// Pop removes and returns the oldest frame, blocking while the buffer is
// empty. It returns ctx.Err() on cancellation and ErrClosed once the buffer
// is closed and empty. Frames already buffered at close time are still
// delivered.
func (b *Buffer) Pop(ctx context.Context) (*mjpeg.Frame, error) {
	for {
		b.mu.Lock()
		if len(b.frames) > 0 {
			f := b.frames[0]
			b.frames[0] = nil
			b.frames = b.frames[1:]
			b.bytes -= f.Size()
			b.popped++
			b.mu.Unlock()
			return f, nil
		}
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		wait := b.notify
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// TryPop removes and returns the oldest frame without blocking, or nil when
// the buffer is empty.
func (b *Buffer) TryPop() *mjpeg.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.frames) == 0 {
		return nil
	}
	f := b.frames[0]
	b.frames[0] = nil
	b.frames = b.frames[1:]
	b.bytes -= f.Size()
	b.popped++
	return f
}

// Close marks the buffer closed and wakes blocked consumers. Buffered frames
// remain poppable; further pushes are dropped. Close is idempotent.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.wake()
}

// Len returns the number of buffered frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Bytes returns the buffered payload bytes.
func (b *Buffer) Bytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes
}

// Stats reports cumulative push, pop and eviction counts.
func (b *Buffer) Stats() (pushed, popped, evicted uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pushed, b.popped, b.evicted
}

// wake is called with b.mu held.
func (b *Buffer) wake() {
	close(b.notify)
	b.notify = make(chan struct{})
}
