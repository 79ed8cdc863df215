package jitter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/steady/internal/relay/mjpeg"
)

func frame(seq uint64, size int) *mjpeg.Frame {
	return &mjpeg.Frame{
		Seq:        seq,
		Data:       make([]byte, size),
		CapturedAt: time.Now(),
	}
}

func TestConfigForCapacity(t *testing.T) {
	tests := []struct {
		name              string
		maxBytes          int
		expectedFrameSize int
		wantFrames        int
	}{
		{"exact fit", 65536, 8192, 8},
		{"rounds down", 65536, 10000, 6},
		{"frame larger than budget", 16384, 65536, 1},
		{"zero frame size clamped", 1024, 0, 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ConfigForCapacity(tt.maxBytes, tt.expectedFrameSize)
			assert.Equal(t, tt.maxBytes, cfg.MaxBytes)
			assert.Equal(t, tt.wantFrames, cfg.MaxFrames)
		})
	}
}

func TestBuffer_FIFOOrder(t *testing.T) {
	b := NewBuffer(Config{MaxBytes: 1 << 20, MaxFrames: 10})

	for seq := uint64(1); seq <= 5; seq++ {
		assert.Zero(t, b.Push(frame(seq, 100)))
	}
	require.Equal(t, 5, b.Len())

	for seq := uint64(1); seq <= 5; seq++ {
		f, err := b.Pop(context.Background())
		require.NoError(t, err)
		assert.Equal(t, seq, f.Seq)
		assert.False(t, f.EnqueuedAt.IsZero())
	}
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Bytes())
}

// A burst past the frame budget keeps the newest frames and evicts the
// oldest, preserving order among survivors.
func TestBuffer_BurstEvictsOldest(t *testing.T) {
	b := NewBuffer(Config{MaxBytes: 1 << 20, MaxFrames: 5})

	totalEvicted := 0
	for seq := uint64(1); seq <= 20; seq++ {
		totalEvicted += b.Push(frame(seq, 100))
	}

	assert.Equal(t, 15, totalEvicted)
	require.Equal(t, 5, b.Len())

	for want := uint64(16); want <= 20; want++ {
		f, err := b.Pop(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, f.Seq)
	}
}

func TestBuffer_ByteBudgetEvicts(t *testing.T) {
	b := NewBuffer(Config{MaxBytes: 1000, MaxFrames: 100})

	assert.Zero(t, b.Push(frame(1, 400)))
	assert.Zero(t, b.Push(frame(2, 400)))
	// 400+400+400 > 1000: one eviction brings it under budget
	assert.Equal(t, 1, b.Push(frame(3, 400)))

	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 800, b.Bytes())

	f, err := b.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.Seq)
}

func TestBuffer_OversizedFrameEvictsEverything(t *testing.T) {
	b := NewBuffer(Config{MaxBytes: 1000, MaxFrames: 10})

	b.Push(frame(1, 300))
	b.Push(frame(2, 300))
	evicted := b.Push(frame(3, 900))

	assert.Equal(t, 2, evicted)
	assert.Equal(t, 1, b.Len())

	f, err := b.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), f.Seq)
}

func TestBuffer_PopBlocksUntilPush(t *testing.T) {
	b := NewBuffer(Config{MaxBytes: 1 << 20, MaxFrames: 10})

	done := make(chan *mjpeg.Frame, 1)
	go func() {
		f, err := b.Pop(context.Background())
		if err == nil {
			done <- f
		}
	}()

	select {
	case <-done:
		t.Fatal("Pop returned before any frame was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	b.Push(frame(7, 10))

	select {
	case f := <-done:
		assert.Equal(t, uint64(7), f.Seq)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake after push")
	}
}

func TestBuffer_PopCancellation(t *testing.T) {
	b := NewBuffer(Config{MaxBytes: 1 << 20, MaxFrames: 10})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBuffer_CloseDrainsThenErrors(t *testing.T) {
	b := NewBuffer(Config{MaxBytes: 1 << 20, MaxFrames: 10})

	b.Push(frame(1, 10))
	b.Push(frame(2, 10))
	b.Close()

	// Buffered frames are still delivered after close
	f, err := b.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.Seq)

	f, err = b.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.Seq)

	_, err = b.Pop(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	// Pushes after close are dropped
	assert.Zero(t, b.Push(frame(3, 10)))
	assert.Equal(t, 0, b.Len())

	// Idempotent
	b.Close()
}

func TestBuffer_CloseWakesBlockedPop(t *testing.T) {
	b := NewBuffer(Config{MaxBytes: 1 << 20, MaxFrames: 10})

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Pop(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake on close")
	}
}

func TestBuffer_TryPop(t *testing.T) {
	b := NewBuffer(Config{MaxBytes: 1 << 20, MaxFrames: 10})

	assert.Nil(t, b.TryPop())

	b.Push(frame(1, 10))
	f := b.TryPop()
	require.NotNil(t, f)
	assert.Equal(t, uint64(1), f.Seq)
	assert.Nil(t, b.TryPop())
}

func TestBuffer_Stats(t *testing.T) {
	b := NewBuffer(Config{MaxBytes: 1 << 20, MaxFrames: 2})

	b.Push(frame(1, 10))
	b.Push(frame(2, 10))
	b.Push(frame(3, 10)) // evicts seq 1
	b.TryPop()

	pushed, popped, evicted := b.Stats()
	assert.Equal(t, uint64(3), pushed)
	assert.Equal(t, uint64(1), popped)
	assert.Equal(t, uint64(1), evicted)
}

func TestBuffer_ConcurrentProducerConsumer(t *testing.T) {
	b := NewBuffer(Config{MaxBytes: 1 << 20, MaxFrames: 8})

	const total = 200
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for seq := uint64(1); seq <= total; seq++ {
			b.Push(frame(seq, 100))
		}
		b.Close()
	}()

	var last uint64
	received := 0
	for {
		f, err := b.Pop(context.Background())
		if err != nil {
			assert.ErrorIs(t, err, ErrClosed)
			break
		}
		// Order preserved even when frames are dropped in between
		assert.Greater(t, f.Seq, last)
		last = f.Seq
		received++
	}
	wg.Wait()

	pushed, popped, evicted := b.Stats()
	assert.Equal(t, uint64(total), pushed)
	assert.Equal(t, uint64(received), popped)
	assert.Equal(t, pushed, popped+evicted)
}
