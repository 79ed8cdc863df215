package pacer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/zsiec/steady/internal/relay/jitter"
	"github.com/zsiec/steady/internal/relay/mjpeg"
	"github.com/zsiec/steady/internal/relay/timing"
)

const (
	// stallGraceFactor is how many cadence intervals cinema waits on an empty
	// buffer before re-emitting the last frame.
	stallGraceFactor = 2

	// maxStepDivisor bounds the per-frame delay correction for ultra: the
	// delay may move by at most interval/maxStepDivisor between releases.
	maxStepDivisor = 4
)

// Source yields frames in arrival order. *jitter.Buffer satisfies it.
type Source interface {
	Pop(ctx context.Context) (*mjpeg.Frame, error)
	Len() int
}

// Emitter delivers one released frame to the viewer sink.
type Emitter func(*mjpeg.Frame) error

// Stats is a snapshot of a pacer's counters.
type Stats struct {
	Released uint64
	Reemits  uint64
}

// Pacer alternates between waiting on the source and releasing frames to the
// sink at the cadence its profile dictates. Frames are released strictly in
// source order; the pacer never reorders and never skips a frame it has
// popped.
type Pacer struct {
	profile Profile
	params  Params
	pred    *timing.Predictor

	// cadence is the fixed release interval for cinema, derived from the
	// configured target frame rate.
	cadence time.Duration

	lastEmit  time.Time
	lastDelay time.Duration
	lastFrame *mjpeg.Frame

	// stalled is set once a re-emission happens and cleared by the next
	// fresh frame. During an ongoing stall the wait shrinks from the grace
	// period to the plain cadence so re-emissions keep the target rate.
	stalled bool

	// onDelay observes each applied pacing delay. Optional.
	onDelay func(time.Duration)

	// Counters are read concurrently by session stats while Run owns the
	// rest of the state.
	released atomic.Uint64
	reemits  atomic.Uint64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a pacer for one session. targetFPS anchors the cinema cadence;
// the other profiles follow the predictor.
func New(profile Profile, targetFPS float64, pred *timing.Predictor) *Pacer {
	if targetFPS <= 0 {
		targetFPS = 24
	}
	return &Pacer{
		profile: profile,
		params:  ParamsFor(profile),
		pred:    pred,
		cadence: time.Duration(float64(time.Second) / targetFPS),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Run drives the wait/release loop until the source closes, the context is
// cancelled, or the emitter fails. A closed source is a clean end and returns
// nil; an emitter error is returned to the caller for teardown.
func (p *Pacer) Run(ctx context.Context, src Source, emit Emitter) error {
	for {
		frame, reemit, err := p.next(ctx, src)
		if err != nil {
			if errors.Is(err, jitter.ErrClosed) {
				return nil
			}
			return err
		}

		if !reemit {
			delay := p.delayFor(src)
			if delay > 0 {
				if err := p.sleep(ctx, delay); err != nil {
					return err
				}
			}
			p.lastDelay = delay
			if p.onDelay != nil {
				p.onDelay(delay)
			}
		}

		if err := emit(frame); err != nil {
			return err
		}

		p.lastEmit = p.now()
		p.lastFrame = frame
		if reemit {
			p.reemits.Add(1)
		} else {
			p.released.Add(1)
		}
	}
}

// Stats returns the release counters. Safe to call while Run is active.
func (p *Pacer) Stats() Stats {
	return Stats{Released: p.released.Load(), Reemits: p.reemits.Load()}
}

// OnDelay registers an observer invoked with every applied pacing delay,
// including zero when a frame goes out immediately. Must be set before Run.
func (p *Pacer) OnDelay(fn func(time.Duration)) {
	p.onDelay = fn
}

// next waits for the next frame. For cinema the wait is bounded by the stall
// grace period, after which the last released frame is handed back for
// re-emission so the viewer keeps a moving clock instead of a frozen socket.
func (p *Pacer) next(ctx context.Context, src Source) (*mjpeg.Frame, bool, error) {
	if p.profile != ProfileCinema || p.lastFrame == nil {
		f, err := src.Pop(ctx)
		return f, false, err
	}

	// The first re-emit waits out the full grace period; once the stall is
	// established, each further wait is one cadence interval so the viewer
	// keeps receiving frames at the target rate.
	wait := stallGraceFactor * p.cadence
	if p.stalled {
		wait = p.cadence
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	f, err := src.Pop(waitCtx)
	if err == nil {
		p.stalled = false
		return f, false, nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		p.stalled = true
		return p.lastFrame, true, nil
	}
	return nil, false, err
}

// delayFor computes how long to hold the popped frame before release.
func (p *Pacer) delayFor(src Source) time.Duration {
	if p.lastEmit.IsZero() {
		// First frame always goes out immediately.
		return 0
	}

	// Under backlog, stop sleeping and let the queue drain.
	if src.Len() >= p.params.MaxPending {
		return 0
	}

	elapsed := p.now().Sub(p.lastEmit)

	switch p.profile {
	case ProfileBasic:
		return p.params.MicroDelay

	case ProfileEnhanced:
		return clampDelay(p.targetInterval()-elapsed, p.targetInterval())

	case ProfileUltra:
		interval := p.targetInterval()
		delay := clampDelay(interval-elapsed, interval)
		// Bounded correction: move at most one step from the previous delay.
		step := interval / maxStepDivisor
		if delay > p.lastDelay+step {
			delay = p.lastDelay + step
		} else if delay < p.lastDelay-step {
			delay = p.lastDelay - step
		}
		if delay < 0 {
			delay = 0
		}
		return delay

	case ProfileCinema:
		// Fixed cadence; drift inside the tolerance band is left alone, a
		// larger drift is corrected by the full remaining wait. Lateness is
		// never compensated by skipping, only by releasing immediately.
		remaining := p.cadence - elapsed
		if remaining <= 0 {
			return 0
		}
		band := time.Duration(float64(p.cadence) * (1 - p.params.Tolerance))
		if remaining < band {
			return 0
		}
		return remaining
	}
	return 0
}

// targetInterval is the predicted inter-frame interval scaled by the profile
// tolerance, floored at the micro delay.
func (p *Pacer) targetInterval() time.Duration {
	interval := time.Duration(float64(p.pred.Predict().Interval) * p.params.Tolerance)
	if interval < p.params.MicroDelay {
		interval = p.params.MicroDelay
	}
	return interval
}

func clampDelay(d, max time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > max {
		return max
	}
	return d
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
