package timing

import (
	"math"
	"sync"
	"time"
)

const (
	// DefaultAlpha is the EWMA smoothing factor for the interval estimate.
	// Higher values track cadence changes faster at the cost of jitter
	// sensitivity.
	DefaultAlpha = 0.25

	// windowSize is how many recent inter-arrival intervals feed the jitter
	// and confidence calculations.
	windowSize = 30

	// minInterval guards the estimate against duplicate or reordered arrival
	// timestamps collapsing the cadence to zero.
	minInterval = time.Millisecond
)

// Estimate is a snapshot of the predictor's view of the upstream cadence.
type Estimate struct {
	// Interval is the smoothed inter-frame interval.
	Interval time.Duration

	// Jitter is the standard deviation of recent intervals.
	Jitter time.Duration

	// Confidence is 0..1, rising as observed intervals stabilize around the
	// estimate. A fresh predictor reports 0 until it has seen real arrivals.
	Confidence float64
}

// Predictor estimates the upstream frame cadence from arrival times. It is
// seeded with a nominal rate so pacing has a sane target before the first
// frames arrive, then converges on the observed cadence via an EWMA over a
// rolling window of inter-arrival intervals.
//
// Safe for one writer (Observe) and any number of readers (Predict).
type Predictor struct {
	mu sync.RWMutex

	interval    float64 // seconds, EWMA-smoothed
	lastArrival time.Time
	window      []float64 // seconds, most recent last
	observed    uint64
}

// NewPredictor creates a predictor seeded from a nominal frames-per-second
// rate. A non-positive rate seeds at 24 fps.
func NewPredictor(nominalFPS float64) *Predictor {
	if nominalFPS <= 0 {
		nominalFPS = 24
	}
	return &Predictor{
		interval: 1 / nominalFPS,
		window:   make([]float64, 0, windowSize),
	}
}

// Observe records a frame arrival. The first arrival only anchors the clock;
// estimation starts with the second.
func (p *Predictor) Observe(arrival time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastArrival.IsZero() {
		p.lastArrival = arrival
		return
	}

	delta := arrival.Sub(p.lastArrival)
	p.lastArrival = arrival
	if delta < minInterval {
		delta = minInterval
	}

	sec := delta.Seconds()
	p.interval = DefaultAlpha*sec + (1-DefaultAlpha)*p.interval

	if len(p.window) == windowSize {
		copy(p.window, p.window[1:])
		p.window = p.window[:windowSize-1]
	}
	p.window = append(p.window, sec)
	p.observed++
}

// Predict returns the current cadence estimate.
func (p *Predictor) Predict() Estimate {
	p.mu.RLock()
	defer p.mu.RUnlock()

	est := Estimate{
		Interval: time.Duration(p.interval * float64(time.Second)),
	}

	if len(p.window) < 2 {
		return est
	}

	mean := 0.0
	for _, v := range p.window {
		mean += v
	}
	mean /= float64(len(p.window))

	variance := 0.0
	for _, v := range p.window {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(p.window))
	stddev := math.Sqrt(variance)

	est.Jitter = time.Duration(stddev * float64(time.Second))

	// Confidence falls off as jitter grows relative to the interval, scaled
	// by how much of the window has filled.
	fill := float64(len(p.window)) / float64(windowSize)
	if mean > 0 {
		est.Confidence = fill / (1 + stddev/mean)
	}
	return est
}

// Observed returns how many intervals the predictor has ingested.
func (p *Predictor) Observed() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.observed
}
