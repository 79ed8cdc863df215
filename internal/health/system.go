package health

import (
	"context"
	"fmt"
	"runtime"
)

// MemoryChecker flags the process when heap usage crosses a fraction of the
// memory the runtime has obtained from the OS.
type MemoryChecker struct {
	threshold float64
}

// NewMemoryChecker creates a memory checker. threshold is a fraction in
// (0,1], e.g. 0.9 degrades at 90% heap usage.
func NewMemoryChecker(threshold float64) *MemoryChecker {
	return &MemoryChecker{threshold: threshold}
}

// Name returns the name of the checker.
func (m *MemoryChecker) Name() string {
	return "memory"
}

// Check compares heap in use against the runtime's OS reservation.
func (m *MemoryChecker) Check(ctx context.Context) error {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	if stats.Sys == 0 {
		return nil
	}
	usage := float64(stats.HeapInuse) / float64(stats.Sys)
	if usage > m.threshold {
		return Degraded(fmt.Sprintf("heap usage %.0f%% above threshold %.0f%%",
			usage*100, m.threshold*100))
	}
	return nil
}

// GoroutineChecker flags a goroutine leak. Each relay session costs a small,
// fixed number of goroutines; a runaway count means sessions are not being
// torn down.
type GoroutineChecker struct {
	max int
}

// NewGoroutineChecker creates a goroutine count checker.
func NewGoroutineChecker(max int) *GoroutineChecker {
	return &GoroutineChecker{max: max}
}

// Name returns the name of the checker.
func (g *GoroutineChecker) Name() string {
	return "goroutines"
}

// Check compares the live goroutine count against the configured ceiling.
func (g *GoroutineChecker) Check(ctx context.Context) error {
	count := runtime.NumGoroutine()
	if g.max > 0 && count > g.max {
		return Degraded(fmt.Sprintf("%d goroutines running, ceiling is %d", count, g.max))
	}
	return nil
}
