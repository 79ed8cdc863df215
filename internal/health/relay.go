package health

import (
	"context"
	"fmt"
)

// SessionStats is the slice of relay state the capacity checker needs.
// *relay.Manager satisfies it.
type SessionStats interface {
	ActiveSessions() int
	MaxSessions() int
}

// RelayChecker reports the relay degraded when the session table is full:
// the service is still streaming for existing viewers but rejecting new
// ones.
type RelayChecker struct {
	stats SessionStats
}

// NewRelayChecker creates a relay capacity checker.
func NewRelayChecker(stats SessionStats) *RelayChecker {
	return &RelayChecker{stats: stats}
}

// Name returns the name of the checker.
func (r *RelayChecker) Name() string {
	return "relay"
}

// Check flags session-table exhaustion.
func (r *RelayChecker) Check(ctx context.Context) error {
	active := r.stats.ActiveSessions()
	max := r.stats.MaxSessions()
	if max > 0 && active >= max {
		return Degraded(fmt.Sprintf("all %d session slots in use", max))
	}
	return nil
}
