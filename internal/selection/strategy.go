// Package selection implements the pool manager's pluggable server
// selection strategies (spec.md §4.5): given a list of candidate server
// ids advertising some tool, pick one.
package selection

import "time"

// ReadinessProvider is the narrow view of the pool a strategy needs. The
// pool manager implements this directly; strategies never see the rest of
// its state.
type ReadinessProvider interface {
	// IsReady reports whether serverID is currently in the READY state.
	IsReady(serverID string) bool
	// Latency returns the last observed health-check latency for
	// serverID, and whether one has ever been recorded.
	Latency(serverID string) (time.Duration, bool)
}

// Strategy selects one server id from a candidate list, or reports none.
type Strategy interface {
	Name() string
	Description() string
	Select(candidates []string, pool ReadinessProvider) (string, bool)
}

// readyOnly filters candidates down to those the pool reports as READY,
// preserving order.
func readyOnly(candidates []string, pool ReadinessProvider) []string {
	out := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if pool.IsReady(id) {
			out = append(out, id)
		}
	}
	return out
}
