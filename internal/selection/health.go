package selection

import "time"

// HealthBased selects the ready candidate with the lowest observed
// health-check latency. Servers without a latency observation sort last;
// ties are broken by server id, ascending. It holds no state of its own.
type HealthBased struct{}

// NewHealthBased returns a stateless health-based strategy.
func NewHealthBased() *HealthBased { return &HealthBased{} }

func (*HealthBased) Name() string { return "health-based" }

func (*HealthBased) Description() string {
	return "selects the ready server with the lowest observed latency"
}

func (*HealthBased) Select(candidates []string, pool ReadinessProvider) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}

	ready := readyOnly(candidates, pool)
	if len(ready) == 0 {
		return "", false
	}

	best := ready[0]
	bestLatency, bestOK := pool.Latency(best)

	for _, id := range ready[1:] {
		latency, ok := pool.Latency(id)
		if betterCandidate(id, latency, ok, best, bestLatency, bestOK) {
			best, bestLatency, bestOK = id, latency, ok
		}
	}
	return best, true
}

// betterCandidate reports whether (id, latency, ok) should replace the
// current best: a missing latency observation always sorts last, a lower
// latency wins, and ties break by id ascending.
func betterCandidate(id string, latency time.Duration, ok bool, bestID string, bestLatency time.Duration, bestOK bool) bool {
	if ok != bestOK {
		return ok // only the candidate has a latency observation
	}
	if !ok {
		// neither has an observation: tie-break by id only
		return id < bestID
	}
	if latency != bestLatency {
		return latency < bestLatency
	}
	return id < bestID
}
