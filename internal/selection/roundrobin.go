package selection

import "sync/atomic"

// RoundRobin selects the first ready candidate starting from a rotating
// cursor, scanning forward cyclically. The cursor advances unconditionally
// on every call, ready or not, so the rotation stays fair even when some
// calls find nothing ready.
type RoundRobin struct {
	cursor atomic.Int64
}

// NewRoundRobin returns a round-robin strategy with its cursor at 0.
func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (*RoundRobin) Name() string { return "round-robin" }

func (*RoundRobin) Description() string {
	return "rotates through candidates, returning the first ready one from a moving cursor"
}

func (r *RoundRobin) Select(candidates []string, pool ReadinessProvider) (string, bool) {
	n := len(candidates)
	if n == 0 {
		return "", false
	}

	start := int(r.cursor.Add(1)-1) % n
	if start < 0 {
		start += n
	}

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if pool.IsReady(candidates[idx]) {
			return candidates[idx], true
		}
	}
	return "", false
}

// Reset zeroes the cursor. Test hook, per spec.md §4.5.
func (r *RoundRobin) Reset() {
	r.cursor.Store(0)
}
