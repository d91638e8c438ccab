package state

import "sync"

// Guard tracks state corruption the way a circuit breaker tracks request
// failures: consecutive corruption detections trip it, any clean merge
// resets the streak. Rejected merge proposals are not corruption; they only
// count as recoveries. A tripped guard means recovery is no longer trusted
// and the process must abort.
type Guard struct {
	mu sync.Mutex

	threshold uint32
	counts    GuardCounts
}

// GuardCounts holds the failure statistics for a Guard.
type GuardCounts struct {
	Merges               uint64
	TotalCorruptions     uint64
	ConsecutiveCorrupted uint32
	Recoveries           uint64
}

// NewGuard creates a guard tripping after threshold consecutive corruptions.
// A threshold of zero means two, the point at which a second recovery from
// the same snapshot would be guesswork.
func NewGuard(threshold uint32) *Guard {
	if threshold == 0 {
		threshold = 2
	}
	return &Guard{threshold: threshold}
}

// MarkClean records a completed merge and resets the corruption streak.
func (g *Guard) MarkClean() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.counts.Merges++
	g.counts.ConsecutiveCorrupted = 0
}

// MarkRecovered records a snapshot restore after a rejected merge proposal.
// Rejections never accumulate toward the trip threshold.
func (g *Guard) MarkRecovered() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.counts.Recoveries++
}

// MarkCorrupt records a detected corruption and reports whether the guard
// has tripped. A tripped guard never untrips.
func (g *Guard) MarkCorrupt() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.counts.TotalCorruptions++
	g.counts.ConsecutiveCorrupted++
	if g.counts.ConsecutiveCorrupted >= g.threshold {
		return true
	}
	g.counts.Recoveries++
	return false
}

// Counts returns a copy of the guard statistics.
func (g *Guard) Counts() GuardCounts {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.counts
}
