package loop

import "time"

// cycleBudget enforces the rolling-window ceiling on cycle starts. A token
// bucket will not do here: the policy is an exact count over the trailing
// window, and tests drive it with an injected clock.
type cycleBudget struct {
	max    int
	window time.Duration
	starts []time.Time
	now    func() time.Time
}

func newCycleBudget(max int, window time.Duration, now func() time.Time) *cycleBudget {
	if now == nil {
		now = time.Now
	}
	return &cycleBudget{max: max, window: window, now: now}
}

// hasRoom prunes expired starts and reports whether another cycle may begin.
func (b *cycleBudget) hasRoom() bool {
	b.prune()
	return len(b.starts) < b.max
}

// consume records a cycle start. Callers check hasRoom first; consume is
// unconditional so the count never under-reports.
func (b *cycleBudget) consume() {
	b.prune()
	b.starts = append(b.starts, b.now())
}

func (b *cycleBudget) used() int {
	b.prune()
	return len(b.starts)
}

func (b *cycleBudget) prune() {
	cutoff := b.now().Add(-b.window)
	i := 0
	for i < len(b.starts) && !b.starts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.starts = append(b.starts[:0], b.starts[i:]...)
	}
}
