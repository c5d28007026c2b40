// Package loop drives decision cycles: it watches the world fingerprint,
// applies the trigger policy on a fixed tick, and serializes cycle
// execution.
package loop

import "sync"

// Detector remembers the fingerprint of the last snapshot submitted to a
// completed decision cycle. It only ever advances forward in cycle-start
// order; an aborted cycle leaves it untouched so the same change re-triggers
// on the next eligible tick.
type Detector struct {
	mu     sync.Mutex
	last   uint64
	primed bool
}

func NewDetector() *Detector {
	return &Detector{}
}

// Changed reports whether fp differs from the reference fingerprint. Before
// any cycle has completed, everything counts as changed.
func (d *Detector) Changed(fp uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.primed {
		return true
	}
	return fp != d.last
}

// Advance moves the reference to the fingerprint of the snapshot that was
// actually submitted. Called only after a cycle completes, even one whose
// only outcome was "wait" — that is what prevents no-op re-triggering.
func (d *Detector) Advance(fp uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.last = fp
	d.primed = true
}

// Reference returns the current reference fingerprint and whether any cycle
// has completed yet.
func (d *Detector) Reference() (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.primed
}
