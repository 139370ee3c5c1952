// Package progress accumulates weighted phase progress into a single
// monotone fraction and describes how a job ended.
package progress

import (
	"sync"
)

// Phase is one weighted stage of a job.
type Phase int

const (
	PhaseScan Phase = iota
	PhaseVideo
	PhaseAudio
	numPhases
)

func (p Phase) String() string {
	switch p {
	case PhaseScan:
		return "scan"
	case PhaseVideo:
		return "video"
	case PhaseAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Shares are the fixed weights of each phase; they sum to 1.
var Shares = [numPhases]float64{
	PhaseScan:  0.1,
	PhaseVideo: 0.45,
	PhaseAudio: 0.45,
}

// Tracker turns per-phase item counts into a cumulative fraction. Each
// report adds only the delta since that phase's previous report, so the
// total never decreases and never exceeds 1. Safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	last     [numPhases]float64
	total    float64
	onUpdate func(float64)
}

// NewTracker creates a tracker. onUpdate, if non-nil, is called with the new
// total after every report that moved it; it runs under the tracker's lock
// and must not call back into the tracker.
func NewTracker(onUpdate func(float64)) *Tracker {
	return &Tracker{onUpdate: onUpdate}
}

// Report records that done of total items of phase are processed and
// returns the cumulative fraction.
func (t *Tracker) Report(phase Phase, done, total int) float64 {
	if phase < 0 || phase >= numPhases || total <= 0 {
		return t.Fraction()
	}
	f := float64(done) / float64(total)
	return t.ReportFraction(phase, f)
}

// ReportFraction is Report with a precomputed phase fraction.
func (t *Tracker) ReportFraction(phase Phase, f float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if phase < 0 || phase >= numPhases || !(f > t.last[phase]) {
		return t.total
	}
	f = min(f, 1)
	t.total += (f - t.last[phase]) * Shares[phase]
	t.last[phase] = f
	if t.total > 1 {
		t.total = 1
	}
	if t.onUpdate != nil {
		t.onUpdate(t.total)
	}
	return t.total
}

// Complete fills every phase, e.g. after a job succeeded with fewer items
// than estimated.
func (t *Tracker) Complete() float64 {
	for p := Phase(0); p < numPhases; p++ {
		t.ReportFraction(p, 1)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = 1
	return t.total
}

// Fraction returns the cumulative progress in [0, 1].
func (t *Tracker) Fraction() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// PhaseFraction returns the last fraction reported for phase.
func (t *Tracker) PhaseFraction(phase Phase) float64 {
	if phase < 0 || phase >= numPhases {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last[phase]
}
