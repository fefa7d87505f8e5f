// Package progress produces a synthetic progress signal for remote calls that
// do not report their own. The numbers are for display only and never decide
// whether a call finished.
package progress

import (
	"sync"
	"time"
)

// Phase is one step of the expected timeline of a long call.
type Phase struct {
	Label    string
	Expected time.Duration
}

// Estimate maps elapsed time onto a phase table. The fraction is within
// [0, 1]; once the table is exhausted it stays on the last phase at 1.
func Estimate(elapsed time.Duration, phases []Phase) (int, float64) {
	if len(phases) == 0 {
		return 0, 0
	}
	if elapsed < 0 {
		elapsed = 0
	}
	for i, p := range phases {
		if p.Expected <= 0 {
			continue
		}
		if elapsed < p.Expected {
			return i, float64(elapsed) / float64(p.Expected)
		}
		elapsed -= p.Expected
	}
	return len(phases) - 1, 1
}

// Ceiling is the highest percentage reported before the real response lands.
const Ceiling = 99

// Percent converts elapsed time into 0..Ceiling weighted by phase durations.
func Percent(elapsed time.Duration, phases []Phase) int {
	var total time.Duration
	for _, p := range phases {
		if p.Expected > 0 {
			total += p.Expected
		}
	}
	if total <= 0 {
		return 0
	}
	idx, frac := Estimate(elapsed, phases)
	var done time.Duration
	for i := 0; i < idx; i++ {
		if phases[i].Expected > 0 {
			done += phases[i].Expected
		}
	}
	cur := phases[idx].Expected
	if cur < 0 {
		cur = 0
	}
	pct := int((float64(done) + frac*float64(cur)) / float64(total) * 100)
	if pct > Ceiling {
		pct = Ceiling
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Progress is a point-in-time view of a Tracker.
type Progress struct {
	Percent int
	Label   string
	Active  bool
}

// Tracker follows one outstanding call at a time. When calls overlap the
// most recently started one owns it.
type Tracker struct {
	mu      sync.Mutex
	clock   Clock
	phases  []Phase
	started time.Time
	active  bool
	last    int
	label   string
	ticket  uint64
}

func NewTracker(clock Clock) *Tracker {
	if clock == nil {
		clock = SystemClock
	}
	return &Tracker{clock: clock}
}

// Start resets progress to zero and begins timing a new call. The returned
// ticket identifies the call to Done.
func (t *Tracker) Start(phases []Phase) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ticket++
	t.phases = append([]Phase(nil), phases...)
	t.started = t.clock.Now()
	t.active = true
	t.last = 0
	t.label = ""
	if len(t.phases) > 0 {
		t.label = t.phases[0].Label
	}
	return t.ticket
}

// Snapshot returns the current estimate. While active it never decreases.
func (t *Tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return Progress{Percent: t.last, Label: t.label}
	}
	elapsed := t.clock.Now().Sub(t.started)
	pct := Percent(elapsed, t.phases)
	if pct > t.last {
		t.last = pct
	}
	if len(t.phases) > 0 {
		idx, _ := Estimate(elapsed, t.phases)
		if label := t.phases[idx].Label; label != "" {
			t.label = label
		}
	}
	return Progress{Percent: t.last, Label: t.label, Active: true}
}

// Done finishes the call identified by ticket. It is ignored once a newer
// call has started, so a late reply never moves another call's progress.
func (t *Tracker) Done(ticket uint64, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ticket != t.ticket {
		return
	}
	t.finish(success)
}

// Finish stops the tracker whichever call owns it. Only a confirmed success
// reaches 100.
func (t *Tracker) Finish(success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finish(success)
}

func (t *Tracker) finish(success bool) {
	t.active = false
	if success {
		t.last = 100
		t.label = "done"
		return
	}
	t.last = 0
	t.label = ""
}

// Cancel drops the current call without marking it done. Replies to calls
// started before Cancel are ignored.
func (t *Tracker) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ticket++
	t.finish(false)
}
