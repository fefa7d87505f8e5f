package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var testPhases = []Phase{
	{Label: "parsing", Expected: 10 * time.Second},
	{Label: "outlining", Expected: 20 * time.Second},
	{Label: "rendering", Expected: 30 * time.Second},
}

func TestEstimate(t *testing.T) {
	tests := []struct {
		name     string
		elapsed  time.Duration
		wantIdx  int
		wantFrac float64
	}{
		{"start", 0, 0, 0},
		{"mid first", 5 * time.Second, 0, 0.5},
		{"boundary", 10 * time.Second, 1, 0},
		{"mid third", 45 * time.Second, 2, 0.5},
		{"overrun", 5 * time.Minute, 2, 1},
		{"negative", -time.Second, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, frac := Estimate(tt.elapsed, testPhases)
			assert.Equal(t, tt.wantIdx, idx)
			assert.InDelta(t, tt.wantFrac, frac, 1e-9)
		})
	}
}

func TestEstimateEmptyTable(t *testing.T) {
	idx, frac := Estimate(time.Second, nil)
	assert.Equal(t, 0, idx)
	assert.Zero(t, frac)
	assert.Zero(t, Percent(time.Second, nil))
}

func TestPercentNeverReachesHundred(t *testing.T) {
	assert.Equal(t, 50, Percent(30*time.Second, testPhases))
	assert.Equal(t, Ceiling, Percent(time.Hour, testPhases))
}

func TestTrackerMonotonic(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	tr := NewTracker(clock)
	tr.Start(testPhases)

	prev := -1
	for i := 0; i < 100; i++ {
		clock.Advance(time.Second)
		p := tr.Snapshot()
		assert.True(t, p.Active)
		assert.GreaterOrEqual(t, p.Percent, prev)
		assert.Less(t, p.Percent, 100)
		prev = p.Percent
	}

	// A clock stepping backwards must not pull the value down.
	clock.Advance(-50 * time.Second)
	assert.Equal(t, prev, tr.Snapshot().Percent)
}

func TestTrackerLabels(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	tr := NewTracker(clock)
	tr.Start(testPhases)
	assert.Equal(t, "parsing", tr.Snapshot().Label)

	clock.Advance(15 * time.Second)
	assert.Equal(t, "outlining", tr.Snapshot().Label)
}

func TestTrackerFinishAndRestart(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	tr := NewTracker(clock)
	tr.Start(testPhases)
	clock.Advance(40 * time.Second)
	assert.Positive(t, tr.Snapshot().Percent)

	tr.Finish(true)
	p := tr.Snapshot()
	assert.Equal(t, 100, p.Percent)
	assert.False(t, p.Active)

	tr.Start(testPhases)
	assert.Zero(t, tr.Snapshot().Percent)

	clock.Advance(20 * time.Second)
	tr.Finish(false)
	assert.Zero(t, tr.Snapshot().Percent)
}

func TestTrackerIgnoresSupersededCall(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	tr := NewTracker(clock)
	first := tr.Start(testPhases)
	clock.Advance(10 * time.Second)
	second := tr.Start(testPhases)
	clock.Advance(10 * time.Second)
	before := tr.Snapshot()
	require.True(t, before.Active)

	// The older call landing must not complete or reset the newer one.
	tr.Done(first, true)
	p := tr.Snapshot()
	assert.True(t, p.Active)
	assert.Less(t, p.Percent, 100)
	assert.GreaterOrEqual(t, p.Percent, before.Percent)
	tr.Done(first, false)
	assert.True(t, tr.Snapshot().Active)

	tr.Done(second, true)
	assert.Equal(t, 100, tr.Snapshot().Percent)
}

func TestTrackerCancelOrphansOutstandingCall(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	tr := NewTracker(clock)
	old := tr.Start(testPhases)
	tr.Cancel()
	next := tr.Start(testPhases)
	clock.Advance(20 * time.Second)
	tr.Done(old, false)
	assert.True(t, tr.Snapshot().Active)
	assert.Positive(t, tr.Snapshot().Percent)
	tr.Done(next, false)
	assert.False(t, tr.Snapshot().Active)
}
