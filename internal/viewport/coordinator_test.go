package viewport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMetrics struct {
	offset   float64
	content  float64
	viewport float64
}

func (f *fakeMetrics) ScrollOffset() float64   { return f.offset }
func (f *fakeMetrics) ContentExtent() float64  { return f.content }
func (f *fakeMetrics) ViewportExtent() float64 { return f.viewport }
func (f *fakeMetrics) SetScrollOffset(o float64) {
	if o < 0 {
		o = 0
	}
	if limit := f.content - f.viewport; limit >= 0 && o > limit {
		o = limit
	}
	f.offset = o
}

func TestNearEdgesAtThreshold(t *testing.T) {
	m := &fakeMetrics{content: 2000, viewport: 500}
	c := NewCoordinator(m, 200)

	m.offset = 1301 // 199 from bottom
	c.OnScroll(true)
	assert.True(t, c.State().NearBottom)

	m.offset = 1300 // exactly 200 from bottom
	d := c.OnScroll(true)
	assert.False(t, c.State().NearBottom)
	assert.True(t, d.ShowJumpToLatest)

	m.offset = 199
	d = c.OnScroll(true)
	assert.True(t, c.State().NearTop)
	assert.True(t, d.LoadOlder)

	m.offset = 200
	d = c.OnScroll(true)
	assert.False(t, c.State().NearTop)
	assert.False(t, d.LoadOlder)
}

func TestLoadOlderRequiresPaginatorAvailability(t *testing.T) {
	m := &fakeMetrics{content: 2000, viewport: 500, offset: 0}
	c := NewCoordinator(m, 200)

	assert.False(t, c.OnScroll(false).LoadOlder)
	assert.True(t, c.OnScroll(true).LoadOlder)

	c.MarkAnchor()
	assert.False(t, c.OnScroll(true).LoadOlder, "no second request while a prepend is pending")
}

func TestScrollingAwayDuringStreamSuspendsFollow(t *testing.T) {
	m := &fakeMetrics{content: 1000, viewport: 500}
	c := NewCoordinator(m, 200)

	c.BeginTurn()
	assert.Equal(t, 500.0, m.offset)
	assert.False(t, c.State().UserOverrodeFollow)

	m.content = 1100
	require.True(t, c.OnLiveUpdate())
	assert.Equal(t, 600.0, m.offset)

	m.offset = 100
	c.OnScroll(true)
	assert.True(t, c.State().UserOverrodeFollow)

	m.content = 1400
	assert.False(t, c.OnLiveUpdate())
	assert.Equal(t, 100.0, m.offset, "live updates must not move the viewport after an override")

	// Committing the reply always returns to the bottom.
	c.OnCommittedAppend()
	assert.Equal(t, 900.0, m.offset)
}

func TestScrollingAwayWithoutStreamKeepsFollow(t *testing.T) {
	m := &fakeMetrics{content: 3000, viewport: 500, offset: 0}
	c := NewCoordinator(m, 200)

	c.OnScroll(true)
	assert.False(t, c.State().UserOverrodeFollow)
}

func TestNewTurnClearsOverride(t *testing.T) {
	m := &fakeMetrics{content: 1000, viewport: 500}
	c := NewCoordinator(m, 200)

	c.BeginTurn()
	m.offset = 0
	c.OnScroll(true)
	require.True(t, c.State().UserOverrodeFollow)
	c.EndStream()

	c.BeginTurn()
	assert.False(t, c.State().UserOverrodeFollow)
	assert.Equal(t, 500.0, m.offset)
}

func TestJumpToLatestClearsOverride(t *testing.T) {
	m := &fakeMetrics{content: 1000, viewport: 500}
	c := NewCoordinator(m, 200)

	c.BeginTurn()
	m.offset = 0
	c.OnScroll(true)
	require.True(t, c.State().UserOverrodeFollow)

	c.JumpToLatest()
	assert.False(t, c.State().UserOverrodeFollow)
	assert.True(t, c.State().NearBottom)
	assert.Equal(t, 500.0, m.offset)
}

func TestScrollToBottomClampsShortContent(t *testing.T) {
	m := &fakeMetrics{content: 300, viewport: 500, offset: 0}
	c := NewCoordinator(m, 200)

	c.OnCommittedAppend()
	assert.Equal(t, 0.0, m.offset)
	assert.True(t, c.State().NearBottom)
}

func TestRestoreAnchorShiftsByExtentDelta(t *testing.T) {
	m := &fakeMetrics{content: 2000, viewport: 500, offset: 50}
	c := NewCoordinator(m, 200)

	c.MarkAnchor()
	assert.True(t, c.AnchorPending())

	m.content = 2750 // older page rendered above
	delta, ok := c.RestoreAnchor()
	require.True(t, ok)
	assert.Equal(t, 750.0, delta)
	assert.Equal(t, 800.0, m.offset)
	assert.False(t, c.AnchorPending())
	assert.False(t, c.State().NearTop)

	_, ok = c.RestoreAnchor()
	assert.False(t, ok, "anchor is consumed once")
}

func TestCancelAnchor(t *testing.T) {
	m := &fakeMetrics{content: 2000, viewport: 500, offset: 50}
	c := NewCoordinator(m, 200)

	c.MarkAnchor()
	c.CancelAnchor()
	m.content = 2500
	_, ok := c.RestoreAnchor()
	assert.False(t, ok)
	assert.Equal(t, 50.0, m.offset)
}

func TestResetClearsOverrideAndAnchor(t *testing.T) {
	m := &fakeMetrics{content: 1000, viewport: 500}
	c := NewCoordinator(m, 0)

	c.BeginTurn()
	m.offset = 0
	c.OnScroll(true)
	c.MarkAnchor()

	c.Reset()
	assert.False(t, c.State().UserOverrodeFollow)
	assert.False(t, c.AnchorPending())
}
