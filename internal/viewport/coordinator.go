// Package viewport decides when the conversation view follows new content,
// when it asks for older history, and how it keeps its place when history is
// prepended above the visible region.
package viewport

import (
	"math"
	"sync"

	"github.com/chatphantom/phantomchat/internal/logger"
)

// DefaultThreshold is the distance, in content units, that counts as "near" an edge.
const DefaultThreshold = 200

// Metrics is supplied by the rendering surface. Units are whatever the
// surface measures in (pixels, terminal rows); they only need to be consistent.
type Metrics interface {
	ScrollOffset() float64
	ContentExtent() float64
	ViewportExtent() float64
	SetScrollOffset(offset float64)
}

// State is recomputed on every scroll signal.
type State struct {
	NearBottom         bool
	NearTop            bool
	UserOverrodeFollow bool
}

// Decision tells the caller what a scroll signal implies.
type Decision struct {
	ShowJumpToLatest bool
	LoadOlder        bool
}

// Coordinator reconciles auto-follow with user scrolling.
type Coordinator struct {
	mu        sync.Mutex
	metrics   Metrics
	threshold float64
	state     State
	streaming bool

	anchorPending bool
	anchorExtent  float64
}

func NewCoordinator(metrics Metrics, threshold float64) *Coordinator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	c := &Coordinator{
		metrics:   metrics,
		threshold: threshold,
	}
	c.recomputeLocked()
	return c
}

// OnScroll handles a scroll signal. canLoadOlder reports whether the history
// paginator would accept a request (neither loading nor exhausted).
func (c *Coordinator) OnScroll(canLoadOlder bool) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recomputeLocked()
	if c.streaming && !c.state.NearBottom && !c.state.UserOverrodeFollow {
		c.state.UserOverrodeFollow = true
		l := logger.With(logger.SCROLL)
		l.Debug().Msg("User scrolled away from a streaming reply; auto-follow suspended")
	}

	return Decision{
		ShowJumpToLatest: !c.state.NearBottom,
		LoadOlder:        c.state.NearTop && canLoadOlder && !c.anchorPending,
	}
}

// State returns the last computed scroll state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ShowJumpToLatest reports whether the jump affordance should be visible.
func (c *Coordinator) ShowJumpToLatest() bool {
	return !c.State().NearBottom
}

// BeginTurn is called when the user issues a turn: the override is cleared
// and the view jumps to the bottom.
func (c *Coordinator) BeginTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.UserOverrodeFollow = false
	c.streaming = true
	c.scrollToBottomLocked()
}

// EndStream marks the live fragment as finished, committed or abandoned.
func (c *Coordinator) EndStream() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streaming = false
}

// OnCommittedAppend always scrolls to the bottom.
func (c *Coordinator) OnCommittedAppend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scrollToBottomLocked()
}

// OnLiveUpdate follows the live fragment unless the user scrolled away.
func (c *Coordinator) OnLiveUpdate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.UserOverrodeFollow {
		return false
	}
	c.scrollToBottomLocked()
	return true
}

// JumpToLatest is the user's explicit request to return to the newest content.
func (c *Coordinator) JumpToLatest() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.UserOverrodeFollow = false
	c.scrollToBottomLocked()
}

// MarkAnchor records the content extent right before an older page is requested.
func (c *Coordinator) MarkAnchor() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anchorExtent = c.metrics.ContentExtent()
	c.anchorPending = true
}

// AnchorPending reports whether a prepend is waiting to be rendered.
func (c *Coordinator) AnchorPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.anchorPending
}

// RestoreAnchor runs after the merged page is rendered. It shifts the scroll
// offset by the growth in content extent so the visible messages stay put.
func (c *Coordinator) RestoreAnchor() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.anchorPending {
		return 0, false
	}
	c.anchorPending = false

	delta := c.metrics.ContentExtent() - c.anchorExtent
	if delta != 0 {
		c.metrics.SetScrollOffset(c.metrics.ScrollOffset() + delta)
	}
	c.recomputeLocked()
	return delta, true
}

// CancelAnchor forgets a recorded anchor when the fetch merged nothing.
func (c *Coordinator) CancelAnchor() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anchorPending = false
}

// Reset returns to the initial state for a new conversation target.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streaming = false
	c.anchorPending = false
	c.state = State{}
	c.recomputeLocked()
}

func (c *Coordinator) scrollToBottomLocked() {
	bottom := math.Max(0, c.metrics.ContentExtent()-c.metrics.ViewportExtent())
	c.metrics.SetScrollOffset(bottom)
	c.recomputeLocked()
}

func (c *Coordinator) recomputeLocked() {
	offset := c.metrics.ScrollOffset()
	distanceToBottom := c.metrics.ContentExtent() - (offset + c.metrics.ViewportExtent())
	c.state.NearBottom = distanceToBottom < c.threshold
	c.state.NearTop = offset < c.threshold
}
