package chat

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/chatphantom/phantomchat/internal/backendtest"
	"github.com/chatphantom/phantomchat/internal/domain/chat/models"
	"github.com/chatphantom/phantomchat/internal/history"
	"github.com/chatphantom/phantomchat/internal/infrastructure/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	rowHeight = 50.0
	waitFor   = 3 * time.Second
)

// surface renders every message as one fixed-height row.
type surface struct {
	mu       sync.Mutex
	offset   float64
	viewport float64
	rows     func() int
}

func (s *surface) ScrollOffset() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

func (s *surface) ContentExtent() float64 {
	return float64(s.rows()) * rowHeight
}

func (s *surface) ViewportExtent() float64 {
	return s.viewport
}

func (s *surface) SetScrollOffset(o float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = o
}

type harness struct {
	srv     *backendtest.Server
	session *Session
	surface *surface
	events  chan Event
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	srv := backendtest.New()
	t.Cleanup(srv.Close)

	client, err := backend.NewClient(srv.URL, backend.WithoutRateLimit(), backend.WithTokenSource(func() string { return "" }))
	require.NoError(t, err)

	h := &harness{srv: srv, events: make(chan Event, 256)}
	h.surface = &surface{viewport: 500}
	opts.Listener = func(ev Event) { h.events <- ev }
	h.session = NewSession(client, h.surface, opts)
	h.surface.rows = func() int {
		v := h.session.Snapshot()
		n := len(v.Messages)
		if v.HasLive {
			n++
		}
		return n
	}
	return h
}

func (h *harness) waitEvent(t *testing.T, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case ev := <-h.events:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for session event")
			return Event{}
		}
	}
}

func submitAsync(ctx context.Context, s *Session, input string) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Submit(ctx, input) }()
	return done
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for turn to finish")
		return nil
	}
}

func TestTurnLifecycle(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	release := make(chan struct{})
	h.srv.SetChatScript(func(w *backendtest.StreamWriter, _ models.ChatRequest) {
		w.Delta("H")
		w.Delta("He")
		w.Wait(release)
		w.Final("Hello there!")
	})

	_, err := h.session.SwitchResource(ctx, "ph-1")
	require.NoError(t, err)

	done := submitAsync(ctx, h.session, "Hello")
	h.waitEvent(t, func(ev Event) bool { return ev.Kind == EventLive && ev.Live == "He" })

	view := h.session.Snapshot()
	require.Len(t, view.Messages, 1)
	assert.Equal(t, models.Message{Role: models.RoleUser, Content: "Hello"}, view.Messages[0])
	assert.True(t, view.HasLive)
	assert.Equal(t, "He", view.Live)
	assert.True(t, h.session.TurnActive())

	close(release)
	require.NoError(t, waitErr(t, done))

	view = h.session.Snapshot()
	require.Len(t, view.Messages, 2)
	assert.Equal(t, models.Message{Role: models.RoleAssistant, Content: "Hello there!"}, view.Messages[1])
	assert.False(t, view.HasLive)
	assert.False(t, h.session.TurnActive())

	reqs := h.srv.ChatRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "ph-1", reqs[0].Source)
	assert.Equal(t, "Hello", reqs[0].UserInput)
	require.Len(t, reqs[0].Messages, 1)
	assert.Equal(t, "Hello", reqs[0].Messages[0].Content)
}

func TestSecondTurnCarriesConversation(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	_, err := h.session.SwitchResource(ctx, "ph-1")
	require.NoError(t, err)

	require.NoError(t, h.session.Submit(ctx, "one"))
	require.NoError(t, h.session.Submit(ctx, "two"))

	reqs := h.srv.ChatRequests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[1].Messages, 3)
	assert.Equal(t, "echo: one", reqs[1].Messages[1].Content)
	assert.Equal(t, models.RoleAssistant, reqs[1].Messages[1].Role)
	assert.Equal(t, 4, len(h.session.Snapshot().Messages))
}

func TestMalformedFrameDoesNotAbortTurn(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.srv.SetChatScript(backendtest.Frames(
		"data: {\"delta\":\"a\"}\n\n",
		"data: {not-json}\n\n",
		"data: {\"done\":true,\"final\":\"ab\"}\n\n",
	))
	_, err := h.session.SwitchResource(ctx, "ph-1")
	require.NoError(t, err)

	require.NoError(t, h.session.Submit(ctx, "hi"))
	msgs := h.session.Snapshot().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "ab", msgs[1].Content)
}

func TestStreamEndingWithoutFinalFailsTurn(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.srv.SetChatScript(backendtest.Frames("data: {\"delta\":\"partial\"}\n\n", "data: {\"delta\":\"partial answ"))
	_, err := h.session.SwitchResource(ctx, "ph-1")
	require.NoError(t, err)

	err = h.session.Submit(ctx, "hi")
	require.ErrorIs(t, err, ErrStreamIncomplete)

	view := h.session.Snapshot()
	require.Len(t, view.Messages, 1, "user message stays visible")
	assert.Equal(t, models.RoleUser, view.Messages[0].Role)
	assert.False(t, view.HasLive, "partial reply is not committed")
	h.waitEvent(t, func(ev Event) bool { return ev.Kind == EventTurnFailed })

	// The session accepts the next turn.
	h.srv.SetChatScript(backendtest.Reply("ok"))
	require.NoError(t, h.session.Submit(ctx, "again"))
}

func TestStreamTimeout(t *testing.T) {
	h := newHarness(t, Options{StreamTimeout: 100 * time.Millisecond})
	ctx := context.Background()
	h.srv.SetChatScript(func(w *backendtest.StreamWriter, _ models.ChatRequest) {
		w.Delta("thinking")
		w.Wait(make(chan struct{}))
	})
	_, err := h.session.SwitchResource(ctx, "ph-1")
	require.NoError(t, err)

	err = h.session.Submit(ctx, "hi")
	require.ErrorIs(t, err, ErrStreamTimeout)
	assert.False(t, h.session.Snapshot().HasLive)
	assert.False(t, h.session.TurnActive())
}

func TestTurnInFlightIsRejected(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	release := make(chan struct{})
	h.srv.SetChatScript(func(w *backendtest.StreamWriter, _ models.ChatRequest) {
		w.Delta("x")
		w.Wait(release)
		w.Final("xy")
	})
	_, err := h.session.SwitchResource(ctx, "ph-1")
	require.NoError(t, err)

	done := submitAsync(ctx, h.session, "first")
	h.waitEvent(t, func(ev Event) bool { return ev.Kind == EventLive })

	assert.ErrorIs(t, h.session.Submit(ctx, "second"), ErrTurnInFlight)
	close(release)
	require.NoError(t, waitErr(t, done))
	assert.Len(t, h.srv.ChatRequests(), 1)
}

func TestInputValidation(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	assert.ErrorIs(t, h.session.Submit(ctx, "hi"), ErrNoResource)

	_, err := h.session.SwitchResource(ctx, "ph-1")
	require.NoError(t, err)
	assert.ErrorIs(t, h.session.Submit(ctx, "   "), ErrEmptyInput)
	assert.Empty(t, h.srv.ChatRequests())
}

type rejectingBackend struct{}

func (rejectingBackend) StreamChat(context.Context, models.ChatRequest) (io.ReadCloser, error) {
	return nil, &backend.APIError{StatusCode: 503, Detail: "busy"}
}

func (rejectingBackend) FetchHistory(context.Context, string, *models.Cursor, int) (*models.HistoryPage, error) {
	return &models.HistoryPage{}, nil
}

func TestRejectedTurnLeavesLogUntouched(t *testing.T) {
	surf := &surface{viewport: 500, rows: func() int { return 0 }}
	s := NewSession(rejectingBackend{}, surf, Options{})
	ctx := context.Background()
	_, err := s.SwitchResource(ctx, "ph-1")
	require.NoError(t, err)

	err = s.Submit(ctx, "hello")
	var apiErr *backend.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Empty(t, s.Snapshot().Messages)
	assert.False(t, s.TurnActive())
}

func TestSwitchResourceDiscardsStreamingReply(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	release := make(chan struct{})
	defer close(release)
	h.srv.SetChatScript(func(w *backendtest.StreamWriter, _ models.ChatRequest) {
		w.Delta("for ph-1")
		w.Wait(release)
		w.Final("for ph-1, done")
	})
	h.srv.SeedHistory("ph-2", 3)

	_, err := h.session.SwitchResource(ctx, "ph-1")
	require.NoError(t, err)
	done := submitAsync(ctx, h.session, "hi")
	h.waitEvent(t, func(ev Event) bool { return ev.Kind == EventLive })

	res, err := h.session.SwitchResource(ctx, "ph-2")
	require.NoError(t, err)
	assert.Equal(t, history.Merged, res.Outcome)

	assert.ErrorIs(t, waitErr(t, done), ErrStaleResource)

	view := h.session.Snapshot()
	require.Len(t, view.Messages, 3)
	assert.Equal(t, "message 1", view.Messages[0].Content)
	assert.False(t, view.HasLive)
	assert.Equal(t, "ph-2", h.session.ResourceID())
}

func TestHistoryPagingKeepsAnchor(t *testing.T) {
	h := newHarness(t, Options{PageSize: 10})
	ctx := context.Background()
	h.srv.SeedHistory("ph-1", 25)

	res, err := h.session.SwitchResource(ctx, "ph-1")
	require.NoError(t, err)
	assert.Equal(t, 10, res.Merged)
	assert.Equal(t, history.StateIdle, h.session.HistoryState())
	// Initial load lands at the bottom: 10 rows * 50 - 500.
	assert.Equal(t, 0.0, h.surface.ScrollOffset())

	h.surface.SetScrollOffset(120)
	decision := h.session.OnScroll()
	require.True(t, decision.LoadOlder)

	res, err = h.session.LoadOlder(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Merged)

	moved, ok := h.session.AfterRender()
	require.True(t, ok)
	assert.Equal(t, 500.0, moved)
	assert.Equal(t, 620.0, h.surface.ScrollOffset())

	msgs := h.session.Snapshot().Messages
	require.Len(t, msgs, 20)
	assert.Equal(t, "message 6", msgs[0].Content)
	assert.Equal(t, "message 25", msgs[19].Content)

	res, err = h.session.LoadOlder(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Merged)
	assert.Equal(t, history.StateExhausted, h.session.HistoryState())
	_, ok = h.session.AfterRender()
	require.True(t, ok)

	h.surface.SetScrollOffset(0)
	assert.False(t, h.session.OnScroll().LoadOlder, "exhausted history never asks again")

	res, err = h.session.LoadOlder(ctx)
	require.NoError(t, err)
	assert.Equal(t, history.DroppedExhausted, res.Outcome)
	_, ok = h.session.AfterRender()
	assert.False(t, ok)
}

func TestScrollingAwayStopsFollowingUntilNextTurn(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.srv.SeedHistory("ph-1", 20)
	release := make(chan struct{})
	h.srv.SetChatScript(func(w *backendtest.StreamWriter, _ models.ChatRequest) {
		w.Delta("a")
		w.Wait(release)
		w.Delta("ab")
		w.Final("abc")
	})

	_, err := h.session.SwitchResource(ctx, "ph-1")
	require.NoError(t, err)

	done := submitAsync(ctx, h.session, "q")
	h.waitEvent(t, func(ev Event) bool { return ev.Kind == EventLive && ev.Live == "a" })
	// 20 history + user + live = 22 rows. The follow scroll runs once the
	// listener has returned.
	require.Eventually(t, func() bool {
		return h.surface.ScrollOffset() == 22*rowHeight-500
	}, waitFor, 5*time.Millisecond)

	h.surface.SetScrollOffset(100)
	d := h.session.OnScroll()
	assert.True(t, d.ShowJumpToLatest)
	assert.True(t, h.session.ScrollState().UserOverrodeFollow)

	close(release)
	require.NoError(t, waitErr(t, done))
	// The committed reply is always surfaced.
	assert.Equal(t, 22*rowHeight-500, h.surface.ScrollOffset())

	h.surface.SetScrollOffset(0)
	h.session.JumpToLatest()
	assert.False(t, h.session.ScrollState().UserOverrodeFollow)
}

func TestCancelAbortsTurn(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.srv.SetChatScript(func(w *backendtest.StreamWriter, _ models.ChatRequest) {
		w.Delta("x")
		w.Wait(make(chan struct{}))
	})
	_, err := h.session.SwitchResource(ctx, "ph-1")
	require.NoError(t, err)

	done := submitAsync(ctx, h.session, "hi")
	h.waitEvent(t, func(ev Event) bool { return ev.Kind == EventLive })
	h.session.Cancel()

	err = waitErr(t, done)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, h.session.Snapshot().HasLive)
}

// renderedSurface only learns about new content when the listener renders it.
type renderedSurface struct {
	mu     sync.Mutex
	offset float64
	extent float64
	live   float64
}

func (s *renderedSurface) ScrollOffset() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

func (s *renderedSurface) ContentExtent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extent + s.live
}

func (s *renderedSurface) ViewportExtent() float64 {
	return 500
}

func (s *renderedSurface) SetScrollOffset(o float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = o
}

func (s *renderedSurface) render(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Kind {
	case EventLive:
		s.live = 100
	case EventCommitted:
		if ev.Message.Role == models.RoleAssistant {
			s.live = 0
		}
		s.extent += 400
	}
}

func TestFollowScrollUsesRenderedExtent(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()
	srv.SetChatScript(backendtest.Reply("hi there"))

	client, err := backend.NewClient(srv.URL, backend.WithoutRateLimit(), backend.WithTokenSource(func() string { return "" }))
	require.NoError(t, err)

	surface := &renderedSurface{extent: 2000}
	var liveOffsets []float64
	session := NewSession(client, surface, Options{Listener: func(ev Event) {
		if ev.Kind == EventLive {
			// Offset left by the previous follow scroll.
			liveOffsets = append(liveOffsets, surface.ScrollOffset())
		}
		surface.render(ev)
	}})

	ctx := context.Background()
	_, err = session.SwitchResource(ctx, "ph-1")
	require.NoError(t, err)

	require.NoError(t, session.Submit(ctx, "hi"))

	// User row and reply row were both rendered before scrolling.
	assert.Equal(t, 2800.0, surface.ContentExtent())
	assert.Equal(t, 2300.0, surface.ScrollOffset())

	// The first delta follows the user message, later ones follow the live row.
	require.Len(t, liveOffsets, 2)
	assert.Equal(t, 1900.0, liveOffsets[0])
	assert.Equal(t, 2000.0, liveOffsets[1])

	d := session.OnScroll()
	assert.False(t, d.ShowJumpToLatest)
	state := session.ScrollState()
	assert.True(t, state.NearBottom)
	assert.False(t, state.UserOverrodeFollow)
}
