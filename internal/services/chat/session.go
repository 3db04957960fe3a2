package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chatphantom/phantomchat/internal/conversation"
	"github.com/chatphantom/phantomchat/internal/domain/chat/models"
	"github.com/chatphantom/phantomchat/internal/history"
	"github.com/chatphantom/phantomchat/internal/logger"
	"github.com/chatphantom/phantomchat/internal/metrics"
	"github.com/chatphantom/phantomchat/internal/stream"
	"github.com/chatphantom/phantomchat/internal/viewport"
	"github.com/google/uuid"
)

var errStale = errors.New("stale generation")

// Options tunes a Session. Zero values fall back to defaults.
type Options struct {
	StreamTimeout time.Duration
	PageSize      int
	EdgeThreshold float64
	Listener      Listener
}

type turn struct {
	id     string
	cancel context.CancelFunc
}

// Session is the conversation with one phantom at a time.
type Session struct {
	backend       Backend
	store         *conversation.Store
	pager         *history.Paginator
	scroll        *viewport.Coordinator
	streamTimeout time.Duration
	listener      Listener

	mu         sync.Mutex
	resourceID string
	generation uint64
	active     *turn
}

func NewSession(backend Backend, surface viewport.Metrics, opts Options) *Session {
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.Listener == nil {
		opts.Listener = func(Event) {}
	}

	store := conversation.NewStore()
	return &Session{
		backend:       backend,
		store:         store,
		pager:         history.NewPaginator(backend, store, opts.PageSize),
		scroll:        viewport.NewCoordinator(surface, opts.EdgeThreshold),
		streamTimeout: opts.StreamTimeout,
		listener:      opts.Listener,
	}
}

// ResourceID returns the current conversation target.
func (s *Session) ResourceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resourceID
}

// Snapshot returns the committed messages and live fragment.
func (s *Session) Snapshot() conversation.View {
	return s.store.Snapshot()
}

// HistoryState returns the paginator state.
func (s *Session) HistoryState() history.State {
	return s.pager.State()
}

// ScrollState returns the viewport state.
func (s *Session) ScrollState() viewport.State {
	return s.scroll.State()
}

// TurnActive reports whether a reply is streaming.
func (s *Session) TurnActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// SwitchResource points the session at resourceID. Any reply or page still in
// flight for the previous target is abandoned and its results are discarded.
// The newest history page is then loaded.
func (s *Session) SwitchResource(ctx context.Context, resourceID string) (history.Result, error) {
	s.mu.Lock()
	s.generation++
	if s.active != nil {
		s.active.cancel()
		s.active = nil
	}
	s.resourceID = resourceID
	s.mu.Unlock()

	s.pager.Reset(resourceID)
	s.store.Reset()
	s.scroll.Reset()
	s.listener(Event{Kind: EventReset, ResourceID: resourceID})

	l := logger.With(logger.CHAT)
	l.Debug().Str("phantom_id", resourceID).Msg("Switched conversation target")

	res, err := s.pager.LoadInitial(ctx)
	if err != nil {
		return res, err
	}
	if res.Outcome == history.Merged && res.Merged > 0 {
		s.listener(Event{Kind: EventHistoryMerged, ResourceID: resourceID, Merged: res.Merged})
		s.scroll.OnCommittedAppend()
	}
	return res, nil
}

// Submit sends input as a new turn and blocks until the reply is committed
// or the turn fails. The user message joins the log only once the backend
// has accepted the request, so a rejected turn leaves nothing behind and the
// caller still holds the input.
func (s *Session) Submit(ctx context.Context, input string) error {
	if strings.TrimSpace(input) == "" {
		return ErrEmptyInput
	}

	s.mu.Lock()
	if s.resourceID == "" {
		s.mu.Unlock()
		return ErrNoResource
	}
	if s.active != nil {
		s.mu.Unlock()
		return ErrTurnInFlight
	}
	var (
		turnCtx context.Context
		cancel  context.CancelFunc
	)
	if s.streamTimeout > 0 {
		turnCtx, cancel = context.WithTimeout(ctx, s.streamTimeout)
	} else {
		turnCtx, cancel = context.WithCancel(ctx)
	}
	t := &turn{id: uuid.NewString(), cancel: cancel}
	s.active = t
	generation := s.generation
	resourceID := s.resourceID
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		if s.active == t {
			s.active = nil
		}
		s.mu.Unlock()
	}()

	l := logger.With(logger.CHAT)
	userMsg := models.Message{Role: models.RoleUser, Content: input}
	req := models.ChatRequest{
		UserInput: input,
		Messages:  append(s.store.Messages(), userMsg),
		Source:    resourceID,
	}

	body, err := s.backend.StreamChat(turnCtx, req)
	if err != nil {
		metrics.Turns.WithLabelValues("rejected").Inc()
		l.Error().Err(err).Str("phantom_id", resourceID).Str("turn_id", t.id).Msg("Turn was not accepted")
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrStreamTimeout, err)
		}
		return fmt.Errorf("submit turn: %w", err)
	}
	defer body.Close()

	accepted := s.apply(generation, func() {
		s.store.AppendCommitted(userMsg)
		s.store.BeginTurn()
	})
	if !accepted {
		metrics.Turns.WithLabelValues("stale").Inc()
		return ErrStaleResource
	}
	// Follow scrolls wait for the listener so they see the rendered extent.
	s.listener(Event{Kind: EventCommitted, ResourceID: resourceID, TurnID: t.id, Message: userMsg})
	s.apply(generation, s.scroll.BeginTurn)

	var (
		committed bool
		final     models.Message
	)
	err = stream.Decode(turnCtx, body, func(ev stream.Event) error {
		switch ev.Kind {
		case stream.KindDelta:
			var live bool
			ok := s.apply(generation, func() {
				live = s.store.SetLive(ev.Text)
			})
			if !ok {
				return errStale
			}
			if !live {
				return nil
			}
			s.listener(Event{Kind: EventLive, ResourceID: resourceID, TurnID: t.id, Live: ev.Text})
			s.apply(generation, func() { s.scroll.OnLiveUpdate() })

		case stream.KindFinal:
			ok := s.apply(generation, func() {
				s.store.SetLive(ev.Text)
				final, committed = s.store.CommitLive()
				s.scroll.EndStream()
			})
			if !ok {
				return errStale
			}
			return stream.ErrStop

		case stream.KindMalformed:
			l.Debug().Str("turn_id", t.id).Msg("Skipping malformed frame")
		}
		return nil
	})

	if errors.Is(err, errStale) || !s.current(generation) {
		metrics.Turns.WithLabelValues("stale").Inc()
		l.Debug().Str("phantom_id", resourceID).Str("turn_id", t.id).Msg("Dropping reply for a previous conversation target")
		return ErrStaleResource
	}

	if committed {
		metrics.Turns.WithLabelValues("completed").Inc()
		s.listener(Event{Kind: EventCommitted, ResourceID: resourceID, TurnID: t.id, Message: final})
		s.apply(generation, s.scroll.OnCommittedAppend)
		return nil
	}

	outcome := "failed"
	switch {
	case err == nil:
		outcome = "incomplete"
		err = ErrStreamIncomplete
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
		err = fmt.Errorf("%w: %w", ErrStreamTimeout, err)
	}
	s.fail(generation, resourceID, t.id, outcome, err)
	return err
}

// fail abandons the live fragment of the current turn.
func (s *Session) fail(generation uint64, resourceID, turnID, outcome string, err error) {
	s.apply(generation, func() {
		s.store.AbandonLive()
		s.scroll.EndStream()
	})
	metrics.Turns.WithLabelValues(outcome).Inc()

	l := logger.With(logger.CHAT)
	l.Error().Err(err).Str("phantom_id", resourceID).Str("turn_id", turnID).Msg("Turn failed")
	s.listener(Event{Kind: EventTurnFailed, ResourceID: resourceID, TurnID: turnID, Err: err})
}

// apply runs fn only while generation is still current. Holding the session
// lock across fn orders it against SwitchResource.
func (s *Session) apply(generation uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		return false
	}
	fn()
	return true
}

func (s *Session) current(generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return generation == s.generation
}

// Cancel aborts the streaming reply, if any.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		s.active.cancel()
	}
}

// OnScroll feeds a scroll signal from the rendering surface.
func (s *Session) OnScroll() viewport.Decision {
	return s.scroll.OnScroll(s.pager.CanLoadOlder())
}

// LoadOlder fetches the page before the oldest loaded message. When messages
// were merged the caller renders them and then calls AfterRender.
func (s *Session) LoadOlder(ctx context.Context) (history.Result, error) {
	if !s.pager.CanLoadOlder() {
		return s.pager.LoadOlder(ctx)
	}

	resourceID := s.ResourceID()
	s.scroll.MarkAnchor()
	res, err := s.pager.LoadOlder(ctx)

	switch {
	case res.Outcome == history.DroppedBusy:
		// The in-flight request owns the anchor.
	case res.Outcome == history.Merged && res.Merged > 0:
		s.listener(Event{Kind: EventHistoryMerged, ResourceID: resourceID, Merged: res.Merged})
	default:
		s.scroll.CancelAnchor()
	}
	return res, err
}

// AfterRender restores the anchor after a merged page has been rendered and
// returns how far the scroll offset moved.
func (s *Session) AfterRender() (float64, bool) {
	return s.scroll.RestoreAnchor()
}

// JumpToLatest scrolls to the newest message and resumes auto-follow.
func (s *Session) JumpToLatest() {
	s.scroll.JumpToLatest()
}
