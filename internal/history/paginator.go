// Package history pages older conversation messages in from the backend.
package history

import (
	"context"
	"fmt"
	"sync"

	"github.com/chatphantom/phantomchat/internal/domain/chat/models"
	"github.com/chatphantom/phantomchat/internal/logger"
	"github.com/chatphantom/phantomchat/internal/metrics"
)

// State of the paginator.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Outcome describes what happened to one fetch request.
type Outcome int

const (
	// Merged means a page was fetched and merged into the sink.
	Merged Outcome = iota
	// DroppedBusy means another fetch was outstanding.
	DroppedBusy
	// DroppedExhausted means the history has no older pages.
	DroppedExhausted
	// Discarded means the target resource changed while the fetch was in flight.
	Discarded
	// Failed means the fetch returned an error; the paginator is Idle again.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Merged:
		return "fetched"
	case DroppedBusy:
		return "dropped_busy"
	case DroppedExhausted:
		return "dropped_exhausted"
	case Discarded:
		return "stale"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Fetcher loads one page older than before. A nil before requests the newest page.
type Fetcher interface {
	FetchHistory(ctx context.Context, resourceID string, before *models.Cursor, limit int) (*models.HistoryPage, error)
}

// Sink receives merged pages; conversation.Store satisfies it.
type Sink interface {
	MergeOlderPage(page []models.Message) int
}

// Result is returned by every fetch request.
type Result struct {
	Outcome Outcome
	Merged  int
}

// Paginator is the Idle/Loading/Exhausted state machine for one conversation.
// At most one fetch is outstanding; requests made while Loading are dropped.
type Paginator struct {
	mu         sync.Mutex
	fetcher    Fetcher
	sink       Sink
	limit      int
	resourceID string
	cursor     *models.Cursor
	state      State
	generation uint64
}

func NewPaginator(fetcher Fetcher, sink Sink, limit int) *Paginator {
	return &Paginator{
		fetcher: fetcher,
		sink:    sink,
		limit:   limit,
	}
}

// Reset targets a new resource: state returns to Idle with a cleared cursor
// and any in-flight fetch for the previous resource is discarded on arrival.
func (p *Paginator) Reset(resourceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resourceID = resourceID
	p.cursor = nil
	p.state = StateIdle
	p.generation++
}

// State returns the current state.
func (p *Paginator) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// CanLoadOlder reports whether a near-top scroll should issue a request.
func (p *Paginator) CanLoadOlder() bool {
	return p.State() == StateIdle
}

// Cursor returns the boundary for the next older page; nil before the first fetch.
func (p *Paginator) Cursor() *models.Cursor {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cursor == nil {
		return nil
	}
	c := *p.cursor
	return &c
}

// ResourceID returns the resource currently paged.
func (p *Paginator) ResourceID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resourceID
}

// LoadInitial fetches the newest page. It is honoured even when Exhausted.
func (p *Paginator) LoadInitial(ctx context.Context) (Result, error) {
	return p.load(ctx, true)
}

// LoadOlder fetches the page before the current cursor.
func (p *Paginator) LoadOlder(ctx context.Context) (Result, error) {
	return p.load(ctx, false)
}

func (p *Paginator) load(ctx context.Context, initial bool) (Result, error) {
	l := logger.With(logger.HISTORY)

	p.mu.Lock()
	switch {
	case p.state == StateLoading:
		resourceID := p.resourceID
		p.mu.Unlock()
		l.Debug().Str("phantom_id", resourceID).Msg("Dropping page request while another is loading")
		metrics.HistoryRequests.WithLabelValues(DroppedBusy.String()).Inc()
		return Result{Outcome: DroppedBusy}, nil
	case p.state == StateExhausted && !initial:
		p.mu.Unlock()
		metrics.HistoryRequests.WithLabelValues(DroppedExhausted.String()).Inc()
		return Result{Outcome: DroppedExhausted}, nil
	}

	var before *models.Cursor
	if !initial && p.cursor != nil {
		c := *p.cursor
		before = &c
	}
	resourceID := p.resourceID
	generation := p.generation
	p.state = StateLoading
	p.mu.Unlock()

	page, err := p.fetcher.FetchHistory(ctx, resourceID, before, p.limit)

	p.mu.Lock()
	defer p.mu.Unlock()

	if generation != p.generation {
		l.Debug().Str("phantom_id", resourceID).Msg("Discarding page for a previous conversation target")
		metrics.HistoryRequests.WithLabelValues(Discarded.String()).Inc()
		return Result{Outcome: Discarded}, nil
	}

	if err != nil {
		p.state = StateIdle
		l.Warn().Err(err).Str("phantom_id", resourceID).Msg("History fetch failed")
		metrics.HistoryRequests.WithLabelValues(Failed.String()).Inc()
		return Result{Outcome: Failed}, fmt.Errorf("failed to fetch history for %s: %w", resourceID, err)
	}

	merged := p.sink.MergeOlderPage(page.Messages)

	switch {
	case !page.HasMore:
		p.state = StateExhausted
	case page.NextTimestamp == nil || *page.NextTimestamp == "":
		// More pages were promised without a boundary; asking again would
		// only return the newest page.
		l.Warn().Str("phantom_id", resourceID).Msg("History page has more results but no cursor")
		p.state = StateExhausted
	default:
		next := *page.NextTimestamp
		p.cursor = &next
		p.state = StateIdle
	}

	l.Debug().
		Str("phantom_id", resourceID).
		Int("merged", merged).
		Str("state", p.state.String()).
		Msg("History page merged")
	metrics.HistoryRequests.WithLabelValues(Merged.String()).Inc()

	return Result{Outcome: Merged, Merged: merged}, nil
}
