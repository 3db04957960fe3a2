// Package chat runs a conversation with one phantom: it submits turns, folds
// the streamed reply into the conversation store, pages older history in, and
// keeps the viewport in step with both.
package chat

import (
	"context"
	"errors"
	"io"

	"github.com/chatphantom/phantomchat/internal/domain/chat/models"
)

var (
	ErrEmptyInput       = errors.New("input is empty")
	ErrNoResource       = errors.New("no phantom selected")
	ErrTurnInFlight     = errors.New("a reply is still streaming")
	ErrStreamIncomplete = errors.New("stream ended before the reply was complete")
	ErrStreamTimeout    = errors.New("timed out waiting for the reply")
	ErrStaleResource    = errors.New("conversation target changed while the reply was streaming")
)

// Backend is what a Session needs from the API client.
type Backend interface {
	StreamChat(ctx context.Context, req models.ChatRequest) (io.ReadCloser, error)
	FetchHistory(ctx context.Context, resourceID string, before *models.Cursor, limit int) (*models.HistoryPage, error)
}

// EventKind says what changed in the conversation.
type EventKind int

const (
	// EventReset: the conversation target changed and the log was cleared.
	EventReset EventKind = iota
	// EventCommitted: a message was appended to the end of the log.
	EventCommitted
	// EventLive: the live fragment changed.
	EventLive
	// EventHistoryMerged: older messages were prepended. Render, then call AfterRender.
	EventHistoryMerged
	// EventTurnFailed: the live fragment was abandoned.
	EventTurnFailed
)

func (k EventKind) String() string {
	switch k {
	case EventReset:
		return "reset"
	case EventCommitted:
		return "committed"
	case EventLive:
		return "live"
	case EventHistoryMerged:
		return "history_merged"
	case EventTurnFailed:
		return "turn_failed"
	default:
		return "unknown"
	}
}

// Event is delivered to the session listener after the store has changed.
type Event struct {
	Kind       EventKind
	ResourceID string
	TurnID     string
	Message    models.Message
	Live       string
	Merged     int
	Err        error
}

// Listener runs on the goroutine that made the change, after the session lock is released.
// Follow scrolls run after it returns, so a surface may grow its content extent
// while rendering the event.
type Listener func(Event)
