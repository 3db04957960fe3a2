// Package conversation holds the ordered message log of one conversation and
// its single live, not-yet-committed assistant fragment.
package conversation

import (
	"sync"

	"github.com/chatphantom/phantomchat/internal/domain/chat/models"
)

// View is a consistent read of the store: committed messages oldest first,
// followed by the live fragment when one exists.
type View struct {
	Messages []models.Message
	Live     string
	HasLive  bool
}

// Store is the ordered, append-or-prepend-only message log.
//
// Committed messages are never mutated. New turns go to the end through
// AppendCommitted and CommitLive; older history goes to the front through
// MergeOlderPage. The live fragment is never part of Messages.
type Store struct {
	mu         sync.RWMutex
	messages   []models.Message
	live       string
	hasLive    bool
	turnActive bool
}

func NewStore() *Store {
	return &Store{}
}

// BeginTurn opens the live slot for a new assistant reply.
func (s *Store) BeginTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnActive = true
	s.live = ""
	s.hasLive = false
}

// TurnActive reports whether a reply is being streamed.
func (s *Store) TurnActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turnActive
}

// AppendCommitted inserts m at the logical end.
func (s *Store) AppendCommitted(m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

// SetLive replaces the live fragment. It is a no-op when no turn is active.
func (s *Store) SetLive(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.turnActive {
		return false
	}
	s.live = text
	s.hasLive = true
	return true
}

// CommitLive promotes the live fragment to an assistant message and ends the turn.
// It is a no-op when there is no live fragment.
func (s *Store) CommitLive() (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasLive {
		return models.Message{}, false
	}

	m := models.Message{Role: models.RoleAssistant, Content: s.live}
	s.messages = append(s.messages, m)
	s.live = ""
	s.hasLive = false
	s.turnActive = false
	return m, true
}

// AbandonLive ends the turn and drops the live fragment without committing it.
func (s *Store) AbandonLive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = ""
	s.hasLive = false
	s.turnActive = false
}

// MergeOlderPage places page before the current oldest message, keeping the
// page's own order. Messages whose timestamp is already present are skipped so
// an overlapping page boundary cannot duplicate history.
func (s *Store) MergeOlderPage(page []models.Message) int {
	if len(page) == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[models.Cursor]struct{}, len(s.messages))
	for _, m := range s.messages {
		if m.Timestamp != "" {
			seen[m.Timestamp] = struct{}{}
		}
	}

	older := make([]models.Message, 0, len(page)+len(s.messages))
	for _, m := range page {
		if m.Timestamp != "" {
			if _, dup := seen[m.Timestamp]; dup {
				continue
			}
			seen[m.Timestamp] = struct{}{}
		}
		older = append(older, m)
	}

	merged := len(older)
	s.messages = append(older, s.messages...)
	return merged
}

// Messages returns a copy of the committed messages, oldest first.
func (s *Store) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Live returns the live fragment, if any.
func (s *Store) Live() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live, s.hasLive
}

// Len returns the number of committed messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Snapshot returns committed messages and the live fragment under one lock.
func (s *Store) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return View{Messages: out, Live: s.live, HasLive: s.hasLive}
}

// Reset clears the log, used when the conversation target changes.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.live = ""
	s.hasLive = false
	s.turnActive = false
}
