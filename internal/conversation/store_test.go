package conversation

import (
	"fmt"
	"testing"

	"github.com/chatphantom/phantomchat/internal/domain/chat/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(role models.Role, content, ts string) models.Message {
	return models.Message{Role: role, Content: content, Timestamp: models.Cursor(ts)}
}

func TestSetLiveRequiresActiveTurn(t *testing.T) {
	s := NewStore()

	assert.False(t, s.SetLive("ignored"))
	_, ok := s.Live()
	assert.False(t, ok)

	s.BeginTurn()
	assert.True(t, s.SetLive("hi"))
	live, ok := s.Live()
	assert.True(t, ok)
	assert.Equal(t, "hi", live)
}

func TestAtMostOneLiveFragment(t *testing.T) {
	s := NewStore()
	s.BeginTurn()

	for i := 0; i < 10; i++ {
		s.SetLive(fmt.Sprintf("fragment %d", i))
	}

	view := s.Snapshot()
	assert.True(t, view.HasLive)
	assert.Equal(t, "fragment 9", view.Live)
	assert.Empty(t, view.Messages, "live fragment is never committed implicitly")
}

func TestCommitLive(t *testing.T) {
	s := NewStore()

	_, ok := s.CommitLive()
	assert.False(t, ok, "commit without a live fragment is a no-op")
	assert.Zero(t, s.Len())

	s.AppendCommitted(msg(models.RoleUser, "Hello", ""))
	s.BeginTurn()
	s.SetLive("H")
	s.SetLive("He")
	s.SetLive("Hello there!")

	committed, ok := s.CommitLive()
	require.True(t, ok)
	assert.Equal(t, models.RoleAssistant, committed.Role)
	assert.Equal(t, "Hello there!", committed.Content)

	view := s.Snapshot()
	assert.False(t, view.HasLive)
	assert.False(t, s.TurnActive())
	require.Len(t, view.Messages, 2)
	assert.Equal(t, committed, view.Messages[1])

	assert.False(t, s.SetLive("late delta"), "turn ended with the commit")
}

func TestAbandonLive(t *testing.T) {
	s := NewStore()
	s.AppendCommitted(msg(models.RoleUser, "Hello", ""))
	s.BeginTurn()
	s.SetLive("partial")

	s.AbandonLive()

	view := s.Snapshot()
	assert.False(t, view.HasLive)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, "Hello", view.Messages[0].Content, "user message survives a failed turn")
}

func TestMergeOlderPageOrdering(t *testing.T) {
	s := NewStore()
	s.AppendCommitted(msg(models.RoleUser, "q5", "5"))
	s.AppendCommitted(msg(models.RoleAssistant, "a5", "6"))

	s.MergeOlderPage([]models.Message{msg(models.RoleUser, "q3", "3"), msg(models.RoleAssistant, "a3", "4")})
	s.MergeOlderPage([]models.Message{msg(models.RoleUser, "q1", "1"), msg(models.RoleAssistant, "a1", "2")})

	var contents []string
	for _, m := range s.Messages() {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"q1", "a1", "q3", "a3", "q5", "a5"}, contents)
}

func TestMergeOlderPageNeverDuplicates(t *testing.T) {
	s := NewStore()
	s.MergeOlderPage([]models.Message{msg(models.RoleUser, "q2", "3"), msg(models.RoleAssistant, "a2", "4")})

	merged := s.MergeOlderPage([]models.Message{
		msg(models.RoleUser, "q1", "1"),
		msg(models.RoleAssistant, "a1", "2"),
		msg(models.RoleUser, "q2", "3"),
	})

	assert.Equal(t, 2, merged)
	assert.Equal(t, 4, s.Len())

	seen := map[models.Cursor]bool{}
	for _, m := range s.Messages() {
		assert.False(t, seen[m.Timestamp], "duplicate %s", m.Timestamp)
		seen[m.Timestamp] = true
	}
}

func TestMergeOlderPageKeepsLiveAfterCommitted(t *testing.T) {
	s := NewStore()
	s.AppendCommitted(msg(models.RoleUser, "now", "9"))
	s.BeginTurn()
	s.SetLive("streaming")

	s.MergeOlderPage([]models.Message{msg(models.RoleUser, "then", "1")})

	view := s.Snapshot()
	require.Len(t, view.Messages, 2)
	assert.Equal(t, "then", view.Messages[0].Content)
	assert.Equal(t, "now", view.Messages[1].Content)
	assert.Equal(t, "streaming", view.Live)
}

func TestReset(t *testing.T) {
	s := NewStore()
	s.AppendCommitted(msg(models.RoleUser, "x", "1"))
	s.BeginTurn()
	s.SetLive("y")

	s.Reset()

	view := s.Snapshot()
	assert.Empty(t, view.Messages)
	assert.False(t, view.HasLive)
	assert.False(t, s.TurnActive())
}
