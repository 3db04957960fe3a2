package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = openai.ChatMessageRoleUser
	RoleAssistant Role = openai.ChatMessageRoleAssistant
)

// NormalizeRole folds backend spellings onto the two conversation roles.
// The answer pipeline labels its own turns "model".
func NormalizeRole(role string) Role {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case openai.ChatMessageRoleUser:
		return RoleUser
	case openai.ChatMessageRoleAssistant, "model", "ai":
		return RoleAssistant
	default:
		return Role(role)
	}
}

// Valid reports whether r is one of the conversation roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Cursor is an opaque, server-assigned ordering key. The backend may send it
// as a JSON string or number; both are kept verbatim.
type Cursor string

func (c *Cursor) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Cursor(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("cursor must be a string or number: %w", err)
	}
	*c = Cursor(n.String())
	return nil
}

func (c Cursor) String() string {
	return string(c)
}

// Message represents a single committed message in a conversation
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp Cursor `json:"timestamp,omitempty"`
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role      string `json:"role"`
		Content   string `json:"content"`
		Timestamp Cursor `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = NormalizeRole(raw.Role)
	m.Content = raw.Content
	m.Timestamp = raw.Timestamp
	return nil
}

// ChatRequest is the body of a turn submission.
type ChatRequest struct {
	UserInput string    `json:"user_input"`
	Messages  []Message `json:"messages"`
	Source    string    `json:"source"`
}

// HistoryPage is one page of persisted messages, oldest first.
type HistoryPage struct {
	Messages      []Message `json:"messages"`
	HasMore       bool      `json:"has_more"`
	NextTimestamp *Cursor   `json:"next_timestamp"`
}
