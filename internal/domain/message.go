package domain

import (
	"context"
	"time"
)

// MessageRole represents the sender of a message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Source is a citation attached to an assistant message
type Source struct {
	File    string `json:"file"`
	Page    *int   `json:"page,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Message represents a chat message in a session.
// Only assistant messages carry Sources or receive streamed tokens.
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Sources   []Source    `json:"sources,omitempty"`
	Persona   string      `json:"persona,omitempty"`
	Timestamp time.Time   `json:"timestamp,omitempty"`
}

// StoredMessage is one persisted history row. Raw holds the codec-encoded
// content, i.e. the text with an optional trailing <sources> block.
type StoredMessage struct {
	Role      MessageRole `json:"role"`
	Raw       string      `json:"raw"`
	Persona   string      `json:"persona,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// MessageRepository defines the interface for message history storage
type MessageRepository interface {
	LoadHistory(ctx context.Context, sessionID int64) ([]StoredMessage, error)
	AppendMessage(ctx context.Context, sessionID int64, message StoredMessage) error
}

// CloneSources returns an independent copy of a source list
func CloneSources(src []Source) []Source {
	if len(src) == 0 {
		return nil
	}
	out := make([]Source, len(src))
	for i, s := range src {
		out[i] = s
		if s.Page != nil {
			p := *s.Page
			out[i].Page = &p
		}
	}
	return out
}
