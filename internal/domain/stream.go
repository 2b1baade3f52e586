package domain

import "context"

// StreamEvent is one inbound event of a turn. The concrete types are
// TokenEvent, SourcesEvent, DoneEvent and ErrorEvent.
type StreamEvent interface {
	isStreamEvent()
}

// TokenEvent carries a fragment of generated text
type TokenEvent struct {
	Text string
}

// SourcesEvent carries the citation list for the current answer
type SourcesEvent struct {
	Sources []Source
}

// DoneEvent ends a turn successfully
type DoneEvent struct{}

// ErrorEvent ends a turn with a failure
type ErrorEvent struct {
	Err error
}

func (TokenEvent) isStreamEvent()   {}
func (SourcesEvent) isStreamEvent() {}
func (DoneEvent) isStreamEvent()    {}
func (ErrorEvent) isStreamEvent()   {}

// IsTerminal reports whether ev ends a turn
func IsTerminal(ev StreamEvent) bool {
	switch ev.(type) {
	case DoneEvent, ErrorEvent:
		return true
	default:
		return false
	}
}

// RequestFrame is the single outbound frame sent when a turn's connection opens
type RequestFrame struct {
	SessionID int64   `json:"session_id"`
	Query     string  `json:"query"`
	Folder    string  `json:"folder"`
	File      *string `json:"file"`
	Persona   string  `json:"persona"`
}

// Stream is an open, non-restartable event sequence for one turn
type Stream interface {
	// ID identifies the underlying connection handle
	ID() string

	// Events delivers events in arrival order; the channel closes after a
	// terminal event or after Close
	Events() <-chan StreamEvent

	// Close aborts the connection; safe to call more than once
	Close() error
}

// StreamOpener opens a Stream and sends the request frame once the connection is ready
type StreamOpener interface {
	Open(ctx context.Context, frame RequestFrame) (Stream, error)
}

// TurnStatus describes where a turn is in its lifecycle
type TurnStatus string

const (
	TurnStreaming TurnStatus = "streaming"
	TurnCompleted TurnStatus = "completed"
	TurnFailed    TurnStatus = "failed"
	TurnCancelled TurnStatus = "cancelled"
)
