package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoActiveTurn is returned when an operation needs a streaming turn and none is active
	ErrNoActiveTurn = errors.New("no active turn")

	// ErrSessionNotFound is returned when a session is neither loaded nor stored
	ErrSessionNotFound = errors.New("session not found")

	// ErrMalformedFrame marks an inbound frame that could not be demultiplexed
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrConnectionLost marks a connection that closed before a terminal event
	ErrConnectionLost = errors.New("connection lost")

	// ErrRateLimited is returned when a session starts turns too quickly
	ErrRateLimited = errors.New("turn rate limit exceeded")
)

// TransportError wraps a failure of the streaming connection
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// BackendError carries a reason reported by the backend in an error frame
type BackendError struct {
	Reason string
}

func (e *BackendError) Error() string {
	return "backend error: " + e.Reason
}
