// Package transport opens the per-turn websocket connection to the
// generation backend and turns its frames into ordered stream events.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Rrens/vault-chat/internal/config"
	"github.com/Rrens/vault-chat/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// eventBuffer bounds how far the reader may run ahead of the consumer
const eventBuffer = 64

// Dialer opens one websocket connection per turn
type Dialer struct {
	url              string
	handshakeTimeout time.Duration
	readLimit        int64
}

// NewDialer creates a dialer for the configured backend
func NewDialer(cfg config.BackendConfig) *Dialer {
	return &Dialer{
		url:              cfg.WSURL,
		handshakeTimeout: cfg.HandshakeTimeout,
		readLimit:        cfg.ReadLimit,
	}
}

// Open dials the backend, sends the request frame once the handshake has
// completed, and starts delivering events.
func (d *Dialer) Open(ctx context.Context, frame domain.RequestFrame) (domain.Stream, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.handshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, &domain.TransportError{Op: "dial", Err: err}
	}
	if d.readLimit > 0 {
		conn.SetReadLimit(d.readLimit)
	}

	if err := conn.WriteJSON(frame); err != nil {
		conn.Close()
		return nil, &domain.TransportError{Op: "send", Err: err}
	}

	h := &Handle{
		id:      uuid.New().String(),
		conn:    conn,
		events:  make(chan domain.StreamEvent, eventBuffer),
		closeCh: make(chan struct{}),
	}

	log.Debug().
		Str("handle", h.id).
		Int64("session_id", frame.SessionID).
		Str("persona", frame.Persona).
		Msg("stream opened")

	go h.readLoop()

	return h, nil
}

// Handle is one open connection. Its event channel closes after a terminal
// event or after Close; nothing is delivered once Close has been called.
type Handle struct {
	id        string
	conn      *websocket.Conn
	events    chan domain.StreamEvent
	closeCh   chan struct{}
	closeOnce sync.Once
}

// ID returns the handle identity
func (h *Handle) ID() string {
	return h.id
}

// Events returns the ordered event channel
func (h *Handle) Events() <-chan domain.StreamEvent {
	return h.events
}

// Close aborts the connection without draining it
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.closeCh)
		err = h.conn.Close()
	})
	return err
}

func (h *Handle) closed() bool {
	select {
	case <-h.closeCh:
		return true
	default:
		return false
	}
}

// emit hands an event to the consumer unless the handle was closed
func (h *Handle) emit(ev domain.StreamEvent) bool {
	if h.closed() {
		return false
	}
	select {
	case <-h.closeCh:
		return false
	case h.events <- ev:
		return true
	}
}

// readLoop is the only reader of the connection, so events keep the
// order in which the backend wrote them.
func (h *Handle) readLoop() {
	defer close(h.events)

	for {
		_, message, err := h.conn.ReadMessage()
		if err != nil {
			if h.closed() {
				return
			}
			log.Warn().Err(err).Str("handle", h.id).Msg("stream closed before done")
			h.emit(domain.ErrorEvent{Err: &domain.TransportError{
				Op:  "read",
				Err: fmt.Errorf("%w: %v", domain.ErrConnectionLost, err),
			}})
			h.Close()
			return
		}

		ev, err := decodeFrame(message)
		if err != nil {
			log.Warn().Err(err).Str("handle", h.id).Msg("rejecting inbound frame")
			h.emit(domain.ErrorEvent{Err: &domain.TransportError{Op: "decode", Err: err}})
			h.Close()
			return
		}

		if !h.emit(ev) {
			return
		}
		if domain.IsTerminal(ev) {
			h.Close()
			return
		}
	}
}
