package service

import (
	"context"
	"time"

	"github.com/Rrens/vault-chat/internal/codec"
	"github.com/Rrens/vault-chat/internal/domain"
	"github.com/Rrens/vault-chat/internal/reasoning"
	"github.com/rs/zerolog/log"
)

const persistTimeout = 10 * time.Second

// run opens the turn's stream and applies its events until the turn ends
func (s *ChatService) run(ctx context.Context, st *SessionState, t *turn, frame domain.RequestFrame) {
	defer s.wg.Done()

	stream, err := s.opener.Open(ctx, frame)

	st.mu.Lock()
	if err != nil {
		if st.turn == t && t.active() {
			log.Error().Err(err).Int64("session_id", frame.SessionID).Str("turn", t.id).Msg("failed to open stream")
			s.finishLocked(st, t, domain.TurnFailed, err)
		}
		st.mu.Unlock()
		return
	}
	if st.turn != t || !t.active() {
		// cancelled or replaced while dialing
		st.mu.Unlock()
		stream.Close()
		return
	}
	t.stream = stream
	st.mu.Unlock()

	log.Debug().Str("turn", t.id).Str("handle", stream.ID()).Msg("turn attached to stream")

	for {
		select {
		case <-t.done:
			return
		case ev, ok := <-stream.Events():
			if !ok {
				s.streamEnded(st, t)
				return
			}
			s.apply(st, t, ev)
		}
	}
}

// apply mutates the session for one event. Events that arrive after the
// turn was cancelled or replaced are dropped.
func (s *ChatService) apply(st *SessionState, t *turn, ev domain.StreamEvent) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.turn != t || !t.active() {
		log.Debug().Str("turn", t.id).Msgf("dropping late %T", ev)
		return
	}

	switch e := ev.(type) {
	case domain.TokenEvent:
		t.parser.Write(e.Text)
		st.messages[t.index].Content = t.parser.Raw()
	case domain.SourcesEvent:
		applySourcesLocked(st, t, e.Sources)
	case domain.DoneEvent:
		s.finishLocked(st, t, domain.TurnCompleted, nil)
	case domain.ErrorEvent:
		log.Warn().Err(e.Err).Int64("session_id", st.session.ID).Str("turn", t.id).Msg("turn failed")
		s.finishLocked(st, t, domain.TurnFailed, e.Err)
	}
}

// streamEnded handles an event channel that closed without a terminal event
func (s *ChatService) streamEnded(st *SessionState, t *turn) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.turn != t || !t.active() {
		return
	}
	s.finishLocked(st, t, domain.TurnFailed, &domain.TransportError{Op: "read", Err: domain.ErrConnectionLost})
}

// applySourcesLocked replaces the assistant message's citations. Last write wins.
func applySourcesLocked(st *SessionState, t *turn, sources []domain.Source) {
	st.messages[t.index].Sources = domain.CloneSources(sources)
}

// finishLocked moves t out of streaming, closes its connection and
// finalizes the reasoning parser. Callers hold st.mu.
func (s *ChatService) finishLocked(st *SessionState, t *turn, status domain.TurnStatus, err error) {
	if !t.active() {
		return
	}

	t.status = status
	t.err = err
	t.parser.Finalize()
	close(t.done)

	if t.stream != nil {
		if cerr := t.stream.Close(); cerr != nil {
			log.Debug().Err(cerr).Str("turn", t.id).Msg("closing stream")
		}
	}
	t.cancelDial()

	log.Info().
		Int64("session_id", st.session.ID).
		Str("turn", t.id).
		Str("status", string(status)).
		Int("content_len", len(st.messages[t.index].Content)).
		Msg("turn finished")

	if s.cfg.PersistTurns && !st.deleted {
		s.enqueuePersistLocked(st, copyMessage(st.messages[t.index-1]), copyMessage(st.messages[t.index]))
	}
}

// enqueuePersistLocked queues a finished turn's messages for storage.
// Writes for one session are drained by a single goroutine so rows land in
// the order the turns finished. Callers hold st.mu.
func (s *ChatService) enqueuePersistLocked(st *SessionState, msgs ...domain.Message) {
	st.pending = append(st.pending, msgs)
	if st.persisting {
		return
	}
	st.persisting = true

	s.wg.Add(1)
	go s.drainPersist(st)
}

func (s *ChatService) drainPersist(st *SessionState) {
	defer s.wg.Done()

	for {
		st.mu.Lock()
		if len(st.pending) == 0 || st.deleted {
			st.pending = nil
			st.persisting = false
			st.mu.Unlock()
			return
		}
		msgs := st.pending[0]
		st.pending = st.pending[1:]
		sessionID := st.session.ID
		st.mu.Unlock()

		s.persistTurn(sessionID, msgs)
	}
}

// persistTurn writes the messages of one finished turn
func (s *ChatService) persistTurn(sessionID int64, msgs []domain.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	for _, m := range msgs {
		if err := s.messageRepo.AppendMessage(ctx, sessionID, codec.ToStored(m)); err != nil {
			log.Error().Err(err).Int64("session_id", sessionID).Msg("failed to persist turn")
			return
		}
	}
	s.invalidateHistory(ctx, sessionID)
}

// SessionSnapshot is a read-only view of a loaded session
type SessionSnapshot struct {
	Session  domain.Session `json:"session"`
	Persona  string         `json:"persona"`
	Messages []MessageView  `json:"messages"`
	Turn     *TurnInfo      `json:"turn,omitempty"`
}

// MessageView is a message plus its reasoning split, if it has one
type MessageView struct {
	domain.Message
	Reasoning *reasoning.View `json:"reasoning,omitempty"`
}

// TurnInfo describes the most recent turn of a session
type TurnInfo struct {
	ID     string            `json:"id"`
	Index  int               `json:"index"`
	Status domain.TurnStatus `json:"status"`
	Error  string            `json:"error,omitempty"`
}

func (st *SessionState) snapshot() *SessionSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	snap := &SessionSnapshot{
		Session:  st.session,
		Persona:  st.persona,
		Messages: make([]MessageView, 0, len(st.messages)),
	}

	for i, m := range st.messages {
		mv := MessageView{Message: copyMessage(m)}
		if m.Role == domain.RoleAssistant {
			var v reasoning.View
			if st.turn != nil && st.turn.index == i {
				v = st.turn.parser.View()
			} else {
				v = reasoning.Split(m.Content)
			}
			if v.State != reasoning.StateNone {
				mv.Reasoning = &v
			}
		}
		snap.Messages = append(snap.Messages, mv)
	}

	if t := st.turn; t != nil {
		info := &TurnInfo{ID: t.id, Index: t.index, Status: t.status}
		if t.err != nil {
			info.Error = t.err.Error()
		}
		snap.Turn = info
	}
	return snap
}

func copyMessage(m domain.Message) domain.Message {
	m.Sources = domain.CloneSources(m.Sources)
	return m
}

func copyMessages(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, len(msgs))
	for i, m := range msgs {
		out[i] = copyMessage(m)
	}
	return out
}
