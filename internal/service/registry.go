package service

import (
	"context"
	"sync"

	"github.com/Rrens/vault-chat/internal/domain"
	"github.com/Rrens/vault-chat/internal/reasoning"
)

// Registry holds the in-memory state of every loaded session
type Registry struct {
	sessions map[int64]*SessionState
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[int64]*SessionState),
	}
}

// Get returns the state of a loaded session
func (r *Registry) Get(id int64) (*SessionState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.sessions[id]
	return st, ok
}

// GetOrPut installs st unless the session is already loaded, and returns
// whichever state is registered.
func (r *Registry) GetOrPut(st *SessionState) *SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[st.session.ID]; ok {
		return existing
	}
	r.sessions[st.session.ID] = st
	return st
}

// Remove drops a session from memory and returns its state, if any
func (r *Registry) Remove(id int64) (*SessionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sessions[id]
	delete(r.sessions, id)
	return st, ok
}

// All returns every loaded session state
func (r *Registry) All() []*SessionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := make([]*SessionState, 0, len(r.sessions))
	for _, st := range r.sessions {
		states = append(states, st)
	}
	return states
}

// Len returns the number of loaded sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SessionState is the explicit per-session state object. Every mutation of
// the message list and the turn happens under mu, which gives the turn's
// event consumer, Cancel and StartTurn a single-writer discipline.
type SessionState struct {
	mu       sync.Mutex
	session  domain.Session
	messages []domain.Message
	persona  string
	turn     *turn // most recent turn, nil before the first one

	// finished turns awaiting storage, in finish order; one drainer at a time
	pending    [][]domain.Message
	persisting bool
	deleted    bool
}

func newSessionState(session domain.Session, messages []domain.Message, persona string) *SessionState {
	return &SessionState{
		session:  session,
		messages: messages,
		persona:  persona,
	}
}

// activeTurn returns the streaming turn or nil. Callers hold mu.
func (st *SessionState) activeTurn() *turn {
	if st.turn != nil && st.turn.active() {
		return st.turn
	}
	return nil
}

// turn tracks one in-flight generation. The stream handle identity is the
// turn pointer itself: events are applied only while st.turn == t and the
// turn is still streaming.
type turn struct {
	id         string
	index      int // position of the assistant message
	parser     *reasoning.Parser
	stream     domain.Stream
	cancelDial context.CancelFunc
	status     domain.TurnStatus
	err        error
	done       chan struct{} // closed when the turn leaves streaming
}

func (t *turn) active() bool {
	return t.status == domain.TurnStreaming
}
