package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Rrens/vault-chat/internal/codec"
	"github.com/Rrens/vault-chat/internal/config"
	"github.com/Rrens/vault-chat/internal/domain"
	"github.com/Rrens/vault-chat/internal/reasoning"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultSessionName = "New Session"

// HistoryCache caches decoded-ready history rows per session
type HistoryCache interface {
	Get(ctx context.Context, sessionID int64) ([]domain.StoredMessage, bool)
	Set(ctx context.Context, sessionID int64, history []domain.StoredMessage) error
	Invalidate(ctx context.Context, sessionID int64) error
}

// TurnLimiter limits how often a key may start a turn.
// Returns (allowed, remaining, resetTime, error)
type TurnLimiter interface {
	Allow(ctx context.Context, key string) (bool, int, time.Time, error)
}

// TurnRequest holds the user input for one turn
type TurnRequest struct {
	Query   string  `json:"query" validate:"required,max=20000"`
	Persona string  `json:"persona" validate:"max=64"`
	Folder  string  `json:"folder" validate:"max=256"`
	File    *string `json:"file" validate:"omitempty,max=512"`
}

// AssistantRef identifies the assistant message a turn streams into
type AssistantRef struct {
	SessionID int64  `json:"session_id"`
	TurnID    string `json:"turn_id"`
	Index     int    `json:"index"`
}

// ChatService manages sessions and their streaming turns
type ChatService struct {
	registry     *Registry
	opener       domain.StreamOpener
	sessionRepo  domain.SessionRepository
	messageRepo  domain.MessageRepository
	historyCache HistoryCache
	limiter      TurnLimiter
	cfg          config.ChatConfig
	wg           sync.WaitGroup
}

// NewChatService creates a new chat service. historyCache and limiter may be nil.
func NewChatService(
	opener domain.StreamOpener,
	sessionRepo domain.SessionRepository,
	messageRepo domain.MessageRepository,
	historyCache HistoryCache,
	limiter TurnLimiter,
	cfg config.ChatConfig,
) *ChatService {
	return &ChatService{
		registry:     NewRegistry(),
		opener:       opener,
		sessionRepo:  sessionRepo,
		messageRepo:  messageRepo,
		historyCache: historyCache,
		limiter:      limiter,
		cfg:          cfg,
	}
}

// CreateSession stores a new empty session and registers it
func (s *ChatService) CreateSession(ctx context.Context, name string) (*domain.Session, error) {
	if name == "" {
		name = defaultSessionName
	}

	session := &domain.Session{
		Name:      name,
		CreatedAt: time.Now(),
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.registry.GetOrPut(newSessionState(*session, nil, s.cfg.DefaultPersona))
	return session, nil
}

// ListSessions returns stored sessions, newest first
func (s *ChatService) ListSessions(ctx context.Context, limit, offset int) ([]domain.Session, error) {
	sessions, err := s.sessionRepo.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// RenameSession updates a session's display name
func (s *ChatService) RenameSession(ctx context.Context, id int64, name string) error {
	if err := s.sessionRepo.Rename(ctx, id, name); err != nil {
		return fmt.Errorf("failed to rename session: %w", err)
	}
	if st, ok := s.registry.Get(id); ok {
		st.mu.Lock()
		st.session.Name = name
		st.mu.Unlock()
	}
	return nil
}

// DeleteSession closes any open stream, drops unsaved turns, forgets the
// session and deletes it from storage
func (s *ChatService) DeleteSession(ctx context.Context, id int64) error {
	if st, ok := s.registry.Remove(id); ok {
		st.mu.Lock()
		// turns ended by deletion are not stored
		st.deleted = true
		st.pending = nil
		if t := st.activeTurn(); t != nil {
			s.finishLocked(st, t, domain.TurnCancelled, nil)
		}
		st.mu.Unlock()
	}

	if err := s.sessionRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.invalidateHistory(ctx, id)
	return nil
}

// LoadSession makes sure a session is in memory and returns its snapshot
func (s *ChatService) LoadSession(ctx context.Context, id int64) (*SessionSnapshot, error) {
	st, err := s.state(ctx, id)
	if err != nil {
		return nil, err
	}
	return st.snapshot(), nil
}

// Snapshot returns a read-only copy of a loaded session
func (s *ChatService) Snapshot(id int64) (*SessionSnapshot, error) {
	st, ok := s.registry.Get(id)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return st.snapshot(), nil
}

// Messages returns a copy of a loaded session's message list
func (s *ChatService) Messages(id int64) ([]domain.Message, error) {
	st, ok := s.registry.Get(id)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return copyMessages(st.messages), nil
}

// StartTurn appends the user message and an empty assistant message, then
// streams the answer in the background. An active turn in the same session
// is force-terminated first.
func (s *ChatService) StartTurn(ctx context.Context, sessionID int64, req TurnRequest) (*AssistantRef, error) {
	st, err := s.state(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if s.limiter != nil {
		allowed, _, _, err := s.limiter.Allow(ctx, strconv.FormatInt(sessionID, 10))
		if err != nil {
			// If rate limiter fails, allow the turn but log the error
			log.Warn().Err(err).Int64("session_id", sessionID).Msg("turn rate limiter unavailable")
		} else if !allowed {
			return nil, domain.ErrRateLimited
		}
	}

	persona := req.Persona
	if persona == "" {
		persona = s.cfg.DefaultPersona
	}
	folder := req.Folder
	if folder == "" {
		folder = s.cfg.DefaultFolder
	}

	frame := domain.RequestFrame{
		SessionID: sessionID,
		Query:     req.Query,
		Folder:    folder,
		File:      req.File,
		Persona:   persona,
	}

	turnCtx, cancelDial := context.WithCancel(context.Background())
	now := time.Now()

	st.mu.Lock()
	if prev := st.activeTurn(); prev != nil {
		log.Info().
			Int64("session_id", sessionID).
			Str("turn", prev.id).
			Msg("force-terminating previous turn")
		s.finishLocked(st, prev, domain.TurnCancelled, nil)
	}

	st.messages = append(st.messages,
		domain.Message{Role: domain.RoleUser, Content: req.Query, Timestamp: now},
		domain.Message{Role: domain.RoleAssistant, Persona: persona, Timestamp: now},
	)
	t := &turn{
		id:         uuid.New().String(),
		index:      len(st.messages) - 1,
		parser:     reasoning.NewParser(),
		cancelDial: cancelDial,
		status:     domain.TurnStreaming,
		done:       make(chan struct{}),
	}
	st.turn = t
	st.persona = persona
	st.mu.Unlock()

	log.Info().
		Int64("session_id", sessionID).
		Str("turn", t.id).
		Str("persona", persona).
		Msg("turn started")

	s.wg.Add(1)
	go s.run(turnCtx, st, t, frame)

	return &AssistantRef{SessionID: sessionID, TurnID: t.id, Index: t.index}, nil
}

// CurrentAssistantMessage returns the message being streamed into
func (s *ChatService) CurrentAssistantMessage(sessionID int64) (domain.Message, error) {
	st, ok := s.registry.Get(sessionID)
	if !ok {
		return domain.Message{}, domain.ErrNoActiveTurn
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	t := st.activeTurn()
	if t == nil || t.index != len(st.messages)-1 || st.messages[t.index].Role != domain.RoleAssistant {
		return domain.Message{}, domain.ErrNoActiveTurn
	}
	return copyMessage(st.messages[t.index]), nil
}

// AttachSources replaces the citation list of the streaming assistant
// message. Without an active turn the call is logged and ignored.
func (s *ChatService) AttachSources(sessionID int64, sources []domain.Source) {
	st, ok := s.registry.Get(sessionID)
	if !ok {
		log.Warn().Int64("session_id", sessionID).Msg("sources for unknown session ignored")
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	t := st.activeTurn()
	if t == nil {
		log.Warn().Int64("session_id", sessionID).Msg("sources without an active turn ignored")
		return
	}
	applySourcesLocked(st, t, sources)
}

// Cancel closes the session's open stream and marks the turn cancelled,
// keeping whatever content had arrived. It reports whether a turn was
// terminated; repeated calls are no-ops.
func (s *ChatService) Cancel(sessionID int64) bool {
	st, ok := s.registry.Get(sessionID)
	if !ok {
		return false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	t := st.activeTurn()
	if t == nil {
		log.Debug().Int64("session_id", sessionID).Msg("cancel without an active turn")
		return false
	}

	s.finishLocked(st, t, domain.TurnCancelled, nil)
	return true
}

// Wait blocks until every turn goroutine and pending persistence has finished
func (s *ChatService) Wait() {
	s.wg.Wait()
}

// Shutdown cancels all active turns and waits for their goroutines
func (s *ChatService) Shutdown(ctx context.Context) error {
	for _, st := range s.registry.All() {
		st.mu.Lock()
		if t := st.activeTurn(); t != nil {
			s.finishLocked(st, t, domain.TurnCancelled, nil)
		}
		st.mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// state returns the registered session, loading it from storage if needed
func (s *ChatService) state(ctx context.Context, id int64) (*SessionState, error) {
	if st, ok := s.registry.Get(id); ok {
		return st, nil
	}

	session, err := s.sessionRepo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	history, err := s.loadHistory(ctx, id)
	if err != nil {
		return nil, err
	}

	persona := s.cfg.DefaultPersona
	messages := make([]domain.Message, 0, len(history))
	for _, row := range history {
		m := codec.FromStored(row)
		if m.Role == domain.RoleAssistant && m.Persona != "" {
			persona = m.Persona
		}
		messages = append(messages, m)
	}

	log.Debug().Int64("session_id", id).Int("messages", len(messages)).Msg("session loaded")

	return s.registry.GetOrPut(newSessionState(*session, messages, persona)), nil
}

func (s *ChatService) loadHistory(ctx context.Context, id int64) ([]domain.StoredMessage, error) {
	if s.historyCache != nil {
		if cached, ok := s.historyCache.Get(ctx, id); ok {
			return cached, nil
		}
	}

	history, err := s.messageRepo.LoadHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	if s.historyCache != nil {
		if err := s.historyCache.Set(ctx, id, history); err != nil {
			log.Warn().Err(err).Int64("session_id", id).Msg("failed to cache history")
		}
	}
	return history, nil
}

func (s *ChatService) invalidateHistory(ctx context.Context, id int64) {
	if s.historyCache == nil {
		return
	}
	if err := s.historyCache.Invalidate(ctx, id); err != nil {
		log.Warn().Err(err).Int64("session_id", id).Msg("failed to invalidate history cache")
	}
}
