package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/Rrens/vault-chat/internal/api/response"
)

// SessionHandler serves session CRUD and history
type SessionHandler struct {
	chat ChatService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(chat ChatService) *SessionHandler {
	return &SessionHandler{chat: chat}
}

type sessionInput struct {
	Name string `json:"name" validate:"max=255"`
}

type renameInput struct {
	Name string `json:"name" validate:"required,max=255"`
}

// List returns stored sessions, newest first
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}

	sessions, err := h.chat.ListSessions(r.Context(), limit, offset)
	if err != nil {
		serviceError(w, r, err, "failed to list sessions")
		return
	}

	response.OK(w, sessions)
}

// Create starts a new session. The body is optional.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input sessionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := validate.Struct(input); err != nil {
		response.BadRequest(w, validationErrors(err))
		return
	}

	session, err := h.chat.CreateSession(r.Context(), input.Name)
	if err != nil {
		serviceError(w, r, err, "failed to create session")
		return
	}

	response.Created(w, session)
}

// Get loads a session and returns its snapshot
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(r)
	if !ok {
		response.BadRequest(w, "invalid session ID")
		return
	}

	snap, err := h.chat.LoadSession(r.Context(), id)
	if err != nil {
		serviceError(w, r, err, "failed to load session")
		return
	}

	response.OK(w, snap)
}

// Messages returns the session's messages with their reasoning views
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(r)
	if !ok {
		response.BadRequest(w, "invalid session ID")
		return
	}

	snap, err := h.chat.LoadSession(r.Context(), id)
	if err != nil {
		serviceError(w, r, err, "failed to load messages")
		return
	}

	response.OK(w, map[string]any{
		"messages": snap.Messages,
		"turn":     snap.Turn,
	})
}

// Rename changes a session's display name
func (h *SessionHandler) Rename(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(r)
	if !ok {
		response.BadRequest(w, "invalid session ID")
		return
	}

	var input renameInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := validate.Struct(input); err != nil {
		response.BadRequest(w, validationErrors(err))
		return
	}

	if err := h.chat.RenameSession(r.Context(), id, input.Name); err != nil {
		serviceError(w, r, err, "failed to rename session")
		return
	}

	response.OK(w, map[string]any{"id": id, "name": input.Name})
}

// Delete removes a session and its history
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(r)
	if !ok {
		response.BadRequest(w, "invalid session ID")
		return
	}

	if err := h.chat.DeleteSession(r.Context(), id); err != nil {
		serviceError(w, r, err, "failed to delete session")
		return
	}

	response.NoContent(w)
}
