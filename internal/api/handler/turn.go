package handler

import (
	"encoding/json"
	"net/http"

	"github.com/Rrens/vault-chat/internal/api/response"
	"github.com/Rrens/vault-chat/internal/service"
)

// TurnHandler starts, inspects and cancels streaming turns
type TurnHandler struct {
	chat ChatService
}

// NewTurnHandler creates a new turn handler
func NewTurnHandler(chat ChatService) *TurnHandler {
	return &TurnHandler{chat: chat}
}

// Start begins a turn and returns the assistant message it streams into
func (h *TurnHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(r)
	if !ok {
		response.BadRequest(w, "invalid session ID")
		return
	}

	var input service.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := validate.Struct(input); err != nil {
		response.BadRequest(w, validationErrors(err))
		return
	}

	ref, err := h.chat.StartTurn(r.Context(), id, input)
	if err != nil {
		serviceError(w, r, err, "failed to start turn")
		return
	}

	response.Accepted(w, ref)
}

// Current returns the assistant message of the active turn
func (h *TurnHandler) Current(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(r)
	if !ok {
		response.BadRequest(w, "invalid session ID")
		return
	}

	msg, err := h.chat.CurrentAssistantMessage(id)
	if err != nil {
		serviceError(w, r, err, "failed to read current message")
		return
	}

	response.OK(w, msg)
}

// Cancel stops the active turn. It always succeeds.
func (h *TurnHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(r)
	if !ok {
		response.BadRequest(w, "invalid session ID")
		return
	}

	response.OK(w, map[string]any{"cancelled": h.chat.Cancel(id)})
}
