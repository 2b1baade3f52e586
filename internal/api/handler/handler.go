package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/Rrens/vault-chat/internal/api/response"
	"github.com/Rrens/vault-chat/internal/domain"
	"github.com/Rrens/vault-chat/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var validate = validator.New()

// ChatService is the part of the chat service the handlers need
type ChatService interface {
	CreateSession(ctx context.Context, name string) (*domain.Session, error)
	ListSessions(ctx context.Context, limit, offset int) ([]domain.Session, error)
	RenameSession(ctx context.Context, id int64, name string) error
	DeleteSession(ctx context.Context, id int64) error
	LoadSession(ctx context.Context, id int64) (*service.SessionSnapshot, error)
	StartTurn(ctx context.Context, sessionID int64, req service.TurnRequest) (*service.AssistantRef, error)
	CurrentAssistantMessage(sessionID int64) (domain.Message, error)
	Cancel(sessionID int64) bool
}

// validationErrors turns validator errors into a field -> message map
func validationErrors(err error) any {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}

	fields := make(map[string]string)
	for _, e := range ve {
		switch e.Tag() {
		case "required":
			fields[e.Field()] = "field is required"
		case "max":
			fields[e.Field()] = "must be at most " + e.Param() + " characters"
		default:
			fields[e.Field()] = "validation failed on " + e.Tag()
		}
	}
	return fields
}

// sessionID reads the {sessionID} URL parameter
func sessionID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// serviceError maps service errors onto HTTP statuses
func serviceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		response.NotFound(w, "session not found")
	case errors.Is(err, domain.ErrNoActiveTurn):
		response.Conflict(w, "no active turn")
	case errors.Is(err, domain.ErrRateLimited):
		response.TooManyRequests(w, "rate limit exceeded")
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg(msg)
		response.InternalError(w, msg)
	}
}
