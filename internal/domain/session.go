package domain

import (
	"context"
	"time"
)

// Session represents a persistent conversation thread
type Session struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionRepository defines the interface for session storage
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id int64) (*Session, error)
	List(ctx context.Context, limit int, offset int) ([]Session, error)
	Rename(ctx context.Context, id int64, name string) error
	Delete(ctx context.Context, id int64) error
}
