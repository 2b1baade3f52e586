package postgres

import (
	"context"
	"fmt"

	"github.com/Rrens/vault-chat/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MessageRepository implements domain.MessageRepository
type MessageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// LoadHistory returns a session's messages in insertion order
func (r *MessageRepository) LoadHistory(ctx context.Context, sessionID int64) ([]domain.StoredMessage, error) {
	query := `
		SELECT role, content, COALESCE(persona, ''), timestamp
		FROM messages
		WHERE session_id = $1
		ORDER BY id ASC
	`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	history := []domain.StoredMessage{}
	for rows.Next() {
		var m domain.StoredMessage
		var role string
		if err := rows.Scan(&role, &m.Raw, &m.Persona, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = domain.MessageRole(role)
		history = append(history, m)
	}
	return history, rows.Err()
}

// AppendMessage inserts one history row
func (r *MessageRepository) AppendMessage(ctx context.Context, sessionID int64, message domain.StoredMessage) error {
	query := `
		INSERT INTO messages (session_id, role, content, persona, timestamp)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
	`
	_, err := r.pool.Exec(ctx, query,
		sessionID,
		string(message.Role),
		message.Raw,
		message.Persona,
		message.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}
