package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Rrens/vault-chat/internal/domain"
)

// MessageRepository implements domain.MessageRepository
type MessageRepository struct {
	db *DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// LoadHistory returns a session's messages in insertion order
func (r *MessageRepository) LoadHistory(ctx context.Context, sessionID int64) ([]domain.StoredMessage, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT role, content, persona, timestamp
		FROM messages
		WHERE session_id = ?
		ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	history := []domain.StoredMessage{}
	for rows.Next() {
		var (
			m       domain.StoredMessage
			role    string
			persona sql.NullString
		)
		if err := rows.Scan(&role, &m.Raw, &persona, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = domain.MessageRole(role)
		m.Persona = persona.String
		history = append(history, m)
	}
	return history, rows.Err()
}

// AppendMessage inserts one history row
func (r *MessageRepository) AppendMessage(ctx context.Context, sessionID int64, message domain.StoredMessage) error {
	persona := sql.NullString{String: message.Persona, Valid: message.Persona != ""}
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, content, persona, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		sessionID, string(message.Role), message.Raw, persona, message.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}
