package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/admitpath/advisory-engine/internal/model"
)

type messageRepo struct {
	db *sqlx.DB
}

// NewMessageRepository returns a Postgres-backed message repository.
func NewMessageRepository(db *sqlx.DB) MessageRepository {
	return &messageRepo{db: db}
}

func (r *messageRepo) Insert(ctx context.Context, msg *model.Message) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, intent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.Intent, msg.CreatedAt)
	return err
}

func (r *messageRepo) ListByConversation(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT * FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, conversationID, limit)
	return msgs, err
}
