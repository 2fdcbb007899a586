package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/admitpath/advisory-engine/internal/model"
)

type conversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepository returns a Postgres-backed conversation repository.
func NewConversationRepository(db *sqlx.DB) ConversationRepository {
	return &conversationRepo{db: db}
}

func (r *conversationRepo) Insert(ctx context.Context, conv *model.Conversation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversations
			(id, student_id, mode, started_at, last_message_at, message_count)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, conv.ID, conv.StudentID, conv.Mode, conv.StartedAt, conv.LastMessageAt, conv.MessageCount)
	return err
}

func (r *conversationRepo) Get(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.GetContext(ctx, &conv, `
		SELECT * FROM conversations WHERE id = $1
	`, id)
	if err != nil {
		return nil, handleNotFound(err)
	}
	return &conv, nil
}

func (r *conversationRepo) FindActive(ctx context.Context, studentID string, cutoff time.Time) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.GetContext(ctx, &conv, `
		SELECT * FROM conversations
		WHERE student_id = $1
		  AND ended_at IS NULL
		  AND last_message_at >= $2
		ORDER BY last_message_at DESC
		LIMIT 1
	`, studentID, cutoff)
	if err != nil {
		return nil, handleNotFound(err)
	}
	return &conv, nil
}

func (r *conversationRepo) FindStaleIDs(ctx context.Context, studentID string, cutoff time.Time) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM conversations
		WHERE student_id = $1
		  AND summary IS NULL
		  AND message_count > 0
		  AND last_message_at < $2
		ORDER BY last_message_at ASC
	`, studentID, cutoff)
	return ids, err
}

func (r *conversationRepo) BumpActivity(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET
			last_message_at = $2,
			message_count = message_count + 1
		WHERE id = $1
	`, id, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *conversationRepo) MarkEnded(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET ended_at = $2
		WHERE id = $1 AND ended_at IS NULL
	`, id, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil || n > 0 {
		return err
	}
	// Distinguish "already ended" (no-op) from "missing".
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)
	`, id); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func (r *conversationRepo) SetSummary(ctx context.Context, id, summary string, forUser model.UserSummary, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET
			summary = $2,
			summary_for_user = $3,
			summary_updated_at = $4
		WHERE id = $1 AND summary IS NULL
	`, id, summary, forUser, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *conversationRepo) FindSummarizationCandidates(ctx context.Context, cutoff time.Time, limit int) ([]Candidate, error) {
	var candidates []Candidate
	err := r.db.SelectContext(ctx, &candidates, `
		SELECT id, student_id FROM conversations
		WHERE summary IS NULL
		  AND message_count > 0
		  AND (ended_at IS NOT NULL OR last_message_at < $1)
		ORDER BY last_message_at ASC
		LIMIT $2
	`, cutoff, limit)
	return candidates, err
}

func (r *conversationRepo) RecentSummaries(ctx context.Context, studentID string, limit int) ([]SummaryRow, error) {
	var rows []SummaryRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT summary, last_message_at FROM conversations
		WHERE student_id = $1 AND summary IS NOT NULL
		ORDER BY last_message_at DESC
		LIMIT $2
	`, studentID, limit)
	return rows, err
}
