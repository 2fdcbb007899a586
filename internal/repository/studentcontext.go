package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/admitpath/advisory-engine/internal/model"
)

type studentContextRepo struct {
	db *sqlx.DB
}

// NewStudentContextRepository returns a Postgres-backed master-summary
// repository.
func NewStudentContextRepository(db *sqlx.DB) StudentContextRepository {
	return &studentContextRepo{db: db}
}

func (r *studentContextRepo) Get(ctx context.Context, studentID string) (*model.StudentContext, error) {
	var sc model.StudentContext
	err := r.db.GetContext(ctx, &sc, `
		SELECT * FROM student_contexts WHERE student_id = $1
	`, studentID)
	if err != nil {
		return nil, handleNotFound(err)
	}
	return &sc, nil
}

func (r *studentContextRepo) RecordNewConversation(ctx context.Context, studentID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO student_contexts (student_id, total_conversations, last_conversation_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (student_id) DO UPDATE SET
			total_conversations = student_contexts.total_conversations + 1,
			last_conversation_at = EXCLUDED.last_conversation_at
	`, studentID, at)
	return err
}

func (r *studentContextRepo) UpsertMasterSummary(ctx context.Context, sc *model.StudentContext, addMessages int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO student_contexts
			(student_id, quick_context, recent_sessions, student_understanding,
			 open_commitments, total_messages, master_summary_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (student_id) DO UPDATE SET
			quick_context = EXCLUDED.quick_context,
			recent_sessions = EXCLUDED.recent_sessions,
			student_understanding = EXCLUDED.student_understanding,
			open_commitments = EXCLUDED.open_commitments,
			total_messages = student_contexts.total_messages + $6,
			master_summary_updated_at = EXCLUDED.master_summary_updated_at
	`, sc.StudentID, sc.QuickContext, sc.RecentSessions, sc.StudentUnderstanding,
		sc.OpenCommitments, addMessages, sc.MasterSummaryUpdatedAt)
	return err
}

func (r *studentContextRepo) RecentlyActive(ctx context.Context, since time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT student_id FROM student_contexts
		WHERE last_conversation_at >= $1
		ORDER BY last_conversation_at DESC
		LIMIT $2
	`, since, limit)
	return ids, err
}
