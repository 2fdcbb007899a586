package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/admitpath/advisory-engine/internal/model"
)

type profileRepo struct {
	db *sqlx.DB
}

// NewProfileRepository returns read-only access to profile data owned by
// the CRUD layer.
func NewProfileRepository(db *sqlx.DB) ProfileRepository {
	return &profileRepo{db: db}
}

func (r *profileRepo) GetProfile(ctx context.Context, studentID string) (*model.StudentProfile, error) {
	var p model.StudentProfile
	err := r.db.GetContext(ctx, &p, `
		SELECT * FROM student_profiles WHERE student_id = $1
	`, studentID)
	if err != nil {
		return nil, handleNotFound(err)
	}
	return &p, nil
}

func (r *profileRepo) ListGoals(ctx context.Context, studentID string) ([]model.Goal, error) {
	var goals []model.Goal
	err := r.db.SelectContext(ctx, &goals, `
		SELECT g.id, g.student_id, g.title, g.status,
		       COUNT(t.id) AS total_tasks,
		       COUNT(t.id) FILTER (WHERE t.completed) AS completed_tasks
		FROM goals g
		LEFT JOIN tasks t ON t.goal_id = g.id
		WHERE g.student_id = $1 AND g.status IN ('planning', 'in_progress')
		GROUP BY g.id, g.student_id, g.title, g.status
		ORDER BY g.created_at ASC
	`, studentID)
	return goals, err
}

func (r *profileRepo) ListUpcomingDeadlines(ctx context.Context, studentID string, after time.Time, limit int) ([]model.Deadline, error) {
	var deadlines []model.Deadline
	err := r.db.SelectContext(ctx, &deadlines, `
		SELECT title, school, due_at FROM deadlines
		WHERE student_id = $1 AND due_at >= $2
		ORDER BY due_at ASC
		LIMIT $3
	`, studentID, after, limit)
	return deadlines, err
}
