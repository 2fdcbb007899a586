// Package repository provides persistence for conversations, messages and
// student contexts. Postgres implementations back production; in-memory
// implementations back tests and broker-less development.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/admitpath/advisory-engine/internal/model"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// Candidate identifies a conversation awaiting summarization.
type Candidate struct {
	ConversationID string `db:"id"`
	StudentID      string `db:"student_id"`
}

// SummaryRow is a prior conversation summary with the time the session
// last saw activity.
type SummaryRow struct {
	Summary string    `db:"summary"`
	At      time.Time `db:"last_message_at"`
}

// ConversationRepository persists advising sessions.
type ConversationRepository interface {
	Insert(ctx context.Context, conv *model.Conversation) error
	Get(ctx context.Context, id string) (*model.Conversation, error)

	// FindActive returns the most recently active conversation for the
	// student that has not ended and whose last message is at or after
	// cutoff. ErrNotFound when no such conversation exists.
	FindActive(ctx context.Context, studentID string, cutoff time.Time) (*model.Conversation, error)

	// FindStaleIDs returns the student's conversations with no summary, at
	// least one message, and a last message before cutoff.
	FindStaleIDs(ctx context.Context, studentID string, cutoff time.Time) ([]string, error)

	// BumpActivity sets last_message_at and increments message_count.
	BumpActivity(ctx context.Context, id string, at time.Time) error

	// MarkEnded sets ended_at. Ending an already-ended conversation is a
	// no-op; a missing row returns ErrNotFound.
	MarkEnded(ctx context.Context, id string, at time.Time) error

	// SetSummary writes both summary forms if and only if no summary has
	// landed yet. Returns false when a concurrent run already won.
	SetSummary(ctx context.Context, id, summary string, forUser model.UserSummary, at time.Time) (bool, error)

	// FindSummarizationCandidates returns unsummarized conversations with at
	// least one message that have ended or fallen outside the active window,
	// oldest first.
	FindSummarizationCandidates(ctx context.Context, cutoff time.Time, limit int) ([]Candidate, error)

	// RecentSummaries returns the student's latest conversation summaries,
	// newest first, for merge continuity.
	RecentSummaries(ctx context.Context, studentID string, limit int) ([]SummaryRow, error)
}

// MessageRepository persists chat messages. Append-only.
type MessageRepository interface {
	Insert(ctx context.Context, msg *model.Message) error

	// ListByConversation returns messages in creation order, capped at limit.
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
}

// StudentContextRepository persists the per-student master summary.
type StudentContextRepository interface {
	// Get returns ErrNotFound for students with no context row yet.
	Get(ctx context.Context, studentID string) (*model.StudentContext, error)

	// RecordNewConversation upserts the row, incrementing total_conversations
	// and stamping last_conversation_at.
	RecordNewConversation(ctx context.Context, studentID string, at time.Time) error

	// UpsertMasterSummary writes the four prose fields and adds addMessages
	// to total_messages. Objectives and deadlines are owned by other writers
	// and left untouched.
	UpsertMasterSummary(ctx context.Context, sc *model.StudentContext, addMessages int) error

	// RecentlyActive returns IDs of students whose last conversation was at
	// or after since.
	RecentlyActive(ctx context.Context, since time.Time, limit int) ([]string, error)
}

// ProfileRepository reads profile data owned by the CRUD layer. The engine
// never writes through it.
type ProfileRepository interface {
	GetProfile(ctx context.Context, studentID string) (*model.StudentProfile, error)
	ListGoals(ctx context.Context, studentID string) ([]model.Goal, error)
	ListUpcomingDeadlines(ctx context.Context, studentID string, after time.Time, limit int) ([]model.Deadline, error)
}

func handleNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
