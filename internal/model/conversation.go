// Package model defines data structures for the advisory engine.
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Conversation represents one advising session with a student.
type Conversation struct {
	ID        string `json:"id" db:"id"`
	StudentID string `json:"student_id" db:"student_id"`

	// Mode is a free-form session intent tag, e.g. "general" or "planning".
	Mode string `json:"mode" db:"mode"`

	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty" db:"last_message_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	MessageCount int `json:"message_count" db:"message_count"`

	// Summary is the advisor-facing prose digest. Write-once: a populated
	// summary is never overwritten.
	Summary          *string      `json:"summary,omitempty" db:"summary"`
	SummaryForUser   *UserSummary `json:"summary_for_user,omitempty" db:"summary_for_user"`
	SummaryUpdatedAt *time.Time   `json:"summary_updated_at,omitempty" db:"summary_updated_at"`
}

// UserSummary is the user-facing structured digest of a finished session.
type UserSummary struct {
	Headline    string   `json:"headline"`
	Topics      []string `json:"topics,omitempty"`
	Decisions   []string `json:"decisions,omitempty"`
	ActionItems []string `json:"action_items,omitempty"`
}

// Value implements driver.Valuer so the digest is stored as jsonb.
func (u UserSummary) Value() (driver.Value, error) {
	return json.Marshal(u)
}

// Scan implements sql.Scanner.
func (u *UserSummary) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, u)
	case string:
		return json.Unmarshal([]byte(v), u)
	default:
		return fmt.Errorf("unsupported type %T for UserSummary", src)
	}
}

// IsActive reports whether the conversation counts as resumable at the given
// instant: not explicitly ended, and the last message falls inside the active
// window. The window edge is inclusive so a message exactly window-old still
// resumes the session.
func IsActive(c *Conversation, now time.Time, window time.Duration) bool {
	if c == nil || c.EndedAt != nil || c.LastMessageAt == nil {
		return false
	}
	return !c.LastMessageAt.Before(now.Add(-window))
}

// Summarized reports whether a summary has already been persisted.
func (c *Conversation) Summarized() bool {
	return c.Summary != nil && *c.Summary != ""
}
