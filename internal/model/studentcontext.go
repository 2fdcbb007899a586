package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StudentContext is the durable master summary: one row per student holding
// the compressed memory of all past advising sessions. The prose fields are
// bounded by the generation prompt (roughly 100-200 words each); the merge
// step summarizes rather than appends, so they stay bounded as conversations
// accumulate.
type StudentContext struct {
	StudentID string `json:"student_id" db:"student_id"`

	// QuickContext is a short factual line (name, grade, school, scores,
	// target schools). Derived deterministically from the profile, never
	// LLM-generated.
	QuickContext string `json:"quick_context" db:"quick_context"`

	// RecentSessions is a dated prose digest of the last few conversations,
	// newest first.
	RecentSessions string `json:"recent_sessions" db:"recent_sessions"`

	// StudentUnderstanding holds stable traits, concerns and preferences.
	// Updated each cycle, not appended.
	StudentUnderstanding string `json:"student_understanding" db:"student_understanding"`

	// OpenCommitments lists outstanding promises and deadlines; resolved
	// items are dropped during the merge.
	OpenCommitments string `json:"open_commitments" db:"open_commitments"`

	GeneratedObjectives ObjectiveList `json:"generated_objectives,omitempty" db:"generated_objectives"`
	UpcomingDeadlines   DeadlineList  `json:"upcoming_deadlines,omitempty" db:"upcoming_deadlines"`

	TotalConversations int `json:"total_conversations" db:"total_conversations"`
	TotalMessages      int `json:"total_messages" db:"total_messages"`

	LastConversationAt     *time.Time `json:"last_conversation_at,omitempty" db:"last_conversation_at"`
	MasterSummaryUpdatedAt *time.Time `json:"master_summary_updated_at,omitempty" db:"master_summary_updated_at"`
}

// Objective is a generated advising objective surfaced in the sidebar.
type Objective struct {
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Status string `json:"status,omitempty"`
}

// Deadline is an upcoming date relevant to the student.
type Deadline struct {
	Title  string    `json:"title" db:"title"`
	School string    `json:"school,omitempty" db:"school"`
	DueAt  time.Time `json:"due_at" db:"due_at"`
}

// ObjectiveList is a jsonb-backed objective slice.
type ObjectiveList []Objective

// Value implements driver.Valuer.
func (l ObjectiveList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *ObjectiveList) Scan(src any) error {
	return scanJSON(src, l, "ObjectiveList")
}

// DeadlineList is a jsonb-backed deadline slice.
type DeadlineList []Deadline

// Value implements driver.Valuer.
func (l DeadlineList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *DeadlineList) Scan(src any) error {
	return scanJSON(src, l, "DeadlineList")
}

func scanJSON(src, dst any, typeName string) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported type %T for %s", src, typeName)
	}
}
