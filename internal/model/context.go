package model

import (
	"time"
)

// AssembledContext is everything the advisor model needs for one session:
// a rendered system prompt plus the structured sidebar payload shown
// alongside the chat.
type AssembledContext struct {
	StudentID    string    `json:"student_id"`
	Mode         string    `json:"mode"`
	SystemPrompt string    `json:"system_prompt"`
	Sidebar      Sidebar   `json:"sidebar"`
	AssembledAt  time.Time `json:"assembled_at"`
}

// Sidebar is the structured payload rendered next to the chat window.
type Sidebar struct {
	Objectives           []Objective    `json:"objectives,omitempty"`
	Deadlines            []Deadline     `json:"deadlines,omitempty"`
	OpenCommitments      string         `json:"open_commitments,omitempty"`
	GoalProgress         []GoalProgress `json:"goal_progress,omitempty"`
	DaysSinceLastSession *int           `json:"days_since_last_session,omitempty"`
}

// GoalProgress is a goal's completion ratio for display. Progress is nil
// when the goal has no tasks.
type GoalProgress struct {
	GoalID   string `json:"goal_id"`
	Title    string `json:"title"`
	Progress *int   `json:"progress"`
}

// ProfileSnapshot is the lightweight profile view cached for greeting
// generation.
type ProfileSnapshot struct {
	StudentID  string   `json:"student_id"`
	FirstName  string   `json:"first_name"`
	GradeLevel *int     `json:"grade_level,omitempty"`
	School     string   `json:"school,omitempty"`
	Targets    []string `json:"targets,omitempty"`
}

// ChatTurnRequest is the request body for one chat turn.
type ChatTurnRequest struct {
	Content string  `json:"content"`
	Mode    string  `json:"mode,omitempty"`
	Intent  JSONMap `json:"intent,omitempty"`
}

// EndSessionRequest is the best-effort end-of-session signal, typically
// fired from page unload.
type EndSessionRequest struct {
	ConversationID string `json:"conversation_id"`
}

// WarmupRequest asks for proactive context assembly ahead of the first turn.
type WarmupRequest struct {
	Mode string `json:"mode,omitempty"`
}

// NotificationDecision is the outcome of one notification check for a
// student. When Notify is false the remaining fields are empty.
type NotificationDecision struct {
	StudentID string `json:"student_id"`
	Notify    bool   `json:"notify"`
	Title     string `json:"title,omitempty"`
	Body      string `json:"body,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
