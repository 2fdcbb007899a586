package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StudentProfile is the read-only profile snapshot consumed by context
// assembly. The profile CRUD surface lives outside the engine; every field
// other than the ID may be absent for a brand-new student.
type StudentProfile struct {
	StudentID     string     `json:"student_id" db:"student_id"`
	FirstName     string     `json:"first_name" db:"first_name"`
	LastName      string     `json:"last_name" db:"last_name"`
	GradeLevel    *int       `json:"grade_level,omitempty" db:"grade_level"`
	School        string     `json:"school" db:"school"`
	GPA           *float64   `json:"gpa,omitempty" db:"gpa"`
	SATScore      *int       `json:"sat_score,omitempty" db:"sat_score"`
	ACTScore      *int       `json:"act_score,omitempty" db:"act_score"`
	TargetSchools StringList `json:"target_schools,omitempty" db:"target_schools"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// GoalStatus is the lifecycle state of an advising goal.
type GoalStatus string

const (
	GoalStatusPlanning   GoalStatus = "planning"
	GoalStatusInProgress GoalStatus = "in_progress"
	GoalStatusCompleted  GoalStatus = "completed"
)

// Goal is a student goal with its task completion counts, read-only here.
type Goal struct {
	ID             string     `json:"id" db:"id"`
	StudentID      string     `json:"student_id" db:"student_id"`
	Title          string     `json:"title" db:"title"`
	Status         GoalStatus `json:"status" db:"status"`
	TotalTasks     int        `json:"total_tasks" db:"total_tasks"`
	CompletedTasks int        `json:"completed_tasks" db:"completed_tasks"`
}

// Progress returns the completion percentage, or nil when the goal has no
// tasks. A goal without tasks has no data, which is not the same as 0%.
func (g *Goal) Progress() *int {
	if g.TotalTasks <= 0 {
		return nil
	}
	p := int(float64(g.CompletedTasks)/float64(g.TotalTasks)*100 + 0.5)
	return &p
}

// StringList is a jsonb-backed string slice.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported type %T for StringList", src)
	}
}
