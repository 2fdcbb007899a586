package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single chat message. Messages are append-only: the engine
// never updates or deletes them.
type Message struct {
	ID             string `json:"id" db:"id"`
	ConversationID string `json:"conversation_id" db:"conversation_id"`

	Role    Role   `json:"role" db:"role"`
	Content string `json:"content" db:"content"`

	// Intent carries optional parsed-intent or widget metadata attached by
	// the page layer.
	Intent JSONMap `json:"intent,omitempty" db:"intent"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// JSONMap is a jsonb-backed string-keyed map.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported type %T for JSONMap", src)
	}
}
