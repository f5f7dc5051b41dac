// Package memory stores chat sessions, their message history, and a
// tool-call audit trail in SQLite. The driver is chosen by whoever
// opens the *sql.DB; this package only speaks database/sql.
package memory

import (
	"encoding/json"
	"time"

	"github.com/fetekit/fete-agent/internal/llm"
)

// Session statuses. Archived sessions keep their history but reject
// new turns.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

// Session is one conversation with the assistant.
type Session struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToolCallRecord is one audited tool invocation.
type ToolCallRecord struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	ToolName    string     `json:"tool_name"`
	Arguments   string     `json:"arguments"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms,omitempty"`
}

// marshalToolCalls serializes assistant tool calls for storage.
// Returns "" when there are none so the column stays NULL.
func marshalToolCalls(calls []llm.ToolCall) string {
	if len(calls) == 0 {
		return ""
	}
	b, err := json.Marshal(calls)
	if err != nil {
		return ""
	}
	return string(b)
}

func unmarshalToolCalls(raw string) []llm.ToolCall {
	if raw == "" {
		return nil
	}
	var calls []llm.ToolCall
	if err := json.Unmarshal([]byte(raw), &calls); err != nil {
		return nil
	}
	return calls
}
