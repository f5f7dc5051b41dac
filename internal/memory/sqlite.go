package memory

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fetekit/fete-agent/internal/llm"
)

// ErrSessionArchived is returned when appending to an archived session.
var ErrSessionArchived = errors.New("session is archived")

// Store is a SQLite-backed session store.
type Store struct {
	db *sql.DB
}

// New wraps an open database and creates the schema if needed.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT,
		tool_call_id TEXT,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

	CREATE TABLE IF NOT EXISTS tool_calls (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		arguments TEXT NOT NULL,
		result TEXT,
		error TEXT,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		duration_ms INTEGER,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_tool ON tool_calls(tool_name);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetOrCreateSession ensures a session row exists and returns it.
func (s *Store) GetOrCreateSession(id string) (*Session, error) {
	now := time.Now()

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO sessions (id, status, created_at, updated_at)
		VALUES (?, 'active', ?, ?)
	`, id, now, now)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return s.GetSession(id)
}

// GetSession returns a session by id, or nil when it does not exist.
func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, status, created_at, updated_at FROM sessions WHERE id = ?
	`, id)

	var sess Session
	if err := row.Scan(&sess.ID, &sess.Status, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

// Archive marks a session archived. Archiving an already-archived or
// unknown session is a no-op.
func (s *Store) Archive(id string) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET status = 'archived', updated_at = ? WHERE id = ?
	`, time.Now(), id)
	return err
}

// Append adds a message to a session's history. The session is created
// on first use; appending to an archived session fails.
func (s *Store) Append(sessionID string, msg llm.Message) error {
	sess, err := s.GetOrCreateSession(sessionID)
	if err != nil {
		return err
	}
	if sess.Status == StatusArchived {
		return ErrSessionArchived
	}

	now := time.Now()
	msgID, _ := uuid.NewV7()

	var toolCalls, toolCallID any
	if raw := marshalToolCalls(msg.ToolCalls); raw != "" {
		toolCalls = raw
	}
	if msg.ToolCallID != "" {
		toolCallID = msg.ToolCallID
	}

	_, err = s.db.Exec(`
		INSERT INTO messages (id, session_id, role, content, tool_calls, tool_call_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msgID.String(), sessionID, msg.Role, msg.Content, toolCalls, toolCallID, now)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = s.db.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID)
	return err
}

// History returns the most recent window messages in chronological
// order. window <= 0 returns the full history.
func (s *Store) History(sessionID string, window int) []llm.Message {
	query := `
		SELECT role, content, tool_calls, tool_call_id
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC
	`
	args := []any{sessionID}
	if window > 0 {
		query += ` LIMIT ?`
		args = append(args, window)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var messages []llm.Message
	for rows.Next() {
		var m llm.Message
		var toolCalls, toolCallID sql.NullString
		if err := rows.Scan(&m.Role, &m.Content, &toolCalls, &toolCallID); err != nil {
			continue
		}
		if toolCalls.Valid {
			m.ToolCalls = unmarshalToolCalls(toolCalls.String)
		}
		if toolCallID.Valid {
			m.ToolCallID = toolCallID.String
		}
		messages = append(messages, m)
	}

	// Scanned newest-first; callers want chronological.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages
}

// RecordToolCall records the start of a tool invocation. The audit row
// survives even when the tool fails.
func (s *Store) RecordToolCall(sessionID, toolCallID, toolName, arguments string) error {
	if toolCallID == "" {
		id, _ := uuid.NewV7()
		toolCallID = id.String()
	}
	_, err := s.db.Exec(`
		INSERT INTO tool_calls (id, session_id, tool_name, arguments, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, toolCallID, sessionID, toolName, arguments, time.Now())
	return err
}

// CompleteToolCall records the outcome of a tool invocation.
func (s *Store) CompleteToolCall(toolCallID, result, errMsg string) error {
	now := time.Now()

	var startedAt time.Time
	err := s.db.QueryRow(`SELECT started_at FROM tool_calls WHERE id = ?`, toolCallID).Scan(&startedAt)
	if err != nil {
		return fmt.Errorf("tool call not found: %s", toolCallID)
	}

	_, err = s.db.Exec(`
		UPDATE tool_calls
		SET result = ?, error = ?, completed_at = ?, duration_ms = ?
		WHERE id = ?
	`, result, errMsg, now, now.Sub(startedAt).Milliseconds(), toolCallID)
	return err
}

// ToolCalls returns recent tool invocations for a session, newest
// first. An empty sessionID returns calls across all sessions.
func (s *Store) ToolCalls(sessionID string, limit int) []ToolCallRecord {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, session_id, tool_name, arguments, result, error,
		       started_at, completed_at, duration_ms
		FROM tool_calls
	`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var calls []ToolCallRecord
	for rows.Next() {
		var tc ToolCallRecord
		var result, errMsg sql.NullString
		var completedAt sql.NullTime
		var durationMs sql.NullInt64

		err := rows.Scan(&tc.ID, &tc.SessionID, &tc.ToolName, &tc.Arguments,
			&result, &errMsg, &tc.StartedAt, &completedAt, &durationMs)
		if err != nil {
			continue
		}
		if result.Valid {
			tc.Result = result.String
		}
		if errMsg.Valid {
			tc.Error = errMsg.String
		}
		if completedAt.Valid {
			tc.CompletedAt = &completedAt.Time
		}
		if durationMs.Valid {
			tc.DurationMs = durationMs.Int64
		}
		calls = append(calls, tc)
	}
	return calls
}

// Stats returns storage counters for diagnostics.
func (s *Store) Stats() map[string]any {
	var sessions, archived, messages, toolCalls int

	_ = s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&sessions)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE status = 'archived'`).Scan(&archived)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&messages)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM tool_calls`).Scan(&toolCalls)

	return map[string]any{
		"sessions":   sessions,
		"archived":   archived,
		"messages":   messages,
		"tool_calls": toolCalls,
		"storage":    "sqlite",
	}
}
