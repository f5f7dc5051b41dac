package memory

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/fetekit/fete-agent/internal/llm"
	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestAppendAndHistory(t *testing.T) {
	s := newTestStore(t)

	msgs := []llm.Message{
		{Role: "user", Content: "plan a birthday party"},
		{Role: "assistant", Content: "", ToolCalls: []llm.ToolCall{
			{ID: "call-1", Name: "create_event_draft", Arguments: map[string]any{"title": "Birthday Party"}},
		}},
		{Role: "tool", Content: `{"status":"ok"}`, ToolCallID: "call-1"},
		{Role: "assistant", Content: "Got it started."},
	}
	for _, m := range msgs {
		if err := s.Append("sess-1", m); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got := s.History("sess-1", 0)
	if len(got) != 4 {
		t.Fatalf("got %d messages, want 4", len(got))
	}
	if got[0].Content != "plan a birthday party" {
		t.Errorf("history out of order: first = %q", got[0].Content)
	}
	if len(got[1].ToolCalls) != 1 || got[1].ToolCalls[0].Name != "create_event_draft" {
		t.Errorf("tool calls not round-tripped: %+v", got[1].ToolCalls)
	}
	if got[2].ToolCallID != "call-1" {
		t.Errorf("tool_call_id = %q, want call-1", got[2].ToolCallID)
	}
}

func TestHistoryWindow(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 10; i++ {
		content := string(rune('a' + i))
		if err := s.Append("sess-1", llm.Message{Role: "user", Content: content}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got := s.History("sess-1", 3)
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	// Most recent three, oldest of them first.
	if got[0].Content != "h" || got[2].Content != "j" {
		t.Errorf("window wrong: %q .. %q", got[0].Content, got[2].Content)
	}
}

func TestArchiveRejectsAppend(t *testing.T) {
	s := newTestStore(t)

	if err := s.Append("sess-1", llm.Message{Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Archive("sess-1"); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	err := s.Append("sess-1", llm.Message{Role: "user", Content: "more"})
	if !errors.Is(err, ErrSessionArchived) {
		t.Fatalf("Append after archive = %v, want ErrSessionArchived", err)
	}

	// History survives archiving.
	if got := s.History("sess-1", 0); len(got) != 1 {
		t.Errorf("history after archive = %d messages, want 1", len(got))
	}

	sess, err := s.GetSession("sess-1")
	if err != nil || sess == nil {
		t.Fatalf("GetSession: %v, %v", sess, err)
	}
	if sess.Status != StatusArchived {
		t.Errorf("status = %q, want archived", sess.Status)
	}
}

func TestGetSessionMissing(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.GetSession("nope")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess != nil {
		t.Errorf("got %+v, want nil", sess)
	}
}

func TestToolCallAudit(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetOrCreateSession("sess-1"); err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	if err := s.RecordToolCall("sess-1", "call-1", "create_event_draft", `{"title":"Picnic"}`); err != nil {
		t.Fatalf("RecordToolCall: %v", err)
	}
	if err := s.CompleteToolCall("call-1", `{"status":"ok"}`, ""); err != nil {
		t.Fatalf("CompleteToolCall: %v", err)
	}

	calls := s.ToolCalls("sess-1", 10)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	tc := calls[0]
	if tc.ToolName != "create_event_draft" || tc.Result != `{"status":"ok"}` {
		t.Errorf("unexpected record: %+v", tc)
	}
	if tc.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestCompleteUnknownToolCall(t *testing.T) {
	s := newTestStore(t)

	if err := s.CompleteToolCall("missing", "", "boom"); err == nil {
		t.Fatal("expected error for unknown tool call id")
	}
}
