package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/fetekit/fete-agent/internal/agent"
	"github.com/fetekit/fete-agent/internal/draft"
	"github.com/fetekit/fete-agent/internal/finalize"
	"github.com/fetekit/fete-agent/internal/llm"
	"github.com/fetekit/fete-agent/internal/memory"
	"github.com/fetekit/fete-agent/internal/store"
	"github.com/fetekit/fete-agent/internal/tools"
)

// stubClient returns a fixed reply for every chat call.
type stubClient struct {
	reply   string
	pingErr error
}

func (c *stubClient) Chat(_ context.Context, model string, _ []llm.Message, _ []llm.ToolDef) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{
		Message:  llm.Message{Role: "assistant", Content: c.reply},
		Model:    model,
		Provider: "stub",
	}, nil
}

func (c *stubClient) Ping(_ context.Context) error {
	return c.pingErr
}

type testEnv struct {
	srv    *httptest.Server
	drafts *draft.Store
	events *store.Store
}

func newTestEnv(t *testing.T, client llm.Client) *testEnv {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sessions, err := memory.New(db)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	eventStore, err := store.New(db)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	drafts := draft.NewStore()
	registry := tools.NewRegistry(drafts, eventStore)

	ag, err := agent.New(logger, client, registry, sessions, drafts, nil, agent.Options{
		DefaultModel: "test-model",
	})
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}

	fin, err := finalize.New(logger, drafts, eventStore, nil, finalize.PolicyStrict)
	if err != nil {
		t.Fatalf("finalize.New: %v", err)
	}

	s := NewServer("127.0.0.1", 0, ag, fin, sessions, drafts, eventStore, registry, client, nil, logger)
	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, drafts: drafts, events: eventStore}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestChatEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubClient{reply: "Happy to help plan that!"})

	resp := postJSON(t, env.srv.URL+"/v1/chat", ChatRequest{
		SessionID: "s1",
		Message:   "hello",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["reply"] != "Happy to help plan that!" {
		t.Errorf("reply = %v", body["reply"])
	}
	if body["session_id"] != "s1" {
		t.Errorf("session_id = %v", body["session_id"])
	}
}

// downClient fails every chat call the way an unreachable backend does.
type downClient struct{}

func (downClient) Chat(_ context.Context, _ string, _ []llm.Message, _ []llm.ToolDef) (*llm.ChatResponse, error) {
	return nil, &llm.GatewayError{Provider: "ollama", Op: "chat", Err: errors.New("connection refused")}
}

func (downClient) Ping(_ context.Context) error {
	return errors.New("connection refused")
}

func TestChatGatewayDown(t *testing.T) {
	env := newTestEnv(t, downClient{})

	resp := postJSON(t, env.srv.URL+"/v1/chat", ChatRequest{SessionID: "s1", Message: "hello"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 with an error-typed body", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["type"] != "error" {
		t.Errorf("type = %v, want error", body["type"])
	}
	reply, _ := body["reply"].(string)
	if reply == "" {
		t.Error("error response needs a reply")
	}
	if strings.Contains(reply, "connection refused") {
		t.Errorf("reply leaks the underlying error: %q", reply)
	}
}

func TestChatEmptyMessage(t *testing.T) {
	env := newTestEnv(t, &stubClient{reply: "x"})

	resp := postJSON(t, env.srv.URL+"/v1/chat", ChatRequest{Message: "   "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestChatArchivedSession(t *testing.T) {
	env := newTestEnv(t, &stubClient{reply: "x"})

	resp := postJSON(t, env.srv.URL+"/v1/chat", ChatRequest{SessionID: "gone", Message: "hi"})
	resp.Body.Close()
	resp = postJSON(t, env.srv.URL+"/v1/sessions/gone/archive", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("archive status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, env.srv.URL+"/v1/chat", ChatRequest{SessionID: "gone", Message: "hi again"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestFinalizeFlow(t *testing.T) {
	env := newTestEnv(t, &stubClient{reply: "x"})

	// No draft yet.
	resp := postJSON(t, env.srv.URL+"/v1/sessions/s1/finalize", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("empty finalize status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	// Incomplete draft.
	env.drafts.Merge("s1", map[string]any{draft.FieldTitle: "Summer Picnic"})
	resp = postJSON(t, env.srv.URL+"/v1/sessions/s1/finalize", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("incomplete finalize status = %d, want 422", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["missing_fields"] == nil {
		t.Error("expected missing_fields in rejection body")
	}

	// Complete draft.
	env.drafts.Merge("s1", map[string]any{draft.FieldDate: "2026-09-12"})
	resp = postJSON(t, env.srv.URL+"/v1/sessions/s1/finalize", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("finalize status = %d, want 201", resp.StatusCode)
	}
	body = decodeBody(t, resp)
	if body["title"] != "Summer Picnic" {
		t.Errorf("event title = %v", body["title"])
	}
	if body["id"] == "" || body["id"] == nil {
		t.Error("event id missing")
	}
}

func TestDraftEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubClient{reply: "x"})

	resp, err := http.Get(env.srv.URL + "/v1/sessions/nope/draft")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	env.drafts.Merge("s1", map[string]any{draft.FieldTitle: "Gala Night"})
	resp, err = http.Get(env.srv.URL + "/v1/sessions/s1/draft")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body := decodeBody(t, resp)
	if body["createable"] != false {
		t.Errorf("createable = %v, want false", body["createable"])
	}
}

func TestEventEndpoints(t *testing.T) {
	env := newTestEnv(t, &stubClient{reply: "x"})

	ev, err := env.events.Create(store.Event{
		Title:    "Science Workshop",
		Location: "Library",
		Date:     "2026-10-01",
		Category: "workshop",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := env.events.RecordRSVP(ev.ID, "dana@example.com", "Dana", "accepted", "email"); err != nil {
		t.Fatalf("RecordRSVP: %v", err)
	}

	resp, err := http.Get(env.srv.URL + "/v1/events?category=workshop")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body := decodeBody(t, resp)
	if body["count"] != float64(1) {
		t.Errorf("list count = %v", body["count"])
	}

	resp, err = http.Get(env.srv.URL + "/v1/events/" + ev.ID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body = decodeBody(t, resp)
	if body["title"] != "Science Workshop" {
		t.Errorf("title = %v", body["title"])
	}

	resp, err = http.Get(env.srv.URL + "/v1/events/no-such-id")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown event status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(env.srv.URL + "/v1/events/" + ev.ID + "/rsvps")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body = decodeBody(t, resp)
	if body["accepted"] != float64(1) {
		t.Errorf("accepted = %v", body["accepted"])
	}
}

func TestEventPreviewAndQR(t *testing.T) {
	env := newTestEnv(t, &stubClient{reply: "x"})

	ev, err := env.events.Create(store.Event{Title: "Gala Night", Date: "2026-11-20"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	resp, err := http.Get(env.srv.URL + "/v1/events/" + ev.ID + "/preview")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("preview content-type = %q", ct)
	}
	page, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(page), "Gala Night") {
		t.Error("preview does not contain event title")
	}

	resp, err = http.Get(env.srv.URL + "/v1/events/" + ev.ID + "/qr")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("qr content-type = %q", ct)
	}
	png, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("qr response is not a PNG")
	}
}

func TestGuestListExport(t *testing.T) {
	env := newTestEnv(t, &stubClient{reply: "x"})

	ev, err := env.events.Create(store.Event{Title: "Picnic", Date: "2026-09-12"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := env.events.RecordRSVP(ev.ID, "dana@example.com", "Dana Reyes", "accepted", "email"); err != nil {
		t.Fatalf("RecordRSVP: %v", err)
	}

	resp, err := http.Get(env.srv.URL + "/v1/events/" + ev.ID + "/guestlist.vcf")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	vcf, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(vcf), "dana@example.com") {
		t.Error("guest list vcf missing accepted attendee")
	}
}

func TestToolList(t *testing.T) {
	env := newTestEnv(t, &stubClient{reply: "x"})

	resp, err := http.Get(env.srv.URL + "/v1/tools")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body := decodeBody(t, resp)
	if body["count"].(float64) < 5 {
		t.Errorf("tool count = %v", body["count"])
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, &stubClient{reply: "x"})

	resp, err := http.Get(env.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "healthy" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestHealthzDegraded(t *testing.T) {
	env := newTestEnv(t, &stubClient{reply: "x", pingErr: errors.New("backend down")})

	resp, err := http.Get(env.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "degraded" {
		t.Errorf("status = %v", body["status"])
	}
}
