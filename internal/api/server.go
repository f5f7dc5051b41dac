// Package api implements the HTTP API: chat turns, session lifecycle,
// finalization, event lookups, and the operational WebSocket feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/fetekit/fete-agent/internal/agent"
	"github.com/fetekit/fete-agent/internal/buildinfo"
	"github.com/fetekit/fete-agent/internal/draft"
	"github.com/fetekit/fete-agent/internal/events"
	"github.com/fetekit/fete-agent/internal/finalize"
	"github.com/fetekit/fete-agent/internal/llm"
	"github.com/fetekit/fete-agent/internal/memory"
	"github.com/fetekit/fete-agent/internal/notify"
	"github.com/fetekit/fete-agent/internal/store"
	"github.com/fetekit/fete-agent/internal/tools"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address   string
	port      int
	agent     *agent.Agent
	finalizer *finalize.Finalizer
	sessions  *memory.Store
	drafts    *draft.Store
	events    *store.Store
	registry  *tools.Registry
	llm       llm.Client
	bus       *events.Bus
	logger    *slog.Logger
	server    *http.Server

	// publicBase is the externally reachable base URL encoded into QR
	// codes. Empty means derive from the request Host header.
	publicBase string
}

// NewServer creates an API server. Everything but bus is required.
func NewServer(address string, port int, ag *agent.Agent, fin *finalize.Finalizer, sessions *memory.Store, drafts *draft.Store, st *store.Store, registry *tools.Registry, client llm.Client, bus *events.Bus, logger *slog.Logger) *Server {
	return &Server{
		address:   address,
		port:      port,
		agent:     ag,
		finalizer: fin,
		sessions:  sessions,
		drafts:    drafts,
		events:    st,
		registry:  registry,
		llm:       client,
		bus:       bus,
		logger:    logger,
	}
}

// SetPublicBase sets the base URL used in QR code payloads, e.g.
// "https://fete.example.org".
func (s *Server) SetPublicBase(base string) {
	s.publicBase = base
}

// Start begins serving HTTP requests. It blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.withLogging(s.routes()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second, // turns can wait on slow local models
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Chat and session lifecycle
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/sessions/{id}/draft", s.handleDraftGet)
	mux.HandleFunc("POST /v1/sessions/{id}/archive", s.handleArchive)
	mux.HandleFunc("POST /v1/sessions/{id}/finalize", s.handleFinalize)

	// Event catalogue
	mux.HandleFunc("GET /v1/events", s.handleEventList)
	mux.HandleFunc("GET /v1/events/{id}", s.handleEventGet)
	mux.HandleFunc("GET /v1/events/{id}/preview", s.handleEventPreview)
	mux.HandleFunc("GET /v1/events/{id}/qr", s.handleEventQR)
	mux.HandleFunc("GET /v1/events/{id}/rsvps", s.handleEventRSVPs)
	mux.HandleFunc("GET /v1/events/{id}/guestlist.vcf", s.handleEventGuestList)

	// Introspection
	mux.HandleFunc("GET /v1/tools", s.handleToolList)
	mux.HandleFunc("GET /v1/tools/calls", s.handleToolCalls)
	mux.HandleFunc("GET /v1/ops/ws", s.handleOpsWS)

	// Health
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return mux
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

// --- Chat ---

// ChatRequest is one conversational turn.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	// Model overrides the configured default for this turn only.
	Model string `json:"model,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.agent.ProcessTurn(r.Context(), agent.Request{
		SessionID: req.SessionID,
		Message:   req.Message,
		Model:     req.Model,
	})
	if err != nil {
		switch {
		case errors.Is(err, agent.ErrEmptyInput):
			s.errorResponse(w, http.StatusBadRequest, "message is required")
		case errors.Is(err, memory.ErrSessionArchived):
			s.errorResponse(w, http.StatusConflict, "session is archived")
		default:
			s.logger.Error("turn failed", "error", err)
			s.errorResponse(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// --- Sessions ---

func (s *Server) handleDraftGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	d := s.drafts.Get(id)
	if d == nil {
		s.errorResponse(w, http.StatusNotFound, "no draft for session")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"session_id":       id,
		"draft":            d.Fields,
		"missing_required": d.MissingRequired(),
		"createable":       d.Createable(),
		"suggestions":      d.Suggestions(),
	}, s.logger)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.sessions.Archive(id); err != nil {
		s.logger.Error("archive failed", "session_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "archive failed")
		return
	}
	s.drafts.Clear(id)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"status": "archived", "session_id": id}, s.logger)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	ev, err := s.finalizer.Finalize(r.Context(), id)
	if err != nil {
		var verr *finalize.ValidationError
		switch {
		case errors.Is(err, finalize.ErrNothingToFinalize):
			s.errorResponse(w, http.StatusNotFound, "no draft for session")
		case errors.As(err, &verr):
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			writeJSON(w, map[string]any{
				"error":          "draft is not ready",
				"missing_fields": verr.MissingFields,
				"problems":       verr.Problems,
			}, s.logger)
		default:
			s.logger.Error("finalize failed", "session_id", id, "error", err)
			s.errorResponse(w, http.StatusInternalServerError, "finalize failed")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, ev, s.logger)
}

// --- Events ---

func (s *Server) handleEventList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.events.Query(store.Filter{
		Category: q.Get("category"),
		Location: q.Get("location"),
		DateFrom: q.Get("from"),
		DateTo:   q.Get("to"),
		Limit:    parseIntParam(r, "limit", 50),
	})
	if err != nil {
		s.logger.Error("event query failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "query failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"events": list,
		"count":  len(list),
	}, s.logger)
}

func (s *Server) lookupEvent(w http.ResponseWriter, id string) *store.Event {
	ev, err := s.events.GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "event not found")
		} else {
			s.logger.Error("event lookup failed", "event_id", id, "error", err)
			s.errorResponse(w, http.StatusInternalServerError, "lookup failed")
		}
		return nil
	}
	return ev
}

func (s *Server) handleEventGet(w http.ResponseWriter, r *http.Request) {
	ev := s.lookupEvent(w, r.PathValue("id"))
	if ev == nil {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ev, s.logger)
}

// handleEventPreview renders the invitation as HTML, the same body the
// confirmation email carries.
func (s *Server) handleEventPreview(w http.ResponseWriter, r *http.Request) {
	ev := s.lookupEvent(w, r.PathValue("id"))
	if ev == nil {
		return
	}

	page, err := notify.MarkdownToHTML(notify.EventMarkdown(ev))
	if err != nil {
		s.logger.Error("preview render failed", "event_id", ev.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "render failed")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, page)
}

// handleEventQR returns a PNG QR code pointing at the event preview,
// for posters and printed invitations.
func (s *Server) handleEventQR(w http.ResponseWriter, r *http.Request) {
	ev := s.lookupEvent(w, r.PathValue("id"))
	if ev == nil {
		return
	}

	base := s.publicBase
	if base == "" {
		base = "http://" + r.Host
	}
	target := fmt.Sprintf("%s/v1/events/%s/preview", base, ev.ID)

	size := parseIntParam(r, "size", 256)
	if size < 64 || size > 1024 {
		size = 256
	}

	png, err := qrcode.Encode(target, qrcode.Medium, size)
	if err != nil {
		s.logger.Error("qr encode failed", "event_id", ev.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "qr encode failed")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Write(png)
}

func (s *Server) handleEventRSVPs(w http.ResponseWriter, r *http.Request) {
	ev := s.lookupEvent(w, r.PathValue("id"))
	if ev == nil {
		return
	}

	rsvps, err := s.events.RSVPs(ev.ID)
	if err != nil {
		s.logger.Error("rsvp list failed", "event_id", ev.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "rsvp list failed")
		return
	}
	accepted, err := s.events.AttendeeCount(ev.ID)
	if err != nil {
		s.logger.Error("attendee count failed", "event_id", ev.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "rsvp list failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"event_id": ev.ID,
		"rsvps":    rsvps,
		"count":    len(rsvps),
		"accepted": accepted,
	}, s.logger)
}

// handleEventGuestList exports accepted attendees as a vCard file.
func (s *Server) handleEventGuestList(w http.ResponseWriter, r *http.Request) {
	ev := s.lookupEvent(w, r.PathValue("id"))
	if ev == nil {
		return
	}

	rsvps, err := s.events.RSVPs(ev.ID)
	if err != nil {
		s.logger.Error("rsvp list failed", "event_id", ev.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "rsvp list failed")
		return
	}

	vcf, err := notify.GuestListVCF(ev, rsvps)
	if err != nil {
		s.logger.Error("guest list export failed", "event_id", ev.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", "text/vcard; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "guestlist-"+ev.ID+".vcf"))
	w.Write(vcf)
}

// --- Introspection ---

func (s *Server) handleToolList(w http.ResponseWriter, r *http.Request) {
	defs := s.registry.List()

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"tools": defs,
		"count": len(defs),
	}, s.logger)
}

func (s *Server) handleToolCalls(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	limit := parseIntParam(r, "limit", 50)

	calls := s.sessions.ToolCalls(sessionID, limit)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"tool_calls": calls,
		"count":      len(calls),
	}, s.logger)
}

// --- Health ---

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Fete",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	llmStatus := "ok"
	if err := s.llm.Ping(ctx); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		llmStatus = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"status":   status,
		"llm":      llmStatus,
		"sessions": s.sessions.Stats(),
		"drafts":   s.drafts.Count(),
		"strategy": string(s.agent.Strategy()),
		"build":    buildinfo.Info(),
	}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
