// Package agent turns chat messages into event drafts. Each turn runs
// one of two interchangeable strategies: a single model call with
// native tool support, or a bounded text-protocol reasoning loop for
// models without it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fetekit/fete-agent/internal/draft"
	"github.com/fetekit/fete-agent/internal/events"
	"github.com/fetekit/fete-agent/internal/llm"
	"github.com/fetekit/fete-agent/internal/memory"
	"github.com/fetekit/fete-agent/internal/tools"
	"github.com/google/uuid"
)

// Strategy selects how a turn is executed. It is fixed at construction;
// there is no runtime switch.
type Strategy string

const (
	// StrategySingleShot makes one model call with native tool calls,
	// executes them, and synthesizes a reply.
	StrategySingleShot Strategy = "single_shot"
	// StrategyReasoningLoop runs a bounded think/act/observe loop over
	// a text protocol, for models without native tool support.
	StrategyReasoningLoop Strategy = "reasoning_loop"
)

// ParseStrategy validates a strategy name from configuration.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategySingleShot, StrategyReasoningLoop:
		return Strategy(s), nil
	case "":
		return StrategySingleShot, nil
	}
	return "", fmt.Errorf("unknown strategy %q (want single_shot or reasoning_loop)", s)
}

// ErrEmptyInput is returned for blank messages, before any model call.
var ErrEmptyInput = errors.New("message is empty")

// Response types.
const (
	TypeText       = "text"
	TypeToolResult = "tool_result"
	TypeError      = "error"
)

// Exhaustion reasons for the reasoning loop.
const (
	ExhaustMaxIterations = "max_iterations"
)

// Request is one user turn.
type Request struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	// Model overrides the configured default for this turn only.
	Model string `json:"model,omitempty"`
}

// ToolResult is one executed tool call, in execution order.
type ToolResult struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    string         `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Response is the outcome of a turn.
type Response struct {
	SessionID     string         `json:"session_id"`
	Type          string         `json:"type"` // text | tool_result | error
	Reply         string         `json:"reply"`
	Draft         map[string]any `json:"draft,omitempty"`
	Createable    bool           `json:"createable"`
	ToolResults   []ToolResult   `json:"tool_results,omitempty"`
	Model         string         `json:"model,omitempty"`
	Provider      string         `json:"provider,omitempty"`
	Iterations    int            `json:"iterations,omitempty"`
	Exhausted     bool           `json:"exhausted,omitempty"`
	ExhaustReason string         `json:"exhaust_reason,omitempty"`
}

// Options configure an Agent.
type Options struct {
	Strategy       Strategy
	DefaultModel   string
	SynthesisModel string // model for the follow-up reply call; defaults to DefaultModel
	HistoryWindow  int
	MaxIterations  int
	TurnTimeout    time.Duration
}

// Agent owns the turn loop.
type Agent struct {
	logger   *slog.Logger
	llm      llm.Client
	registry *tools.Registry
	sessions *memory.Store
	drafts   *draft.Store
	bus      *events.Bus
	opts     Options
}

// New creates an agent. The bus may be nil.
func New(logger *slog.Logger, client llm.Client, registry *tools.Registry, sessions *memory.Store, drafts *draft.Store, bus *events.Bus, opts Options) (*Agent, error) {
	if opts.Strategy == "" {
		opts.Strategy = StrategySingleShot
	}
	if _, err := ParseStrategy(string(opts.Strategy)); err != nil {
		return nil, err
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}
	if opts.SynthesisModel == "" {
		opts.SynthesisModel = opts.DefaultModel
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 8
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 3
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = 120 * time.Second
	}
	return &Agent{
		logger:   logger,
		llm:      client,
		registry: registry,
		sessions: sessions,
		drafts:   drafts,
		bus:      bus,
		opts:     opts,
	}, nil
}

// Strategy reports the strategy the agent was built with.
func (a *Agent) Strategy() Strategy {
	return a.opts.Strategy
}

// ProcessTurn runs one user turn end to end: history assembly, the
// strategy, tool execution, and persistence of both sides of the
// exchange.
func (a *Agent) ProcessTurn(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyInput
	}
	if req.SessionID == "" {
		req.SessionID = "default"
	}

	sess, err := a.sessions.GetSession(req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess != nil && sess.Status == memory.StatusArchived {
		return nil, memory.ErrSessionArchived
	}

	requestID, _ := uuid.NewV7()
	rid := requestID.String()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, a.opts.TurnTimeout)
	defer cancel()
	ctx = tools.WithSessionID(ctx, req.SessionID)

	model := req.Model
	if model == "" {
		model = a.opts.DefaultModel
	}

	a.logger.Info("turn started",
		"request_id", rid,
		"session_id", req.SessionID,
		"strategy", a.opts.Strategy,
		"model", model,
	)
	a.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindTurnStart,
		Data: map[string]any{
			"request_id": rid,
			"session_id": req.SessionID,
			"strategy":   string(a.opts.Strategy),
		},
	})

	if err := a.sessions.Append(req.SessionID, llm.Message{Role: "user", Content: req.Message}); err != nil {
		return nil, fmt.Errorf("record user message: %w", err)
	}

	var resp *Response
	switch a.opts.Strategy {
	case StrategyReasoningLoop:
		resp, err = a.runReasoningLoop(ctx, rid, req, model)
	default:
		resp, err = a.runSingleShot(ctx, rid, req, model)
	}
	if err != nil {
		fail := a.gatewayFailure(req, err)
		if fail == nil {
			a.logger.Error("turn failed",
				"request_id", rid,
				"session_id", req.SessionID,
				"error", err,
			)
			return nil, err
		}
		a.logger.Warn("turn degraded to error reply",
			"request_id", rid,
			"session_id", req.SessionID,
			"error", err,
		)
		resp = fail
	}

	if resp.Reply != "" {
		if err := a.sessions.Append(req.SessionID, llm.Message{Role: "assistant", Content: resp.Reply}); err != nil {
			a.logger.Warn("record assistant message failed",
				"request_id", rid,
				"error", err,
			)
		}
	}

	a.attachDraft(resp, req.SessionID)

	elapsed := time.Since(start)
	a.logger.Info("turn complete",
		"request_id", rid,
		"session_id", req.SessionID,
		"type", resp.Type,
		"tool_results", len(resp.ToolResults),
		"elapsed", elapsed.Round(time.Millisecond),
	)
	a.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindTurnComplete,
		Data: map[string]any{
			"request_id":    rid,
			"session_id":    req.SessionID,
			"response_type": resp.Type,
			"elapsed_ms":    elapsed.Milliseconds(),
		},
	})

	return resp, nil
}

// gatewayFailure converts a model outage or turn timeout into an
// error-typed response so it reaches the user as a reply instead of
// escaping the turn. Anything else (session store, audit) stays an
// error and returns nil here.
func (a *Agent) gatewayFailure(req Request, err error) *Response {
	ge, isGateway := llm.IsGatewayError(err)
	timedOut := errors.Is(err, context.DeadlineExceeded) || (isGateway && ge.Timeout)
	if !isGateway && !timedOut {
		return nil
	}

	reply := "I couldn't reach the language model just now. Your draft is safe; please try again in a moment."
	if timedOut {
		reply = "The language model took too long to answer. Your draft is safe; please try again."
	}
	resp := &Response{
		SessionID: req.SessionID,
		Type:      TypeError,
		Reply:     reply,
	}
	if isGateway {
		resp.Provider = ge.Provider
	}
	return resp
}

// attachDraft stamps the current draft snapshot onto a response.
func (a *Agent) attachDraft(resp *Response, sessionID string) {
	if d := a.drafts.Get(sessionID); d != nil {
		resp.Draft = d.Fields
		resp.Createable = d.Createable()
	}
}

// history returns the system prompt plus the bounded recent window of
// the session's messages.
func (a *Agent) history(sessionID string) []llm.Message {
	msgs := []llm.Message{{Role: "system", Content: a.systemPrompt(sessionID)}}
	return append(msgs, a.sessions.History(sessionID, a.opts.HistoryWindow)...)
}

// chat wraps the gateway call with bus events and trace logging.
func (a *Agent) chat(ctx context.Context, rid string, iter int, model string, msgs []llm.Message, defs []llm.ToolDef) (*llm.ChatResponse, error) {
	a.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindLLMCall,
		Data:   map[string]any{"request_id": rid, "iter": iter, "model": model},
	})

	resp, err := a.llm.Chat(ctx, model, msgs, defs)
	if err != nil {
		return nil, err
	}

	a.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindLLMResponse,
		Data: map[string]any{
			"request_id": rid,
			"iter":       iter,
			"model":      model,
			"tokens_in":  resp.InputTokens,
			"tokens_out": resp.OutputTokens,
			"tool_calls": len(resp.Message.ToolCalls),
		},
	})
	return resp, nil
}

// executeTool runs one tool call with audit recording and bus events.
// Failures come back as a structured result, never as an error: the
// model gets to see what went wrong and recover.
func (a *Agent) executeTool(ctx context.Context, rid, sessionID string, tc llm.ToolCall) ToolResult {
	start := time.Now()
	a.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindToolCall,
		Data:   map[string]any{"request_id": rid, "tool": tc.Name},
	})

	if tc.ID == "" {
		id, _ := uuid.NewV7()
		tc.ID = id.String()
	}
	argsJSON := llm.MarshalArguments(tc.Arguments)
	if err := a.sessions.RecordToolCall(sessionID, tc.ID, tc.Name, argsJSON); err != nil {
		a.logger.Warn("tool call audit failed", "request_id", rid, "tool", tc.Name, "error", err)
	}

	out := ToolResult{Name: tc.Name, Arguments: tc.Arguments}
	result, err := a.registry.Execute(ctx, tc.Name, tc.Arguments)
	if err != nil {
		out.Error = err.Error()
		out.Result = fmt.Sprintf(`{"error":%q}`, err.Error())
		a.logger.Error("tool exec failed",
			"request_id", rid,
			"tool", tc.Name,
			"error", err,
		)
	} else {
		out.Result = result
		a.logger.Debug("tool exec done",
			"request_id", rid,
			"tool", tc.Name,
			"result_len", len(result),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	}

	if err := a.sessions.CompleteToolCall(tc.ID, out.Result, out.Error); err != nil {
		a.logger.Warn("tool call audit completion failed", "request_id", rid, "tool", tc.Name, "error", err)
	}

	a.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindToolDone,
		Data: map[string]any{
			"request_id":  rid,
			"tool":        tc.Name,
			"ok":          out.Error == "",
			"duration_ms": time.Since(start).Milliseconds(),
		},
	})
	return out
}

// draftReply is the deterministic reply used when the model cannot
// produce one: after fallback extraction, or when synthesis fails.
func (a *Agent) draftReply(sessionID string) string {
	d := a.drafts.Get(sessionID)
	if d == nil || len(d.Fields) == 0 {
		return "I can help you plan an event. Tell me what kind of event you have in mind."
	}

	title := d.Title()
	if title == "" {
		title = "your event"
	} else {
		title = fmt.Sprintf("%q", title)
	}

	if missing := d.MissingRequired(); len(missing) > 0 {
		return fmt.Sprintf("I've updated the draft for %s. Still needed: %s.",
			title, strings.Join(missing, ", "))
	}
	if suggestions := d.Suggestions(); len(suggestions) > 0 {
		return fmt.Sprintf("The draft for %s has everything required. You might also add: %s. Say the word when you want me to finalize it.",
			title, strings.Join(suggestions, ", "))
	}
	return fmt.Sprintf("The draft for %s has everything required. Say the word when you want me to finalize it.", title)
}
