package agent

import (
	"context"
	"fmt"

	"github.com/fetekit/fete-agent/internal/extract"
	"github.com/fetekit/fete-agent/internal/llm"
)

// runSingleShot executes a turn as one model call with native tool
// support. Tool calls are executed in the order the model emitted
// them, then a second call (without tools) synthesizes the reply.
func (a *Agent) runSingleShot(ctx context.Context, rid string, req Request, model string) (*Response, error) {
	messages := a.history(req.SessionID)

	resp, err := a.chat(ctx, rid, 0, model, messages, a.registry.List())
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}

	// Nothing usable from the model. Salvage what we can from the
	// user's own words instead of failing the turn.
	if resp.Empty() {
		return a.fallbackExtraction(rid, req, resp)
	}

	// Plain text reply, no tools needed this turn.
	if len(resp.Message.ToolCalls) == 0 {
		return &Response{
			SessionID: req.SessionID,
			Type:      TypeText,
			Reply:     resp.Message.Content,
			Model:     resp.Model,
			Provider:  resp.Provider,
		}, nil
	}

	messages = append(messages, resp.Message)
	var results []ToolResult
	for _, tc := range resp.Message.ToolCalls {
		tr := a.executeTool(ctx, rid, req.SessionID, tc)
		results = append(results, tr)
		messages = append(messages, llm.Message{
			Role:       "tool",
			Content:    tr.Result,
			ToolCallID: tc.ID,
		})
	}

	reply := a.synthesize(ctx, rid, req.SessionID, messages)

	return &Response{
		SessionID:   req.SessionID,
		Type:        TypeToolResult,
		Reply:       reply,
		ToolResults: results,
		Model:       resp.Model,
		Provider:    resp.Provider,
	}, nil
}

// synthesize makes a follow-up call without tools to turn tool results
// into a user-facing reply. Any failure falls back to a deterministic
// reply built from the draft, so the turn always produces something.
func (a *Agent) synthesize(ctx context.Context, rid, sessionID string, messages []llm.Message) string {
	resp, err := a.chat(ctx, rid, 1, a.opts.SynthesisModel, messages, nil)
	if err != nil {
		a.logger.Warn("synthesis call failed, using templated reply",
			"request_id", rid,
			"error", err,
		)
		return a.draftReply(sessionID)
	}
	if resp.Message.Content == "" {
		a.logger.Warn("synthesis returned empty content, using templated reply",
			"request_id", rid,
		)
		return a.draftReply(sessionID)
	}
	return resp.Message.Content
}

// fallbackExtraction handles an empty model response by running the
// heuristic extractor over the user's message and merging whatever it
// finds into the draft.
func (a *Agent) fallbackExtraction(rid string, req Request, resp *llm.ChatResponse) (*Response, error) {
	fields := extract.Fields(req.Message)
	a.logger.Warn("model returned empty response, extraction fallback",
		"request_id", rid,
		"session_id", req.SessionID,
		"fields_extracted", len(fields),
	)

	out := &Response{
		SessionID: req.SessionID,
		Type:      TypeText,
	}
	if resp != nil {
		out.Model = resp.Model
		out.Provider = resp.Provider
	}

	if len(fields) > 0 {
		if _, err := a.drafts.Merge(req.SessionID, fields); err != nil {
			return nil, fmt.Errorf("merge extracted fields: %w", err)
		}
		out.Type = TypeToolResult
		out.ToolResults = []ToolResult{{
			Name:      "create_event_draft",
			Arguments: fields,
			Result:    `{"status":"draft_updated","source":"extraction"}`,
		}}
	}

	out.Reply = a.draftReply(req.SessionID)
	return out, nil
}
