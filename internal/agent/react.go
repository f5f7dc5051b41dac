package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fetekit/fete-agent/internal/llm"
)

// runReasoningLoop executes a turn as a bounded think/act/observe loop
// over a text protocol, for models without native tool calling. Every
// iteration costs a model call, so the bound is small.
func (a *Agent) runReasoningLoop(ctx context.Context, rid string, req Request, model string) (*Response, error) {
	defs := a.registry.List()
	messages := []llm.Message{
		{Role: "system", Content: a.reasoningPrompt(req.SessionID, defs)},
	}
	messages = append(messages, a.sessions.History(req.SessionID, a.opts.HistoryWindow)...)

	var results []ToolResult
	var lastProvider string

	for i := 0; i < a.opts.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("turn cancelled: %w", err)
		}

		resp, err := a.chat(ctx, rid, i, model, messages, nil)
		if err != nil {
			return nil, fmt.Errorf("model call (iter %d): %w", i, err)
		}
		lastProvider = resp.Provider

		if resp.Empty() {
			if i == 0 {
				return a.fallbackExtraction(rid, req, resp)
			}
			// Mid-loop empty output: nudge the model back on protocol.
			messages = append(messages, llm.Message{
				Role:    "user",
				Content: "Observation: your last response was empty. Use the Thought/Action format, or give a Final Answer.",
			})
			continue
		}

		step := parseReactStep(resp.Message.Content)
		messages = append(messages, llm.Message{Role: "assistant", Content: resp.Message.Content})

		if step.hasFinal() {
			return &Response{
				SessionID:   req.SessionID,
				Type:        responseType(results),
				Reply:       step.FinalAnswer,
				ToolResults: results,
				Model:       resp.Model,
				Provider:    resp.Provider,
				Iterations:  i + 1,
			}, nil
		}

		if !step.hasAction() {
			// A bare thought with no action. Ask the model to commit.
			messages = append(messages, llm.Message{
				Role:    "user",
				Content: "Observation: no Action or Final Answer found. Either take an Action or give a Final Answer.",
			})
			continue
		}

		observation, tr := a.runReactAction(ctx, rid, req.SessionID, step)
		if tr != nil {
			results = append(results, *tr)
		}
		messages = append(messages, llm.Message{
			Role:    "user",
			Content: markerObservation + " " + observation,
		})
	}

	// Budget spent without a final answer. Return what we have rather
	// than erroring: partial observations still moved the draft along.
	a.logger.Warn("reasoning loop exhausted",
		"request_id", rid,
		"session_id", req.SessionID,
		"max_iterations", a.opts.MaxIterations,
		"tool_results", len(results),
	)
	return &Response{
		SessionID:     req.SessionID,
		Type:          responseType(results),
		Reply:         a.draftReply(req.SessionID),
		ToolResults:   results,
		Model:         model,
		Provider:      lastProvider,
		Iterations:    a.opts.MaxIterations,
		Exhausted:     true,
		ExhaustReason: ExhaustMaxIterations,
	}, nil
}

// runReactAction executes one parsed action and returns the
// observation text for the model. Unknown tools and malformed input
// are recoverable observations, not turn failures.
func (a *Agent) runReactAction(ctx context.Context, rid, sessionID string, step reactStep) (string, *ToolResult) {
	if a.registry.Get(step.Action) == nil {
		known := make([]string, 0)
		for _, d := range a.registry.List() {
			known = append(known, d.Name)
		}
		return fmt.Sprintf("unknown tool %q. Available tools: %s.",
			step.Action, strings.Join(known, ", ")), nil
	}

	var args map[string]any
	if input := strings.TrimSpace(step.ActionInput); input != "" {
		if err := json.Unmarshal([]byte(input), &args); err != nil {
			return fmt.Sprintf("Action Input is not valid JSON (%v). Write it as a single JSON object.", err), nil
		}
	}

	tr := a.executeTool(ctx, rid, sessionID, llm.ToolCall{Name: step.Action, Arguments: args})
	if tr.Error != "" {
		return "tool failed: " + tr.Error, &tr
	}
	return tr.Result, &tr
}

func responseType(results []ToolResult) string {
	if len(results) > 0 {
		return TypeToolResult
	}
	return TypeText
}
