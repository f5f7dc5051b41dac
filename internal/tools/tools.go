// Package tools defines the tools available to the agent.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fetekit/fete-agent/internal/draft"
	"github.com/fetekit/fete-agent/internal/llm"
	"github.com/fetekit/fete-agent/internal/store"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     func(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds available tools.
type Registry struct {
	tools  map[string]*Tool
	drafts *draft.Store
	events *store.Store
}

// NewRegistry creates a tool registry over the draft and event stores.
func NewRegistry(drafts *draft.Store, events *store.Store) *Registry {
	r := &Registry{
		tools:  make(map[string]*Tool),
		drafts: drafts,
		events: events,
	}
	r.registerBuiltins()
	return r
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns tool definitions for the LLM, sorted by name so the
// model sees a stable ordering across turns.
func (r *Registry) List() []llm.ToolDef {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llm.ToolDef, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, llm.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}

// Execute runs a tool by name. Handler panics are recovered and
// returned as errors so a misbehaving tool cannot take down a turn.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result string, err error) {
	tool := r.tools[name]
	if tool == nil {
		return "", fmt.Errorf("unknown tool: %s", name)
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = ""
			err = fmt.Errorf("tool %s panicked: %v", name, rec)
		}
	}()

	return tool.Handler(ctx, args)
}

// ExecuteJSON runs a tool with raw JSON arguments.
func (r *Registry) ExecuteJSON(ctx context.Context, name, argsJSON string) (string, error) {
	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}
	return r.Execute(ctx, name, args)
}

// jsonResult marshals a tool result for the model. Marshal failures
// collapse to a structured error instead of propagating.
func jsonResult(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":"encode result: %v"}`, err)
	}
	return string(b)
}
