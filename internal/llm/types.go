// Package llm provides LLM client implementations.
package llm

import (
	"encoding/json"
	"time"
)

// Provider name constants.
const (
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall is the canonical tool invocation shape. Provider wire
// formats (Ollama's nested function object, Anthropic's tool_use
// content blocks) are converted to this at the provider boundary, so
// nothing downstream ever branches on provider-specific shapes.
type ToolCall struct {
	// ID is the provider-assigned call ID (required by Anthropic for
	// tool_result correlation; absent on Ollama).
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// MarshalArguments serializes tool call arguments for logging and
// audit storage. Nil arguments come back as "{}".
func MarshalArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ToolDef describes one callable tool: a name, a human-readable
// description, and a JSON Schema object for the parameters. This is the
// provider-neutral form; each client converts it to its wire schema.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatResponse is the unified response from any LLM provider.
// All fields use proper Go types — wire format conversion happens
// at provider boundaries (ollama.go, anthropic.go).
type ChatResponse struct {
	Provider  string
	Model     string
	CreatedAt time.Time
	Message   Message

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int

	// TotalDuration is populated when the provider reports it.
	TotalDuration time.Duration
}

// Empty reports whether the model produced nothing usable: no content
// and no tool calls. Callers must treat this as a recoverable condition,
// not an error — some backends are observed to return empty responses.
func (r *ChatResponse) Empty() bool {
	if r == nil {
		return true
	}
	return r.Message.Content == "" && len(r.Message.ToolCalls) == 0
}
