// Package llm provides LLM client implementations.
package llm

import "context"

// Client is the interface that all LLM providers must implement.
// Failures surface as *GatewayError; clients never retry internally.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// tools may be nil to force a plain-text reply.
	Chat(ctx context.Context, model string, messages []Message, tools []ToolDef) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
