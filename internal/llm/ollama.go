package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fetekit/fete-agent/internal/httpkit"
)

// OllamaClient is a client for the Ollama /api/chat endpoint.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	// Large models with tools need time before the first byte.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &OllamaClient{
		baseURL: baseURL,
		httpClient: httpkit.NewClient(
			// Rely on ctx deadlines for timeout control.
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// ollamaWireRequest is the request format for the Ollama chat API.
type ollamaWireRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaWireMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Tools    []map[string]any    `json:"tools,omitempty"`
}

// ollamaWireMessage is a chat message in Ollama's wire format, where
// tool calls nest under a "function" key.
type ollamaWireMessage struct {
	Role      string               `json:"role"`
	Content   string               `json:"content"`
	ToolCalls []ollamaWireToolCall `json:"tool_calls,omitempty"`
}

type ollamaWireToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"` // Ollama returns an object, not a string
	} `json:"function"`
}

// ollamaWireResponse is the response from the Ollama chat API.
type ollamaWireResponse struct {
	Model     string            `json:"model"`
	CreatedAt string            `json:"created_at"`
	Message   ollamaWireMessage `json:"message"`
	Done      bool              `json:"done"`

	// Usage stats (when done=true)
	TotalDuration   int64 `json:"total_duration,omitempty"`
	PromptEvalCount int   `json:"prompt_eval_count,omitempty"`
	EvalCount       int   `json:"eval_count,omitempty"`
}

// toChatResponse converts the wire response to the unified form,
// normalizing tool calls into the canonical shape.
func (w *ollamaWireResponse) toChatResponse() *ChatResponse {
	resp := &ChatResponse{
		Provider: ProviderOllama,
		Model:    w.Model,
		Message: Message{
			Role:    w.Message.Role,
			Content: w.Message.Content,
		},
		InputTokens:   w.PromptEvalCount,
		OutputTokens:  w.EvalCount,
		TotalDuration: time.Duration(w.TotalDuration),
	}
	if t, err := time.Parse(time.RFC3339Nano, w.CreatedAt); err == nil {
		resp.CreatedAt = t
	}
	for _, tc := range w.Message.ToolCalls {
		resp.Message.ToolCalls = append(resp.Message.ToolCalls, ToolCall{
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return resp
}

// formatToolsForOllama converts neutral tool definitions to Ollama's
// OpenAI-style schema. Pure and lossless over name/description/parameters.
func formatToolsForOllama(tools []ToolDef) []map[string]any {
	if len(tools) == 0 {
		return nil
	}
	result := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// toWireMessages converts unified messages to Ollama's wire format.
func toWireMessages(messages []Message) []ollamaWireMessage {
	wire := make([]ollamaWireMessage, 0, len(messages))
	for _, m := range messages {
		wm := ollamaWireMessage{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			var wtc ollamaWireToolCall
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = tc.Arguments
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		wire = append(wire, wm)
	}
	return wire
}

// Chat sends a chat completion request to Ollama.
func (c *OllamaClient) Chat(ctx context.Context, model string, messages []Message, tools []ToolDef) (*ChatResponse, error) {
	req := ollamaWireRequest{
		Model:    model,
		Messages: toWireMessages(messages),
		Stream:   false,
		Tools:    formatToolsForOllama(tools),
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, gatewayErr(ProviderOllama, "chat", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, gatewayErr(ProviderOllama, "chat",
			fmt.Errorf("API error %d: %s", resp.StatusCode, string(body)))
	}

	var wire ollamaWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, gatewayErr(ProviderOllama, "chat", fmt.Errorf("decode response: %w", err))
	}

	chatResp := wire.toChatResponse()

	// Many models emit tool calls as JSON in the content rather than
	// using the native tool_calls field. Recover those here so callers
	// see one canonical shape.
	if len(chatResp.Message.ToolCalls) == 0 && chatResp.Message.Content != "" {
		if parsed := parseTextToolCalls(chatResp.Message.Content); len(parsed) > 0 {
			chatResp.Message.ToolCalls = parsed
			chatResp.Message.Content = ""
		}
	}

	return chatResp, nil
}

// parseTextToolCalls attempts to extract tool calls from content text.
// Handles the common formats:
//   - Raw JSON object: {"name": "...", "arguments": {...}}
//   - JSON array: [{"name": "...", "arguments": {...}}]
//   - Tagged: <tool_call>...</tool_call>
func parseTextToolCalls(content string) []ToolCall {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	// Try to extract from <tool_call> tags.
	if strings.Contains(content, "<tool_call>") {
		start := strings.Index(content, "<tool_call>")
		end := strings.Index(content, "</tool_call>")
		if start != -1 && end > start {
			content = strings.TrimSpace(content[start+len("<tool_call>") : end])
		} else if start != -1 {
			// No closing tag, take rest of content.
			content = strings.TrimSpace(content[start+len("<tool_call>"):])
		}
	}

	// Try parsing as an array of tool calls.
	var calls []struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(content), &calls); err == nil && len(calls) > 0 {
		result := make([]ToolCall, 0, len(calls))
		for _, c := range calls {
			if c.Name == "" {
				continue
			}
			result = append(result, ToolCall{Name: c.Name, Arguments: c.Arguments})
		}
		if len(result) > 0 {
			return result
		}
	}

	// Try parsing as a single tool call object.
	var single struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(content), &single); err == nil && single.Name != "" {
		return []ToolCall{{Name: single.Name, Arguments: single.Arguments}}
	}

	return nil
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return gatewayErr(ProviderOllama, "ping", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<16)

	if resp.StatusCode != http.StatusOK {
		return gatewayErr(ProviderOllama, "ping", fmt.Errorf("API error %d", resp.StatusCode))
	}

	return nil
}
