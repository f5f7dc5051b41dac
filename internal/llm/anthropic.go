package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fetekit/fete-agent/internal/httpkit"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
	anthropicMaxTokens  = 4096
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	// LLM responses can take significant time before sending headers
	// (long prompts, busy backend). Use a generous header timeout and
	// rely on ctx deadlines for overall timeout control.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &AnthropicClient{
		apiKey: apiKey,
		logger: logger.With("provider", ProviderAnthropic),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// Anthropic request/response types

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicContent
}

type anthropicContent struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"` // for tool_result
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// formatToolsForAnthropic converts neutral tool definitions to the
// Anthropic schema. Pure and lossless over name/description/parameters.
func formatToolsForAnthropic(tools []ToolDef) []anthropicTool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		result = append(result, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return result
}

// convertToAnthropic maps unified messages to Anthropic's format.
// System messages are hoisted into the top-level system field; tool
// responses become user-role tool_result blocks; assistant tool calls
// become tool_use blocks.
func convertToAnthropic(messages []Message) ([]anthropicMessage, string) {
	var systemParts []string
	var result []anthropicMessage

	for _, m := range messages {
		switch m.Role {
		case "system":
			systemParts = append(systemParts, m.Content)

		case "tool":
			result = append(result, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})

		case "assistant":
			if len(m.ToolCalls) == 0 {
				result = append(result, anthropicMessage{Role: "assistant", Content: m.Content})
				continue
			}
			var blocks []anthropicContent
			if m.Content != "" {
				blocks = append(blocks, anthropicContent{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Arguments,
				})
			}
			result = append(result, anthropicMessage{Role: "assistant", Content: blocks})

		default:
			result = append(result, anthropicMessage{Role: m.Role, Content: m.Content})
		}
	}

	return result, strings.Join(systemParts, "\n\n")
}

// Chat sends a chat completion request to the Anthropic Messages API.
func (c *AnthropicClient) Chat(ctx context.Context, model string, messages []Message, tools []ToolDef) (*ChatResponse, error) {
	anthropicMsgs, systemPrompt := convertToAnthropic(messages)

	req := anthropicRequest{
		Model:     model,
		Messages:  anthropicMsgs,
		System:    systemPrompt,
		MaxTokens: anthropicMaxTokens,
		Tools:     formatToolsForAnthropic(tools),
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, slog.Level(-8), "anthropic request", "payload", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", anthropicAPIURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, gatewayErr(ProviderAnthropic, "chat", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, gatewayErr(ProviderAnthropic, "chat",
			fmt.Errorf("API error %d: %s", resp.StatusCode, string(body)))
	}

	var wire anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, gatewayErr(ProviderAnthropic, "chat", fmt.Errorf("decode response: %w", err))
	}

	return wire.toChatResponse(), nil
}

// toChatResponse converts the Anthropic response to the unified form,
// flattening content blocks into text plus canonical ToolCalls.
func (w *anthropicResponse) toChatResponse() *ChatResponse {
	resp := &ChatResponse{
		Provider:     ProviderAnthropic,
		Model:        w.Model,
		CreatedAt:    time.Now(),
		InputTokens:  w.Usage.InputTokens,
		OutputTokens: w.Usage.OutputTokens,
		Message:      Message{Role: "assistant"},
	}

	var text strings.Builder
	for _, block := range w.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			resp.Message.ToolCalls = append(resp.Message.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	resp.Message.Content = text.String()

	return resp
}

// Ping verifies the API key is set and the endpoint is reachable. The
// Messages API has no dedicated health endpoint, so this issues a
// minimal request and accepts any authenticated response.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	if c.apiKey == "" {
		return gatewayErr(ProviderAnthropic, "ping", fmt.Errorf("no API key configured"))
	}

	req := anthropicRequest{
		Model:     "claude-3-5-haiku-20241022",
		Messages:  []anthropicMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	}
	jsonData, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", anthropicAPIURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return gatewayErr(ProviderAnthropic, "ping", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<16)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return gatewayErr(ProviderAnthropic, "ping", fmt.Errorf("authentication failed (%d)", resp.StatusCode))
	}
	return nil
}
