package llm

import (
	"encoding/json"
	"testing"
)

func TestConvertToAnthropic_SystemHoisting(t *testing.T) {
	msgs := []Message{
		{Role: "system", Content: "You are Fete."},
		{Role: "user", Content: "Plan a party"},
	}

	converted, system := convertToAnthropic(msgs)

	if system != "You are Fete." {
		t.Errorf("system = %q", system)
	}
	if len(converted) != 1 {
		t.Fatalf("messages = %d, want 1", len(converted))
	}
	if converted[0].Role != "user" {
		t.Errorf("role = %q", converted[0].Role)
	}
}

func TestConvertToAnthropic_ToolRoundTrip(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "Create a draft"},
		{
			Role: "assistant",
			ToolCalls: []ToolCall{{
				ID:        "toolu_01",
				Name:      "create_event_draft",
				Arguments: map[string]any{"title": "Gala"},
			}},
		},
		{Role: "tool", Content: `{"title":"Gala"}`, ToolCallID: "toolu_01"},
	}

	converted, _ := convertToAnthropic(msgs)

	if len(converted) != 3 {
		t.Fatalf("messages = %d, want 3", len(converted))
	}

	// Assistant tool call becomes a tool_use block.
	blocks, ok := converted[1].Content.([]anthropicContent)
	if !ok {
		t.Fatalf("assistant content is %T, want blocks", converted[1].Content)
	}
	if blocks[0].Type != "tool_use" || blocks[0].ID != "toolu_01" || blocks[0].Name != "create_event_draft" {
		t.Errorf("tool_use block = %+v", blocks[0])
	}

	// Tool response becomes a user-role tool_result block.
	if converted[2].Role != "user" {
		t.Errorf("tool message role = %q, want user", converted[2].Role)
	}
	resBlocks := converted[2].Content.([]anthropicContent)
	if resBlocks[0].Type != "tool_result" || resBlocks[0].ToolUseID != "toolu_01" {
		t.Errorf("tool_result block = %+v", resBlocks[0])
	}
}

func TestAnthropicResponse_ToolUseNormalized(t *testing.T) {
	raw := `{
		"id": "msg_01",
		"role": "assistant",
		"model": "claude-sonnet-4-20250514",
		"stop_reason": "tool_use",
		"content": [
			{"type": "text", "text": "Setting that up."},
			{"type": "tool_use", "id": "toolu_02", "name": "validate_event_data",
			 "input": {"record": {"title": "Gala"}}}
		],
		"usage": {"input_tokens": 120, "output_tokens": 45}
	}`

	var wire anthropicResponse
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	resp := wire.toChatResponse()

	if resp.Provider != ProviderAnthropic {
		t.Errorf("Provider = %q", resp.Provider)
	}
	if resp.Message.Content != "Setting that up." {
		t.Errorf("Content = %q", resp.Message.Content)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "toolu_02" || tc.Name != "validate_event_data" {
		t.Errorf("ToolCall = %+v", tc)
	}
	if resp.InputTokens != 120 || resp.OutputTokens != 45 {
		t.Errorf("tokens = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestFormatToolsForAnthropic(t *testing.T) {
	defs := []ToolDef{{
		Name:        "query_events",
		Description: "Search persisted events.",
		Parameters:  map[string]any{"type": "object"},
	}}

	got := formatToolsForAnthropic(defs)
	if len(got) != 1 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Name != "query_events" || got[0].Description != "Search persisted events." {
		t.Errorf("lossy conversion: %+v", got[0])
	}
	if got[0].InputSchema["type"] != "object" {
		t.Errorf("InputSchema = %v", got[0].InputSchema)
	}

	if formatToolsForAnthropic(nil) != nil {
		t.Error("nil defs should produce nil schema")
	}
}
