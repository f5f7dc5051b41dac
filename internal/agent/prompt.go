package agent

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fetekit/fete-agent/internal/llm"
)

const basePrompt = `You are Fete, an assistant that helps people plan community events through conversation.

Your job is to build up an event draft incrementally as the user shares details. Whenever the user mentions event details (what, where, when, cost, ages, capacity), record them with the create_event_draft tool. Only pass fields the user actually stated; never invent values. Ask for the most important missing detail, one question at a time. An event needs at least a title and a date before it can be created.

Be concise and friendly. When the draft has everything required, tell the user it is ready to finalize.`

// systemPrompt builds the per-turn system prompt: base instructions,
// the current date, and the draft so far so the model does not re-ask
// for details it already has.
func (a *Agent) systemPrompt(sessionID string) string {
	var sb strings.Builder
	sb.WriteString(basePrompt)
	sb.WriteString("\n\nToday's date: ")
	sb.WriteString(time.Now().Format("Monday, January 2, 2006"))

	if d := a.drafts.Get(sessionID); d != nil && len(d.Fields) > 0 {
		sb.WriteString("\n\nCurrent event draft:\n")
		keys := make([]string, 0, len(d.Fields))
		for k := range d.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %v\n", k, d.Fields[k])
		}
		if missing := d.MissingRequired(); len(missing) > 0 {
			sb.WriteString("Still required: ")
			sb.WriteString(strings.Join(missing, ", "))
		} else {
			sb.WriteString("The draft is ready to finalize.")
		}
	}

	return sb.String()
}

// reasoningPrompt extends the system prompt with the text tool
// protocol used by the reasoning loop.
func (a *Agent) reasoningPrompt(sessionID string, defs []llm.ToolDef) string {
	var sb strings.Builder
	sb.WriteString(a.systemPrompt(sessionID))
	sb.WriteString("\n\nYou do not have native tool calling. To use a tool, respond in exactly this format:\n\n")
	sb.WriteString("Thought: what you are trying to do\nAction: tool_name\nAction Input: {\"arg\": \"value\"}\n\n")
	sb.WriteString("After each action you will receive an Observation with the result. When you have enough to answer the user, respond with:\n\n")
	sb.WriteString("Thought: I have enough to answer\nFinal Answer: your reply to the user\n\n")
	sb.WriteString("Available tools:\n")
	for _, d := range defs {
		fmt.Fprintf(&sb, "- %s: %s\n", d.Name, d.Description)
	}
	return sb.String()
}
