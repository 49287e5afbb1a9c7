// Package llm provides the dialogue backend client.
package llm

import (
	"time"
)

// Message represents a chat message for the model.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall represents a tool call from the model.
type ToolCall struct {
	ID       string `json:"id,omitempty"` // Provider-assigned ID (required by Anthropic for tool_result correlation)
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// NewToolCall builds a ToolCall. Mostly useful in tests — the anonymous
// struct field makes literal construction awkward at call sites.
func NewToolCall(id, name string, args map[string]any) ToolCall {
	tc := ToolCall{ID: id}
	tc.Function.Name = name
	tc.Function.Arguments = args
	return tc
}

// ChatResponse is the response from the dialogue backend. All fields
// use proper Go types — wire format conversion happens at the provider
// boundary (anthropic.go).
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	Done      bool

	// StopReason is the provider's stop reason ("end_turn",
	// "tool_use", "max_tokens").
	StopReason string

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int
}

// ToolRequested reports whether the model stopped to request a tool
// invocation rather than producing final text.
func (r *ChatResponse) ToolRequested() bool {
	return len(r.Message.ToolCalls) > 0
}
