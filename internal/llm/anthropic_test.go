package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newTestClient points an AnthropicClient at a test server by swapping
// its transport to rewrite the host.
func newTestClient(t *testing.T, handler http.HandlerFunc) *AnthropicClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewAnthropicClient("test-key", nil)
	c.httpClient = srv.Client()
	c.httpClient.Transport = rewriteHost(srv.URL, c.httpClient.Transport)
	return c
}

type hostRewriter struct {
	target string
	next   http.RoundTripper
}

func rewriteHost(target string, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &hostRewriter{target: target, next: next}
}

func (h *hostRewriter) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = h.target[len("http://"):]
	return h.next.RoundTrip(req)
}

func TestChat(t *testing.T) {
	var gotReq anthropicRequest
	var gotHeaders http.Header

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(anthropicResponse{
			Role:       "assistant",
			Model:      "claude-sonnet-4-20250514",
			StopReason: "end_turn",
			Content:    []anthropicContent{{Type: "text", Text: "Hello Dave."}},
			Usage:      anthropicUsage{InputTokens: 10, OutputTokens: 5},
		})
	})

	resp, err := client.Chat(context.Background(), "claude-sonnet-4-20250514", []Message{
		{Role: "system", Content: "You are a helpful attendant."},
		{Role: "user", Content: "Hello"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if gotHeaders.Get("x-api-key") != "test-key" {
		t.Errorf("missing api key header")
	}
	if gotHeaders.Get("anthropic-version") != anthropicAPIVersion {
		t.Errorf("anthropic-version = %q", gotHeaders.Get("anthropic-version"))
	}
	if gotReq.System != "You are a helpful attendant." {
		t.Errorf("system prompt not extracted: %q", gotReq.System)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Role != "user" {
		t.Errorf("unexpected messages: %+v", gotReq.Messages)
	}
	if resp.Message.Content != "Hello Dave." {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if resp.StopReason != "end_turn" {
		t.Errorf("stop_reason = %q", resp.StopReason)
	}
	if resp.ToolRequested() {
		t.Error("ToolRequested should be false for text-only response")
	}
}

func TestChat_ToolUse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(anthropicResponse{
			Role:       "assistant",
			StopReason: "tool_use",
			Content: []anthropicContent{
				{Type: "text", Text: "Let me check."},
				{Type: "tool_use", ID: "toolu_01", Name: "web_search", Input: map[string]any{"query": "weather"}},
			},
		})
	})

	resp, err := client.Chat(context.Background(), "m", []Message{{Role: "user", Content: "weather?"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !resp.ToolRequested() {
		t.Fatal("expected tool request")
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "toolu_01" || tc.Function.Name != "web_search" {
		t.Errorf("unexpected tool call: %+v", tc)
	}
	if tc.Function.Arguments["query"] != "weather" {
		t.Errorf("arguments = %v", tc.Function.Arguments)
	}
}

func TestChat_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"rate_limit_error"}}`))
	})

	_, err := client.Chat(context.Background(), "m", []Message{{Role: "user", Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestDescribe(t *testing.T) {
	var gotReq anthropicRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(anthropicResponse{
			Role:    "assistant",
			Content: []anthropicContent{{Type: "text", Text: "A kitchen with a person at the counter."}},
		})
	})

	desc, err := client.Describe(context.Background(), "m", "aGVsbG8=", "What do you see?")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if desc != "A kitchen with a person at the counter." {
		t.Errorf("desc = %q", desc)
	}

	// Request should carry an image block followed by a text block.
	if len(gotReq.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(gotReq.Messages))
	}
	blocks, ok := gotReq.Messages[0].Content.([]any)
	if !ok || len(blocks) != 2 {
		t.Fatalf("expected 2 content blocks, got %v", gotReq.Messages[0].Content)
	}
	img := blocks[0].(map[string]any)
	if img["type"] != "image" {
		t.Errorf("first block type = %v", img["type"])
	}
	src := img["source"].(map[string]any)
	if src["media_type"] != "image/jpeg" || src["data"] != "aGVsbG8=" {
		t.Errorf("unexpected source: %v", src)
	}
}

func TestConvertToAnthropic_ToolRoundTrip(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "what's outside?"},
		{Role: "assistant", Content: "Checking.", ToolCalls: []ToolCall{
			NewToolCall("toolu_9", "describe_scene", map[string]any{"detail": "brief"}),
		}},
		{Role: "tool", ToolCallID: "toolu_9", Content: "A quiet street."},
	}

	out, system := convertToAnthropic(msgs)
	if system != "" {
		t.Errorf("system = %q", system)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(out))
	}

	blocks := out[1].Content.([]anthropicContent)
	if len(blocks) != 2 || blocks[0].Type != "text" || blocks[1].Type != "tool_use" {
		t.Errorf("assistant blocks: %+v", blocks)
	}
	if blocks[1].ID != "toolu_9" || blocks[1].Name != "describe_scene" {
		t.Errorf("tool_use block: %+v", blocks[1])
	}

	// Tool result becomes a user message with a tool_result block.
	if out[2].Role != "user" {
		t.Errorf("tool result role = %q", out[2].Role)
	}
	result := out[2].Content.([]anthropicContent)
	if result[0].Type != "tool_result" || result[0].ToolUseID != "toolu_9" {
		t.Errorf("tool_result block: %+v", result[0])
	}
}

func TestConvertToolsToAnthropic(t *testing.T) {
	tools := []map[string]any{
		{
			"type": "function",
			"function": map[string]any{
				"name":        "web_search",
				"description": "Search the web.",
				"parameters": map[string]any{
					"type":       "object",
					"properties": map[string]any{"query": map[string]any{"type": "string"}},
				},
			},
		},
		{"type": "function"}, // malformed, skipped
	}

	out := convertToolsToAnthropic(tools)
	if len(out) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(out))
	}
	if out[0].Name != "web_search" {
		t.Errorf("name = %q", out[0].Name)
	}
}
