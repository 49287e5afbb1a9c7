package llm

import "context"

// Client is the interface the conversation engine uses to reach the
// dialogue backend. Implementations must be safe for concurrent use.
type Client interface {
	// Chat sends a chat completion request with an optional declared
	// tool set and returns the response, which either carries final
	// text or requests a tool invocation.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Describe sends a single JPEG image with a text prompt and
	// returns the model's description. Used by the scene tool.
	Describe(ctx context.Context, model string, imageB64, prompt string) (string, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
