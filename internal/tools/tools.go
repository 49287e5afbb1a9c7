// Package tools defines the tools the dialogue backend may invoke
// mid-conversation.
package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wardenhq/attendant/internal/events"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools. Tools are registered at startup;
// Execute may be called concurrently afterward.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	logger *slog.Logger
	bus    *events.Bus
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger, bus *events.Bus) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
		bus:    bus,
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns all tool declarations in the format the dialogue
// backend expects.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, name := range r.order {
		t := r.tools[name]
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

// Execute runs a tool by name. A failing tool returns its error as the
// result text instead of an error: the model is expected to explain
// the failure conversationally rather than abort the turn.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) string {
	tool := r.tools[name]
	if tool == nil {
		r.logger.Warn("unknown tool requested", "tool", name)
		return fmt.Sprintf("Error: unknown tool %q", name)
	}

	r.bus.Publish(events.Event{
		Source: events.SourceConversation,
		Kind:   events.KindToolCall,
		Data:   map[string]any{"tool": name},
	})
	r.logger.Info("executing tool", "tool", name)

	result, err := tool.Handler(ctx, args)
	if err != nil {
		r.logger.Warn("tool failed", "tool", name, "error", err)
		return fmt.Sprintf("Error: %v", err)
	}
	return result
}
