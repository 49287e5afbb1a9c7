// Package search provides pluggable web search for the dialogue tool
// layer. Providers are registered by name; the [Manager] routes queries
// to the configured primary and falls back to any other registered
// provider when the primary fails.
package search

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results to return. Providers may
	// return fewer. Zero means provider default.
	Count int `json:"count,omitempty"`

	// Language is an ISO 639-1 language code (e.g., "en", "de").
	Language string `json:"language,omitempty"`
}

// Provider is the interface that search backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "searxng", "brave").
	Name() string

	// Search executes a query and returns results.
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager holds configured providers and routes searches.
type Manager struct {
	providers map[string]Provider
	order     []string
	primary   string
}

// NewManager creates a search manager. The primary provider name
// determines which backend is tried first.
func NewManager(primary string) *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		primary:   primary,
	}
}

// Register adds a provider to the manager. Registration order
// determines fallback order.
func (m *Manager) Register(p Provider) {
	if _, exists := m.providers[p.Name()]; !exists {
		m.order = append(m.order, p.Name())
	}
	m.providers[p.Name()] = p
}

// Search runs a query against the primary provider. If the primary
// errors, remaining providers are tried in registration order. Answers
// get spoken aloud downstream, so a degraded result beats no result.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	p, ok := m.providers[m.primary]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", m.primary)
	}

	results, err := p.Search(ctx, query, opts)
	if err == nil {
		return results, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	for _, name := range m.order {
		if name == m.primary {
			continue
		}
		if results, ferr := m.providers[name].Search(ctx, query, opts); ferr == nil {
			return results, nil
		}
	}
	return nil, fmt.Errorf("search failed: %w", err)
}

// SearchWith runs a query against a specific named provider with no
// fallback.
func (m *Manager) SearchWith(ctx context.Context, provider, query string, opts Options) ([]Result, error) {
	p, ok := m.providers[provider]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", provider)
	}
	return p.Search(ctx, query, opts)
}

// Providers returns the names of all registered providers in
// registration order.
func (m *Manager) Providers() []string {
	return append([]string(nil), m.order...)
}

// Configured reports whether at least one provider is registered.
func (m *Manager) Configured() bool {
	return len(m.providers) > 0
}

// snippetLimit caps each snippet in formatted output. The formatted
// block goes back into the model context of a spoken conversation, so
// long snippets just burn tokens.
const snippetLimit = 280

// FormatResults builds a compact numbered result block suitable for
// feeding back to the model as a tool result.
func FormatResults(results []Result, count int) string {
	if len(results) == 0 {
		return "No results found."
	}
	if count <= 0 || count > len(results) {
		count = len(results)
	}

	var sb strings.Builder
	for i, r := range results[:count] {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "%d. %s\n   %s", i+1, r.Title, r.URL)
		if s := trimSnippet(r.Snippet); s != "" {
			sb.WriteString("\n   ")
			sb.WriteString(s)
		}
	}
	return sb.String()
}

func trimSnippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= snippetLimit {
		return s
	}
	cut := strings.LastIndexByte(s[:snippetLimit], ' ')
	if cut <= 0 {
		// No word boundary to cut at; back up to a rune boundary so the
		// truncation cannot split a multi-byte character.
		cut = snippetLimit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
	}
	return s[:cut] + "…"
}
