package tools

import (
	"context"
	"fmt"

	"github.com/wardenhq/attendant/internal/search"
)

// RegisterSearchTool adds the web_search tool backed by the search
// manager. maxResults caps how many results get formatted back into
// the model context.
func RegisterSearchTool(r *Registry, mgr *search.Manager, maxResults int) {
	if maxResults <= 0 {
		maxResults = 5
	}
	r.Register(&Tool{
		Name:        "web_search",
		Description: "Search the web for current information. Use for news, weather, current events, or facts you are unsure about.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("query is required")
			}

			results, err := mgr.Search(ctx, query, search.Options{Count: maxResults})
			if err != nil {
				return "", err
			}
			return search.FormatResults(results, maxResults), nil
		},
	})
}
