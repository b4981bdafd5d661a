package search

import (
	"context"
	"strings"
	"time"

	"github.com/nugget/sundevil-helper/internal/tools"
)

// ToolDescription is the catalog text shown to the reasoner.
const ToolDescription = "A search engine optimized for comprehensive, accurate, and trusted results. " +
	"Useful for when you need to answer questions about current events. Input should be a search query."

// Tool adapts the manager's primary provider into a dispatcher tool
// named name. Each call requests count results.
func Tool(mgr *Manager, name string, count int, timeout time.Duration) *tools.Tool {
	return &tools.Tool{
		Name:        name,
		Description: ToolDescription,
		Timeout:     timeout,
		Handler:     ToolHandler(mgr, count),
	}
}

// ToolHandler wraps the manager's search method as a [tools.Handler].
func ToolHandler(mgr *Manager, count int) tools.Handler {
	return func(ctx context.Context, input string) (tools.Result, error) {
		query := strings.Trim(strings.TrimSpace(input), `"'`)
		if query == "" {
			return tools.ErrorResult("a search query is required"), nil
		}

		results, err := mgr.Search(ctx, query, Options{Count: count})
		if err != nil {
			return tools.Result{}, err
		}

		items := make([]tools.Item, 0, len(results))
		for _, r := range results {
			items = append(items, tools.Item{
				Title:   r.Title,
				URL:     r.URL,
				Snippet: r.Snippet,
			})
		}
		return tools.Result{Items: items}, nil
	}
}
