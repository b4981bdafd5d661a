package fetch

import (
	"context"

	"github.com/nugget/sundevil-helper/internal/tools"
)

// ToolName is the dispatcher name of the page fetch tool.
const ToolName = "web_fetch"

// ToolDescription is the catalog text shown to the reasoner.
const ToolDescription = "Reads the text of a single web page. Useful after a search when a result's " +
	"snippet is not enough and the full official page is needed. Input should be one URL."

// Tool adapts f into a dispatcher tool.
func Tool(f *Fetcher) *tools.Tool {
	return &tools.Tool{
		Name:        ToolName,
		Description: ToolDescription,
		Timeout:     DefaultTimeout,
		Handler:     ToolHandler(f),
	}
}

// ToolHandler wraps the Fetcher as a [tools.Handler]. The page becomes
// a single item whose URL is cited as a source.
func ToolHandler(f *Fetcher) tools.Handler {
	return func(ctx context.Context, input string) (tools.Result, error) {
		page, err := f.Fetch(ctx, input)
		if err != nil {
			return tools.Result{}, err
		}

		snippet := page.Text
		if page.Truncated {
			snippet += " [truncated]"
		}
		if snippet == "" {
			snippet = "(page has no readable text)"
		}
		return tools.Result{Items: []tools.Item{{
			Title:   page.Title,
			URL:     page.URL,
			Snippet: snippet,
		}}}, nil
	}
}
