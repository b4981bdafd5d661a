package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nugget/sundevil-helper/internal/httpkit"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// Tavily implements the Provider interface for the Tavily search API.
type Tavily struct {
	apiKey string
	depth  string
	cfg    providerConfig
}

// NewTavily creates a Tavily provider. depth is "basic" or "advanced";
// empty means basic.
func NewTavily(apiKey, depth string, opts ...ProviderOption) *Tavily {
	if depth == "" {
		depth = "basic"
	}
	return &Tavily{
		apiKey: apiKey,
		depth:  depth,
		cfg:    newProviderConfig(tavilyEndpoint, opts),
	}
}

func (t *Tavily) Name() string { return "tavily" }

type tavilyRequest struct {
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (t *Tavily) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	body, err := json.Marshal(tavilyRequest{
		Query:       query,
		SearchDepth: t.depth,
		MaxResults:  opts.count(),
	})
	if err != nil {
		return nil, fmt.Errorf("tavily: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tavily: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.cfg.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := httpkit.ErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("tavily: HTTP %d: %s", resp.StatusCode, msg)
	}

	var tr tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("tavily: decode response: %w", err)
	}

	results := make([]Result, 0, len(tr.Results))
	for _, r := range tr.Results {
		results = append(results, Result{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
		})
	}
	return results, nil
}
