package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/nugget/sundevil-helper/internal/config"
	"github.com/nugget/sundevil-helper/internal/httpkit"
)

// GeminiClient completes prompts through the Gemini API.
type GeminiClient struct {
	client *genai.Client
	logger *slog.Logger
}

// NewGeminiClient creates a Gemini client. baseURL overrides the API
// endpoint and is normally empty.
func NewGeminiClient(ctx context.Context, apiKey, baseURL string, logger *slog.Logger) (*GeminiClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpkit.NewClient(httpkit.WithTimeout(0)),
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &GeminiClient{
		client: client,
		logger: logger.With("provider", "gemini"),
	}, nil
}

// Complete sends one GenerateContent request.
func (c *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	gc := &genai.GenerateContentConfig{
		Temperature:   genai.Ptr(float32(req.Temperature)),
		StopSequences: req.Stop,
	}
	if req.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(req.MaxTokens)
	}

	c.logger.Log(ctx, config.LevelTrace, "gemini request", "model", req.Model, "prompt", req.Prompt)

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), gc)
	if err != nil {
		return nil, classify("gemini", err)
	}

	text := resp.Text()
	c.logger.Log(ctx, config.LevelTrace, "gemini response", "model", req.Model, "text", text)

	out := &Completion{
		Text:     TrimAtStop(text, req.Stop),
		Model:    req.Model,
		Duration: time.Since(start),
	}
	if len(resp.Candidates) > 0 {
		out.StopReason = string(resp.Candidates[0].FinishReason)
	}
	if u := resp.UsageMetadata; u != nil {
		out.InputTokens = int(u.PromptTokenCount)
		out.OutputTokens = int(u.CandidatesTokenCount)
	}
	return out, nil
}

// Ping generates a single token to confirm the API and key are usable.
func (c *GeminiClient) Ping(ctx context.Context) error {
	_, err := c.client.Models.GenerateContent(ctx, "gemini-flash-lite-latest", genai.Text("ping"),
		&genai.GenerateContentConfig{MaxOutputTokens: 1})
	return classify("gemini", err)
}
