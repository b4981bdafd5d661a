package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/sundevil-helper/internal/config"
	"github.com/nugget/sundevil-helper/internal/httpkit"
)

// OllamaClient is a client for the Ollama generate API. Prompts are
// sent in raw mode so the model sees exactly the rendered text.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Replays of requests refused by a restarting daemon.
const (
	ollamaRetries      = 2
	ollamaRetryBackoff = 100 * time.Millisecond
)

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string, timeout time.Duration, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("provider", "ollama")

	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		// Local models can take minutes to produce a first byte.
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithResponseHeaderTimeout(0),
			httpkit.WithRetry(ollamaRetries, ollamaRetryBackoff),
			httpkit.WithLogger(logger),
		),
	}
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Raw     bool           `json:"raw"`
	Stream  bool           `json:"stream"`
	Options *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaGenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	TotalDuration   int64  `json:"total_duration"`
}

// Complete sends a non-streaming generate request.
func (c *OllamaClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		Raw:    true,
		Options: &ollamaOptions{
			Temperature: req.Temperature,
			Stop:        req.Stop,
			NumPredict:  req.MaxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	c.logger.Log(ctx, config.LevelTrace, "ollama request", "model", req.Model, "prompt", req.Prompt)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify("ollama", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := httpkit.ErrorBody(resp.Body, 1024)
		return nil, fmt.Errorf("ollama: API error %d: %s", resp.StatusCode, msg)
	}

	var gr ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}

	c.logger.Log(ctx, config.LevelTrace, "ollama response", "model", gr.Model, "text", gr.Response)

	return &Completion{
		Text:         TrimAtStop(gr.Response, req.Stop),
		Model:        gr.Model,
		StopReason:   gr.DoneReason,
		InputTokens:  gr.PromptEvalCount,
		OutputTokens: gr.EvalCount,
		Duration:     time.Since(start),
	}, nil
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify("ollama", err)
	}
	defer httpkit.Drain(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: ping returned %d", resp.StatusCode)
	}
	return nil
}
