package llm

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nugget/sundevil-helper/internal/config"
	"github.com/nugget/sundevil-helper/internal/httpkit"
)

// AnthropicClient completes prompts through the Anthropic Messages API.
// The rendered prompt is sent as a single user message.
type AnthropicClient struct {
	client    anthropic.Client
	maxTokens int
	logger    *slog.Logger
}

// AnthropicOption configures an AnthropicClient.
type AnthropicOption = option.RequestOption

// NewAnthropicClient creates a new Anthropic client. Extra options are
// passed through to the SDK (base URL overrides in tests, for example).
func NewAnthropicClient(apiKey string, maxTokens int, logger *slog.Logger, opts ...AnthropicOption) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Transport: t}),
		option.WithMaxRetries(2),
	}

	return &AnthropicClient{
		client:    anthropic.NewClient(append(base, opts...)...),
		maxTokens: maxTokens,
		logger:    logger.With("provider", "anthropic"),
	}
}

// Complete sends one Messages request.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(req.Temperature),
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}

	c.logger.Log(ctx, config.LevelTrace, "anthropic request", "model", req.Model, "prompt", req.Prompt)

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classify("anthropic", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	c.logger.Log(ctx, config.LevelTrace, "anthropic response",
		"model", msg.Model, "stop_reason", msg.StopReason, "text", sb.String())

	return &Completion{
		Text:         TrimAtStop(sb.String(), req.Stop),
		Model:        string(msg.Model),
		StopReason:   string(msg.StopReason),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		Duration:     time.Since(start),
	}, nil
}

// Ping lists one model to confirm the API and key are usable.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	_, err := c.client.Models.List(ctx, anthropic.ModelListParams{Limit: anthropic.Int(1)})
	return classify("anthropic", err)
}
