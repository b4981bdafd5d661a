// Package llm provides the reasoner clients that drive the
// question-answering loop. Every provider is reduced to one operation:
// complete a raw text prompt, stopping at the given sequences.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nugget/sundevil-helper/internal/httpkit"
)

// ErrUnavailable means the reasoner could not be reached at all. The
// question cannot be answered and nothing should be committed.
var ErrUnavailable = errors.New("reasoner unavailable")

// Client is the interface that all reasoner providers implement.
type Client interface {
	// Complete continues Prompt and returns the generated text.
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// CompletionRequest is a provider-neutral completion call.
type CompletionRequest struct {
	Model       string
	Prompt      string
	Stop        []string
	Temperature float64
	MaxTokens   int // zero means provider default
}

// Completion is the unified response from any provider.
type Completion struct {
	Text         string
	Model        string
	StopReason   string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// TrimAtStop cuts text at the earliest occurrence of any stop
// sequence. Providers that ignore stop sequences still yield the same
// text as those that honour them.
func TrimAtStop(text string, stops []string) string {
	cut := len(text)
	for _, s := range stops {
		if s == "" {
			continue
		}
		if i := strings.Index(text, s); i >= 0 && i < cut {
			cut = i
		}
	}
	return text[:cut]
}

// classify wraps dial-level failures as ErrUnavailable so callers can
// separate "the reasoner is down" from a single failed call.
func classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	if httpkit.IsUnreachable(err) {
		return fmt.Errorf("%s: %w: %w", provider, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", provider, err)
}
