// Package tools defines the dispatcher between the reasoning loop and
// the external capabilities it may call. Every capability is adapted to
// the same [Result] shape before the loop sees it.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Item is one piece of evidence returned by a tool.
type Item struct {
	Title   string `json:"title,omitempty"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Result is the normalized output of every tool call. A non-empty
// Error means the call failed in a way the reasoner should see and
// recover from; Items is then empty.
type Result struct {
	Items []Item `json:"items"`
	Error string `json:"error,omitempty"`
}

// Failed reports whether the call produced an error observation.
func (r Result) Failed() bool { return r.Error != "" }

// ErrorResult builds a Result carrying only an error message.
func ErrorResult(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// Observation renders the result as the text the reasoner reads after
// "Observation:".
func (r Result) Observation() string {
	if r.Error != "" {
		return "Error: " + r.Error
	}
	if len(r.Items) == 0 {
		return "No results found."
	}

	var sb strings.Builder
	for i, it := range r.Items {
		if i > 0 {
			sb.WriteString("\n")
		}
		if it.Title != "" {
			fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, it.Title, it.URL)
		} else {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, it.URL)
		}
		if it.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", it.Snippet)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Handler executes a tool with the raw Action Input text.
type Handler func(ctx context.Context, input string) (Result, error)

// Tool is a callable capability.
type Tool struct {
	Name        string
	Description string
	Timeout     time.Duration // zero means no per-call limit
	Handler     Handler
}

// Spec is the catalog entry rendered into the prompt.
type Spec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Registry holds the available tools in registration order and
// dispatches calls to them.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
	}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Catalog returns the registered tools in registration order.
func (r *Registry) Catalog() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, Spec{Name: t.Name, Description: t.Description})
	}
	return out
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Invoke runs the named tool.
//
// The returned Result is always safe to show to the reasoner. The
// error is non-nil in three cases only: the tool does not exist
// (*ErrToolUnavailable, recoverable), the handler reports its backing
// service down by returning [ErrUnavailable] (fatal), or ctx is done.
// Any other handler failure, including a dial error to a URL the
// reasoner chose, is folded into Result.Error.
func (r *Registry) Invoke(ctx context.Context, name, input string) (Result, error) {
	t := r.Get(name)
	if t == nil {
		err := &ErrToolUnavailable{ToolName: name}
		return ErrorResult("%s is not a valid tool, try one of [%s].", name, strings.Join(r.Names(), ", ")), err
	}

	callCtx := ctx
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := t.Handler(callCtx, input)
	elapsed := time.Since(start)

	if err == nil {
		r.logger.Debug("tool call complete",
			"tool", name, "items", len(res.Items), "failed", res.Failed(), "elapsed", elapsed)
		return res, nil
	}

	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	if errors.Is(err, ErrUnavailable) {
		return ErrorResult("%s is unavailable", name), err
	}

	r.logger.Warn("tool call failed", "tool", name, "error", err, "elapsed", elapsed)
	return Result{Error: err.Error()}, nil
}
