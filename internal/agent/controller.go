package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/sundevil-helper/internal/config"
	"github.com/nugget/sundevil-helper/internal/events"
	"github.com/nugget/sundevil-helper/internal/llm"
	"github.com/nugget/sundevil-helper/internal/prompts"
	"github.com/nugget/sundevil-helper/internal/tools"
)

// Reasoner completes a raw prompt. [llm.Client] satisfies it.
type Reasoner interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error)
}

// Dispatcher runs tools by name. [*tools.Registry] satisfies it.
type Dispatcher interface {
	Invoke(ctx context.Context, name, input string) (tools.Result, error)
	Catalog() []tools.Spec
}

// Config holds the per-controller knobs.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
	MaxCycles   int    // zero selects DefaultMaxCycles
	Fallback    string // empty selects prompts.DefaultFallback
}

// Controller drives the Reason-Act loop. It holds no per-question
// state, so one Controller serves any number of concurrent runs.
type Controller struct {
	reasoner   Reasoner
	dispatcher Dispatcher
	cfg        Config
	bus        *events.Bus
	logger     *slog.Logger
}

// NewController creates a controller. bus may be nil.
func NewController(reasoner Reasoner, dispatcher Dispatcher, cfg Config, bus *events.Bus, logger *slog.Logger) *Controller {
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = DefaultMaxCycles
	}
	if strings.TrimSpace(cfg.Fallback) == "" {
		cfg.Fallback = prompts.DefaultFallback
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		reasoner:   reasoner,
		dispatcher: dispatcher,
		cfg:        cfg,
		bus:        bus,
		logger:     logger,
	}
}

// MaxCycles returns the effective cycle budget.
func (c *Controller) MaxCycles() int { return c.cfg.MaxCycles }

// Fallback returns the text answered when the budget is spent.
func (c *Controller) Fallback() string { return c.cfg.Fallback }

// Catalog returns the tools the reasoner may call, in registration order.
func (c *Controller) Catalog() []tools.Spec { return c.dispatcher.Catalog() }

// IsFatal reports whether err means a reasoner or tool provider could
// not be reached at all.
func IsFatal(err error) bool {
	return errors.Is(err, llm.ErrUnavailable) || errors.Is(err, tools.ErrUnavailable)
}

// Run answers the question whose rendered prompt is given. The prompt
// must end with the "Thought:" cue.
//
// Run returns an error only when ctx is done or a provider is
// unreachable (see [IsFatal]). Malformed output, unknown tools, failed
// tool calls and failed reasoner calls are fed back as observations and
// each consume one cycle; running out of cycles yields an Exhausted
// outcome carrying the fallback text.
func (c *Controller) Run(ctx context.Context, requestID, prompt string) (*Run, error) {
	if requestID == "" {
		requestID = NewRequestID()
	}
	start := time.Now()
	log := c.logger.With("request_id", requestID)
	run := &Run{RequestID: requestID}

	var scratch strings.Builder
	for cycle := 1; cycle <= c.cfg.MaxCycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		run.Cycles = cycle
		c.emit(events.KindCycleStart, map[string]any{
			"request_id": requestID,
			"cycle":      cycle,
			"max_cycles": c.cfg.MaxCycles,
		})

		comp, err := c.reasoner.Complete(ctx, llm.CompletionRequest{
			Model:       c.cfg.Model,
			Prompt:      prompt + scratch.String(),
			Stop:        []string{ObservationStop},
			Temperature: c.cfg.Temperature,
			MaxTokens:   c.cfg.MaxTokens,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if IsFatal(err) {
				log.Error("reasoner unreachable", "cycle", cycle, "error", err)
				return nil, err
			}
			log.Warn("reasoner call failed", "cycle", cycle, "error", err)
			detail := fmt.Sprintf("reasoner call failed: %v", err)
			run.Steps = append(run.Steps, Step{
				Cycle:   cycle,
				Outcome: &Outcome{Kind: ReasonerError, Detail: detail},
			})
			c.emit(events.KindParseError, map[string]any{
				"request_id": requestID,
				"cycle":      cycle,
				"reason":     "reasoner call failed",
			})
			continue
		}

		run.TokensIn += comp.InputTokens
		run.TokensOut += comp.OutputTokens
		text := llm.TrimAtStop(comp.Text, []string{ObservationStop})

		log.Log(ctx, config.LevelTrace, "reasoner output", "cycle", cycle, "text", text)
		c.emit(events.KindLLMResponse, map[string]any{
			"request_id":  requestID,
			"cycle":       cycle,
			"model":       comp.Model,
			"tokens_in":   comp.InputTokens,
			"tokens_out":  comp.OutputTokens,
			"duration_ms": comp.Duration.Milliseconds(),
		})

		d := Parse(text)
		step := Step{Cycle: cycle, Thought: d.Thought, Log: text}

		switch d.Kind {
		case DecisionAnswer:
			run.Outcome = Outcome{Kind: Answered, Text: d.Answer}
			run.Elapsed = time.Since(start)
			log.Info("question answered", "cycles", cycle, "steps", len(run.Steps), "elapsed", run.Elapsed)
			return run, nil

		case DecisionMalformed:
			step.Outcome = &Outcome{Kind: ReasonerError, Detail: d.Reason}
			step.Observation = d.Reason
			log.Debug("malformed reasoner output", "cycle", cycle, "reason", d.Reason)
			c.emit(events.KindParseError, map[string]any{
				"request_id": requestID,
				"cycle":      cycle,
				"reason":     d.Reason,
			})

		case DecisionAction:
			step.Action = d.Action
			step.ActionInput = d.ActionInput
			res, err := c.dispatch(ctx, requestID, cycle, d.Action, d.ActionInput)
			if err != nil && !errors.Is(err, tools.ErrUnknownTool) {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				log.Error("tool unreachable", "tool", d.Action, "error", err)
				return nil, err
			}
			step.Result = &res
			step.Observation = res.Observation()
		}

		run.Steps = append(run.Steps, step)
		scratch.WriteString(text)
		scratch.WriteString("\n" + prompts.MarkerObservation + " ")
		scratch.WriteString(step.Observation)
		scratch.WriteString("\n" + prompts.MarkerThought + " ")
	}

	run.Outcome = Outcome{Kind: Exhausted, Text: c.cfg.Fallback}
	run.Elapsed = time.Since(start)
	log.Info("cycle budget exhausted", "cycles", run.Cycles, "elapsed", run.Elapsed)
	return run, nil
}

func (c *Controller) dispatch(ctx context.Context, requestID string, cycle int, name, input string) (tools.Result, error) {
	c.emit(events.KindToolCall, map[string]any{
		"request_id": requestID,
		"cycle":      cycle,
		"tool":       name,
	})
	start := time.Now()
	res, err := c.dispatcher.Invoke(ctx, name, input)
	c.emit(events.KindToolDone, map[string]any{
		"request_id":  requestID,
		"tool":        name,
		"ok":          err == nil && !res.Failed(),
		"items":       len(res.Items),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return res, err
}

func (c *Controller) emit(kind string, data map[string]any) {
	c.bus.Emit(events.SourceAgent, kind, data)
}
