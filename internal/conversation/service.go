// Package conversation answers questions within a conversation: it
// reads the conversation's memory window, renders the prompt, runs the
// cycle controller, packages the answer and commits the exchange.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nugget/sundevil-helper/internal/agent"
	"github.com/nugget/sundevil-helper/internal/events"
	"github.com/nugget/sundevil-helper/internal/memory"
	"github.com/nugget/sundevil-helper/internal/prompts"
	"github.com/nugget/sundevil-helper/internal/tools"
)

// DefaultID is used when the caller does not identify a conversation.
const DefaultID memory.ConversationID = "default"

// MaxQuestionLen bounds a question's length in characters after trimming.
const MaxQuestionLen = 1000

// ErrInvalidQuestion is returned for empty or over-long questions.
var ErrInvalidQuestion = errors.New("invalid question")

// Runner executes the cycle loop for a rendered prompt.
// [*agent.Controller] satisfies it.
type Runner interface {
	Run(ctx context.Context, requestID, prompt string) (*agent.Run, error)
	Catalog() []tools.Spec
	MaxCycles() int
	Fallback() string
}

// Options configures the prompt context.
type Options struct {
	Persona  string
	Location string
	TimeZone *time.Location   // nil means UTC
	Now      func() time.Time // nil means time.Now
}

// Reply is what a caller receives for one answered question.
type Reply struct {
	Question string `json:"question"`
	agent.AnswerResult
	History []memory.Turn `json:"conversation_history,omitempty"`

	RequestID string            `json:"-"`
	Outcome   agent.OutcomeKind `json:"-"`
	Cycles    int               `json:"-"`
}

// Summary describes a conversation as a whole.
type Summary struct {
	ConversationID memory.ConversationID `json:"conversation_id"`
	TotalQuestions int                   `json:"total_questions"`
	History        []memory.Turn         `json:"conversation_history"`
	Window         int                   `json:"window"`
}

// Service serves questions for any number of conversations. Questions
// in the same conversation are answered one at a time; different
// conversations proceed in parallel.
type Service struct {
	runner Runner
	store  memory.Store
	opts   Options
	bus    *events.Bus
	logger *slog.Logger

	mu    sync.Mutex
	locks map[memory.ConversationID]*idLock
}

type idLock struct {
	sem  chan struct{}
	refs int
}

// NewService creates a conversation service. bus may be nil.
func NewService(runner Runner, store memory.Store, opts Options, bus *events.Bus, logger *slog.Logger) *Service {
	if opts.TimeZone == nil {
		opts.TimeZone = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		runner: runner,
		store:  store,
		opts:   opts,
		bus:    bus,
		logger: logger,
		locks:  make(map[memory.ConversationID]*idLock),
	}
}

// ValidateQuestion trims q and checks its length.
func ValidateQuestion(q string) (string, error) {
	q = strings.TrimSpace(q)
	n := utf8.RuneCountInString(q)
	switch {
	case n == 0:
		return "", fmt.Errorf("%w: question is empty", ErrInvalidQuestion)
	case n > MaxQuestionLen:
		return "", fmt.Errorf("%w: question is %d characters, limit is %d", ErrInvalidQuestion, n, MaxQuestionLen)
	}
	return q, nil
}

// Ask answers question within conversation id. An empty id selects
// [DefaultID].
//
// The exchange is committed to memory only when the run completes. A
// fatal provider error or a cancelled ctx returns an error and leaves
// the conversation untouched. Exhausting the cycle budget is not an
// error: the reply carries the fallback answer.
func (s *Service) Ask(ctx context.Context, id memory.ConversationID, question string) (*Reply, error) {
	q, err := ValidateQuestion(question)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = DefaultID
	}

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	requestID := agent.NewRequestID()
	start := time.Now()
	log := s.logger.With("request_id", requestID, "conversation_id", string(id))
	log.Info("question received", "question_len", len(q))
	s.bus.Emit(events.SourceService, events.KindRequestStart, map[string]any{
		"request_id":      requestID,
		"conversation_id": string(id),
		"question_len":    len(q),
	})

	history, err := s.store.History(ctx, id)
	if err != nil {
		return nil, s.fail(log, requestID, id, start, fmt.Errorf("load history: %w", err))
	}

	prompt := prompts.Render(prompts.PromptInput{
		Persona:   s.opts.Persona,
		Location:  s.opts.Location,
		Now:       s.opts.Now().In(s.opts.TimeZone),
		Tools:     s.runner.Catalog(),
		MaxCycles: s.runner.MaxCycles(),
		Fallback:  s.runner.Fallback(),
		History:   history,
		Question:  q,
	})

	run, err := s.runner.Run(ctx, requestID, prompt)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		s.complete(requestID, id, "error", 0, 0, start)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Info("question cancelled", "error", err)
		} else {
			log.Error("question failed", "error", err)
		}
		return nil, err
	}

	answer := agent.Synthesize(run.Answer(), run.Steps)
	if err := s.store.Append(ctx, id, memory.Exchange(q, run.Answer())...); err != nil {
		return nil, s.fail(log, requestID, id, start, fmt.Errorf("save exchange: %w", err))
	}

	turns, err := s.store.History(ctx, id)
	if err != nil {
		return nil, s.fail(log, requestID, id, start, fmt.Errorf("load history: %w", err))
	}

	s.complete(requestID, id, run.Outcome.Kind.String(), run.Cycles, len(answer.Sources), start)
	log.Info("question complete",
		"outcome", run.Outcome.Kind.String(),
		"cycles", run.Cycles,
		"sources", len(answer.Sources),
		"elapsed", time.Since(start),
	)

	return &Reply{
		Question:     q,
		AnswerResult: answer,
		History:      turns,
		RequestID:    requestID,
		Outcome:      run.Outcome.Kind,
		Cycles:       run.Cycles,
	}, nil
}

// History returns the turns currently remembered for id.
func (s *Service) History(ctx context.Context, id memory.ConversationID) ([]memory.Turn, error) {
	if id == "" {
		id = DefaultID
	}
	return s.store.History(ctx, id)
}

// Summary returns the number of questions answered since the last
// clear together with the remembered turns.
func (s *Service) Summary(ctx context.Context, id memory.ConversationID) (*Summary, error) {
	if id == "" {
		id = DefaultID
	}
	st, err := s.store.Stats(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("conversation stats: %w", err)
	}
	turns, err := s.store.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return &Summary{
		ConversationID: id,
		TotalQuestions: st.Total,
		History:        turns,
		Window:         st.Window,
	}, nil
}

// Clear forgets conversation id. It waits for any question in flight
// on the same conversation.
func (s *Service) Clear(ctx context.Context, id memory.ConversationID) error {
	if id == "" {
		id = DefaultID
	}
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.store.Clear(ctx, id); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	s.logger.Info("conversation cleared", "conversation_id", string(id))
	return nil
}

// fail closes out a request that broke on the memory store.
func (s *Service) fail(log *slog.Logger, requestID string, id memory.ConversationID, start time.Time, err error) error {
	s.complete(requestID, id, "error", 0, 0, start)
	log.Error("question failed", "error", err)
	return err
}

func (s *Service) complete(requestID string, id memory.ConversationID, outcome string, cycles, sources int, start time.Time) {
	s.bus.Emit(events.SourceService, events.KindRequestComplete, map[string]any{
		"request_id":      requestID,
		"conversation_id": string(id),
		"outcome":         outcome,
		"cycles":          cycles,
		"sources":         sources,
		"elapsed_ms":      time.Since(start).Milliseconds(),
	})
}

// lock acquires the per-conversation semaphore, giving up when ctx is
// done. Entries are dropped once no caller holds or waits on them.
func (s *Service) lock(ctx context.Context, id memory.ConversationID) (func(), error) {
	s.mu.Lock()
	l := s.locks[id]
	if l == nil {
		l = &idLock{sem: make(chan struct{}, 1)}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			s.release(id, l)
		}, nil
	case <-ctx.Done():
		s.release(id, l)
		return nil, ctx.Err()
	}
}

func (s *Service) release(id memory.ConversationID, l *idLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, id)
	}
}
