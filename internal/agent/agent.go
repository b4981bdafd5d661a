// Package agent runs the Reason-Act cycle that answers one question:
// call the reasoner, parse its output, dispatch the requested tool, feed
// the observation back, and stop at a final answer or when the cycle
// budget is spent.
package agent

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/nugget/sundevil-helper/internal/tools"
)

// DefaultMaxCycles bounds the THINKING entries of one run when the
// configuration leaves it unset. The prompt's failure rule quotes the
// same number.
const DefaultMaxCycles = 5

// ObservationStop is the stop sequence passed to the reasoner so it
// never writes its own observations.
const ObservationStop = "\nObservation:"

// OutcomeKind tags how a cycle or a run ended.
type OutcomeKind int

const (
	// Answered means the reasoner produced a final answer.
	Answered OutcomeKind = iota + 1
	// Exhausted means the cycle budget ran out without a final answer.
	Exhausted
	// ReasonerError means one reasoner output could not be acted on.
	// It only ever describes a single cycle; a run never ends this way.
	ReasonerError
)

func (k OutcomeKind) String() string {
	switch k {
	case Answered:
		return "answered"
	case Exhausted:
		return "exhausted"
	case ReasonerError:
		return "reasoner_error"
	default:
		return "unknown"
	}
}

// Outcome is a tagged result. Text is the answer for Answered and the
// fallback for Exhausted; Detail explains a ReasonerError.
type Outcome struct {
	Kind   OutcomeKind
	Text   string
	Detail string
}

// Step records one cycle that did not end the run.
type Step struct {
	Cycle       int
	Thought     string
	Action      string
	ActionInput string

	// Result is set when a tool was dispatched (including unknown
	// tools, which yield an error result).
	Result *tools.Result

	// Outcome is set to ReasonerError when the cycle's output was
	// malformed or the reasoner call itself failed.
	Outcome *Outcome

	// Observation is the exact text fed back to the reasoner.
	Observation string

	// Log is the raw reasoner output for this cycle.
	Log string
}

// Run is the full record of one question's cycle loop.
type Run struct {
	RequestID string
	Outcome   Outcome
	Steps     []Step
	Cycles    int
	TokensIn  int
	TokensOut int
	Elapsed   time.Duration
}

// Answer returns the user-visible answer text.
func (r *Run) Answer() string { return r.Outcome.Text }

// NewRequestID returns a short random id used to correlate logs and
// events for one question.
func NewRequestID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return "r_" + hex.EncodeToString(b[:])
}
