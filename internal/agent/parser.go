package agent

import (
	"regexp"
	"strings"

	"github.com/nugget/sundevil-helper/internal/prompts"
)

// Messages fed back to the reasoner when its output cannot be acted on.
const (
	msgMissingAction      = "Invalid Format: Missing 'Action:' after 'Thought:'"
	msgMissingActionInput = "Invalid Format: Missing 'Action Input:' after 'Action:'"
	msgEmptyAction        = "Invalid Format: Missing tool name after 'Action:'"
	msgEmptyFinalAnswer   = "Invalid Format: Missing answer text after 'Final Answer:'"
)

var (
	actionRe      = regexp.MustCompile(`(?s)Action\s*\d*\s*:[ \t]*(.*?)[\s]*Action\s*\d*\s*Input\s*\d*\s*:[\s]*(.*)`)
	actionLineRe  = regexp.MustCompile(`Action\s*\d*\s*:[ \t]*([^\n]*)`)
	bracketCallRe = regexp.MustCompile(`^([\w.-]+)\s*\[\s*(?:\w+\s*=\s*)?(.*?)\s*\]$`)
	// actionStartRe finds an action line trailing a final answer.
	actionStartRe = regexp.MustCompile(`(?m)^[ \t]*Action\s*\d*\s*(?:Input\s*\d*\s*)?:`)
)

// DecisionKind tags what a single reasoner output asks for.
type DecisionKind int

const (
	// DecisionMalformed means the output carried neither a usable final
	// answer nor a complete action.
	DecisionMalformed DecisionKind = iota
	// DecisionAnswer means the output carried a final answer.
	DecisionAnswer
	// DecisionAction means the output asked for one tool call.
	DecisionAction
)

// Decision is the parsed form of one reasoner output.
type Decision struct {
	Kind DecisionKind

	Thought string
	Answer  string // DecisionAnswer

	Action      string // DecisionAction
	ActionInput string // DecisionAction

	Reason string // DecisionMalformed, shown to the reasoner as the observation
}

// Parse reads one reasoner output. A final answer takes precedence over
// an action in the same output, and any action lines after it are
// dropped from the answer. Both the two-line form
//
//	Action: web_search
//	Action Input: ASU tutoring
//
// and the single-line form "Action: web_search[query="ASU tutoring"]"
// are accepted.
func Parse(text string) Decision {
	if i := strings.LastIndex(text, prompts.MarkerFinalAnswer); i >= 0 {
		answer := text[i+len(prompts.MarkerFinalAnswer):]
		if loc := actionStartRe.FindStringIndex(answer); loc != nil {
			answer = answer[:loc[0]]
		}
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return Decision{Kind: DecisionMalformed, Thought: thoughtOf(text[:i]), Reason: msgEmptyFinalAnswer}
		}
		return Decision{Kind: DecisionAnswer, Thought: thoughtOf(text[:i]), Answer: answer}
	}

	if m := actionRe.FindStringSubmatchIndex(text); m != nil {
		name, input := text[m[2]:m[3]], text[m[4]:m[5]]
		name = strings.TrimSpace(name)
		if call := bracketCallRe.FindStringSubmatch(name); call != nil {
			name = call[1]
		}
		if name == "" {
			return Decision{Kind: DecisionMalformed, Thought: thoughtOf(text[:m[0]]), Reason: msgEmptyAction}
		}
		return Decision{
			Kind:        DecisionAction,
			Thought:     thoughtOf(text[:m[0]]),
			Action:      name,
			ActionInput: cleanInput(input),
		}
	}

	m := actionLineRe.FindStringSubmatchIndex(text)
	if m == nil {
		return Decision{Kind: DecisionMalformed, Thought: thoughtOf(text), Reason: msgMissingAction}
	}
	thought := thoughtOf(text[:m[0]])
	line := strings.TrimSpace(text[m[2]:m[3]])
	if line == "" {
		return Decision{Kind: DecisionMalformed, Thought: thought, Reason: msgEmptyAction}
	}
	if call := bracketCallRe.FindStringSubmatch(line); call != nil {
		return Decision{
			Kind:        DecisionAction,
			Thought:     thought,
			Action:      call[1],
			ActionInput: cleanInput(call[2]),
		}
	}
	return Decision{Kind: DecisionMalformed, Thought: thought, Reason: msgMissingActionInput}
}

func thoughtOf(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, prompts.MarkerThought)
	return strings.TrimSpace(s)
}

func cleanInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Trim(s, `"`)
}
