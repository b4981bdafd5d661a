package prompts

import (
	"fmt"
	"strings"
	"time"

	"github.com/nugget/sundevil-helper/internal/memory"
	"github.com/nugget/sundevil-helper/internal/tools"
)

// Defaults for the persona section.
const (
	DefaultPersona  = "ASU Sun Devil Helper"
	DefaultLocation = "Tempe, Arizona"
	DefaultFallback = "I don't get what you mean, can you explain it?"
)

// Markers the reasoner is instructed to emit. The agent's parser keys on
// the same strings.
const (
	MarkerThought     = "Thought:"
	MarkerAction      = "Action:"
	MarkerActionInput = "Action Input:"
	MarkerObservation = "Observation:"
	MarkerFinalAnswer = "Final Answer:"
)

// DateLayout renders the current date in the context section.
const DateLayout = "Monday, 01-02-2006"

// PromptInput is everything Render needs. Empty strings select the
// defaults above; MaxCycles must be the controller's actual budget.
type PromptInput struct {
	Persona   string
	Location  string
	Now       time.Time
	Tools     []tools.Spec
	MaxCycles int
	Fallback  string
	History   []memory.Turn
	Question  string
}

const personaSection = `# [SYSTEM INSTRUCTIONS]

## 1. Persona
You are "%s," an expert AI assistant specializing in Arizona State University. Your sole purpose is to provide accurate, helpful, and up-to-date information about ASU resources, events, deadlines, and campus life.

## 2. Context
- Current Date: %s
- Current Location: %s

## 3. Tool Definition
You have access to the following tools:

%s
`

const instructionsSection = `
## 4. Core Instructions & Rules
You MUST operate in a strict "Reason-Act" cycle to answer the user's question. The cycle is: Thought -> Action -> Observation.

- **Thought**: First, reason about the user's question. Break it down into smaller, searchable steps. Strategize what information you need and how you will get it. Always think step-by-step.
- **Action**: Based on your thought, execute ONE action from these available tools: %s
    - Write the tool name on the Action line and its input on the Action Input line.
    - **Query Best Practices**:
        1.  **Be Specific**: Always prefix your searches with "ASU" or "Arizona State University" to ensure relevance (e.g., ` + "`ASU academic calendar 2025`" + `).
        2.  **Use Keywords**: Include keywords like "deadline," "event," "resource," "tutoring," "scholarship," etc.
        3.  **Use Dates**: Use the current date to determine the timeframe for questions like "this week" or "next month."
        4.  **Prioritize Official Sources**: When you receive search results, mentally prioritize links from the asu.edu domain.
- **Observation**: After your action, you will be given an observation containing the results.
- **Repeat**: Continue the ` + "`Thought -> Action -> Observation`" + ` cycle until you are confident you have enough information to provide a complete and accurate answer.
- **Handling Failure**: If after %d full cycles, your searches have not yielded any useful information or the user's request is still unclear, you MUST stop. Do not try to search again.
- **Final Answer**:
    - If you successfully find the information, provide your comprehensive response prefixed with ` + "`Final Answer:`" + `. Do NOT use a tool after you have decided on a final answer.
    - If you must stop due to the **Handling Failure** rule, your ONLY response MUST be ` + "`Final Answer: %s`" + `
- **Accuracy**: Always ensure your final answer is factually accurate based on the observations you received. Do NOT fabricate information.
`

const examplesSection = `
## 5. Examples (Few-Shot Learning)

### Example 1:
User: where can I find tutoring for my calculus class?

Thought: The user is asking for a specific academic resource at ASU: tutoring for calculus. I should search for ASU's official tutoring centers. I will start with a broad search and narrow it down if needed.
Action: %[1]s
Action Input: ASU calculus tutoring services
Observation: Search results indicate that the University Academic Success Programs (UASP) at ASU offers tutoring for many subjects, including mathematics. They have locations at Tempe, Downtown, Polytechnic, and West campuses, as well as online options.
Thought: The observation confirms that UASP is the primary resource. I have enough information to answer the user's question directly and provide helpful details.
Final Answer: You can find tutoring for your calculus class through ASU's University Academic Success Programs (UASP). They offer free, appointment-based and drop-in tutoring services for many math courses. You can find their schedules and locations on the official UASP page on the asu.edu website.

### Example 2:
User: Are there any big events happening at the Tempe campus next week?

Thought: The user is asking about events on the Tempe campus for "next week." The current date is Saturday, September 27, 2025. "Next week" refers to the week of Sunday, September 28th to Saturday, October 4th, 2025. I need to search for ASU events within this specific date range and location.
Action: %[1]s
Action Input: ASU Tempe campus events September 28 - October 4 2025
Observation: Search results show the ASU Events Calendar. Key events listed for that week include the "Fall 2025 Fulton Schools of Engineering Career Fair" on October 1st and 2nd at the Memorial Union, and an ASU Gammage performance of "Wicked" on October 3rd.
Thought: I have found a major academic event (career fair) and a major cultural event (Gammage show). This provides a good summary for the user. I can now form a final answer.
Final Answer: Yes, there are several major events on the Tempe campus next week. The Ira A. Fulton Schools of Engineering is hosting its Fall Career Fair on October 1st and 2nd at the Memorial Union. Additionally, ASU Gammage is showing "Wicked" on Friday, October 3rd. You can find more events listed on the official ASU Events Calendar website.
`

const formatSection = `
# [PROMPT START]

You have access to the following tools:

%s

Use the following format:

Question: the input question you must answer
Thought: you should always think about what to do
Action: the action to take, should be one of [%s]
Action Input: the input to the action
Observation: the result of the action
... (this Thought/Action/Action Input/Observation can repeat N times)
Thought: I now know the final answer
Final Answer: the final answer to the original input question

Begin!

`

// Render builds the ReAct prompt, ending with the "Thought:" cue the
// reasoner continues from. The caller appends the running transcript.
func Render(in PromptInput) string {
	persona := orDefault(in.Persona, DefaultPersona)
	location := orDefault(in.Location, DefaultLocation)
	fallback := orDefault(in.Fallback, DefaultFallback)

	catalog := renderCatalog(in.Tools)
	names := ToolNames(in.Tools)

	var sb strings.Builder
	fmt.Fprintf(&sb, personaSection, persona, in.Now.Format(DateLayout), location, catalog)
	fmt.Fprintf(&sb, instructionsSection, names, in.MaxCycles, fallback)
	fmt.Fprintf(&sb, examplesSection, exemplarTool(in.Tools))
	fmt.Fprintf(&sb, formatSection, catalog, names)

	if h := RenderHistory(in.History); h != "" {
		sb.WriteString(h)
		sb.WriteString("\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(in.Question)
	sb.WriteString("\n")
	sb.WriteString(MarkerThought)
	return sb.String()
}

// RenderHistory formats prior turns the way the reasoner saw them
// originally: one "Human:" or "AI:" line per turn.
func RenderHistory(turns []memory.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case memory.RoleUser:
			lines = append(lines, "Human: "+t.Content)
		default:
			lines = append(lines, "AI: "+t.Content)
		}
	}
	return strings.Join(lines, "\n")
}

// ToolNames joins the catalog names in order, comma separated.
func ToolNames(specs []tools.Spec) string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return strings.Join(names, ", ")
}

func renderCatalog(specs []tools.Spec) string {
	if len(specs) == 0 {
		return "(no tools available)"
	}
	lines := make([]string, len(specs))
	for i, s := range specs {
		lines[i] = s.Name + ": " + s.Description
	}
	return strings.Join(lines, "\n")
}

// exemplarTool is the tool name used in the few-shot examples: the
// first catalog entry, so the examples never name a missing tool.
func exemplarTool(specs []tools.Spec) string {
	if len(specs) == 0 {
		return "web_search"
	}
	return specs[0].Name
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
