package prompts

import (
	"strings"
	"testing"
	"time"

	"github.com/nugget/sundevil-helper/internal/memory"
	"github.com/nugget/sundevil-helper/internal/tools"
)

var testNow = time.Date(2025, time.September, 27, 10, 0, 0, 0, time.UTC)

func testInput() PromptInput {
	return PromptInput{
		Now: testNow,
		Tools: []tools.Spec{
			{Name: "tavily_search_results_json", Description: "A search engine."},
			{Name: "web_fetch", Description: "Reads one page."},
		},
		MaxCycles: 5,
		Question:  "Are there any big events happening at the Tempe campus next week?",
	}
}

func TestRender_SectionOrder(t *testing.T) {
	out := Render(testInput())

	order := []string{
		"## 1. Persona",
		"## 2. Context",
		"## 3. Tool Definition",
		"## 4. Core Instructions & Rules",
		"## 5. Examples (Few-Shot Learning)",
		"Use the following format:",
		"Question: Are there any big events",
	}
	last := -1
	for _, marker := range order {
		i := strings.Index(out, marker)
		if i < 0 {
			t.Fatalf("prompt missing %q", marker)
		}
		if i <= last {
			t.Errorf("%q appears out of order", marker)
		}
		last = i
	}
	if !strings.HasSuffix(out, "\nThought:") {
		t.Errorf("prompt should end with the Thought cue, ends with %q", out[len(out)-20:])
	}
}

func TestRender_Context(t *testing.T) {
	out := Render(testInput())

	if !strings.Contains(out, "- Current Date: Saturday, 09-27-2025") {
		t.Error("prompt should contain the rendered current date")
	}
	if !strings.Contains(out, "- Current Location: Tempe, Arizona") {
		t.Error("prompt should contain the default location")
	}
	if !strings.Contains(out, `You are "ASU Sun Devil Helper,"`) {
		t.Error("prompt should contain the default persona")
	}
}

func TestRender_ToolCatalogAndExemplars(t *testing.T) {
	out := Render(testInput())

	if !strings.Contains(out, "tavily_search_results_json: A search engine.\nweb_fetch: Reads one page.") {
		t.Error("prompt should list each tool with its description")
	}
	if !strings.Contains(out, "should be one of [tavily_search_results_json, web_fetch]") {
		t.Error("format block should list the tool names")
	}
	if got := strings.Count(out, "Action: tavily_search_results_json\nAction Input: "); got != 2 {
		t.Errorf("exemplars use the live tool name %d times, want 2", got)
	}
	if strings.Contains(out, "tavily_search[") {
		t.Error("exemplars should not use the bracket call syntax")
	}
}

func TestRender_BudgetAndFallback(t *testing.T) {
	in := testInput()
	in.MaxCycles = 3
	in.Fallback = "Could you rephrase that?"
	out := Render(in)

	if !strings.Contains(out, "If after 3 full cycles") {
		t.Error("failure rule should carry the configured budget")
	}
	if !strings.Contains(out, "`Final Answer: Could you rephrase that?`") {
		t.Error("failure rule should carry the configured fallback")
	}
}

func TestRender_History(t *testing.T) {
	in := testInput()
	in.History = memory.Exchange("where is the MU?", "The Memorial Union is on Cady Mall.")
	out := Render(in)

	want := "Begin!\n\nHuman: where is the MU?\nAI: The Memorial Union is on Cady Mall.\nQuestion: "
	if !strings.Contains(out, want) {
		t.Errorf("history should sit between Begin! and the question")
	}
}

func TestRender_NoHistory(t *testing.T) {
	out := Render(testInput())
	if !strings.Contains(out, "Begin!\n\nQuestion: ") {
		t.Error("without history the question should follow Begin! directly")
	}
}

func TestRender_Pure(t *testing.T) {
	if Render(testInput()) != Render(testInput()) {
		t.Error("Render should be deterministic")
	}
}

func TestRender_NoTools(t *testing.T) {
	in := testInput()
	in.Tools = nil
	out := Render(in)
	if !strings.Contains(out, "(no tools available)") {
		t.Error("empty catalog should be stated explicitly")
	}
}
