// Filename: internal/oracle/prompt_test.go
package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

func sampleElements() []schemas.ElementDescriptor {
	return []schemas.ElementDescriptor{
		{
			ID:      0,
			TagName: "input",
			Attributes: map[string]string{
				"type":        "text",
				"placeholder": "Search",
			},
		},
		{
			ID:         1,
			TagName:    "button",
			Text:       "Go",
			Scrollable: false,
		},
		{
			ID:         2,
			TagName:    "div",
			Text:       "Results",
			Scrollable: true,
		},
	}
}

func TestBuildPromptRendersGoalElementsAndHistory(t *testing.T) {
	prompt := BuildPrompt("find cheap flights", sampleElements(), []string{
		"typed \"flights\" into element 0 -> ok",
		"clicked element 1 -> failed: element vanished",
	})

	assert.Contains(t, prompt, "GOAL: find cheap flights")
	assert.Contains(t, prompt, `[0] <input type="text" placeholder="Search">`)
	assert.Contains(t, prompt, `[1] <button> "Go"`)
	assert.Contains(t, prompt, `[2] <div> "Results" (scrollable)`)
	assert.Contains(t, prompt, "PREVIOUS STEPS:\n1. typed")
	assert.Contains(t, prompt, "2. clicked element 1")
}

func TestBuildPromptOmitsEmptyHistory(t *testing.T) {
	prompt := BuildPrompt("goal", sampleElements(), nil)
	assert.NotContains(t, prompt, "PREVIOUS STEPS")
}

func TestParseDecisionCleanJSON(t *testing.T) {
	d := ParseDecision(`{"action": "click", "element_id": 5, "rationale": "the search button"}`)
	assert.Equal(t, schemas.DecisionClick, d.Kind)
	require.NotNil(t, d.ElementID)
	assert.Equal(t, 5, *d.ElementID)
	assert.Equal(t, "the search button", d.Rationale)
}

func TestParseDecisionStripsCodeFence(t *testing.T) {
	raw := "```json\n{\"action\": \"type\", \"element_id\": 0, \"text\": \"hello\"}\n```"
	d := ParseDecision(raw)
	assert.Equal(t, schemas.DecisionType, d.Kind)
	assert.Equal(t, "hello", d.Text)
}

func TestParseDecisionToleratesSurroundingProse(t *testing.T) {
	raw := `Sure! Here is my decision: {"action": "scroll", "direction": "down", "amount": 500} Hope that helps.`
	d := ParseDecision(raw)
	assert.Equal(t, schemas.DecisionScroll, d.Kind)
	assert.Equal(t, "down", d.Direction)
	assert.Equal(t, 500, d.Amount)
}

func TestParseDecisionAnswer(t *testing.T) {
	d := ParseDecision(`{"action": "answer", "text": "The total is $42.", "rationale": "visible in cart"}`)
	assert.Equal(t, schemas.DecisionAnswer, d.Kind)
	assert.Equal(t, "The total is $42.", d.Text)
}

func TestParseDecisionMalformedYieldsZeroKind(t *testing.T) {
	for _, raw := range []string{
		"",
		"I cannot decide.",
		"{not json at all",
		`["an", "array"]`,
		"``` ```",
	} {
		d := ParseDecision(raw)
		assert.Equal(t, schemas.DecisionKind(""), d.Kind, "input %q", raw)
	}
}
