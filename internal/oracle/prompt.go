// internal/oracle/prompt.go
package oracle

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// systemPrompt frames the model as a browser operator and pins the reply
// format to a single JSON object.
const systemPrompt = `You are a browser automation operator. You are shown a screenshot of the
current page with numbered red markers on the interactive elements, a list
describing those elements, the user's goal, and the outcomes of your previous
steps.

Decide the single next step toward the goal. Reply with ONE JSON object and
nothing else, in one of these forms:

{"action": "click", "element_id": <number>, "rationale": "<short reason>"}
{"action": "type", "element_id": <number>, "text": "<text to enter>", "rationale": "..."}
{"action": "scroll", "direction": "up"|"down", "amount": <pixels, optional>, "rationale": "..."}
{"action": "wait", "rationale": "..."}
{"action": "navigate", "url": "<absolute url>", "rationale": "..."}
{"action": "go_back", "rationale": "..."}
{"action": "retry", "rationale": "..."}
{"action": "answer", "text": "<final answer to the user's goal>", "rationale": "..."}

Rules:
- element_id must come from the element list below; never invent one.
- Use "answer" as soon as the goal is satisfied or clearly impossible.
- Prefer clicking and typing over navigating when the page already offers
  what you need.`

// BuildPrompt renders the user-turn text: goal, element snapshot, and the
// step history so far.
func BuildPrompt(query string, elements []schemas.ElementDescriptor, history []string) string {
	var b strings.Builder

	b.WriteString("GOAL: ")
	b.WriteString(query)
	b.WriteString("\n\nINTERACTIVE ELEMENTS:\n")
	for _, el := range elements {
		b.WriteString(renderElement(el))
		b.WriteByte('\n')
	}

	if len(history) > 0 {
		b.WriteString("\nPREVIOUS STEPS:\n")
		for i, line := range history {
			fmt.Fprintf(&b, "%d. %s\n", i+1, line)
		}
	}

	b.WriteString("\nWhat is the next step?")
	return b.String()
}

// renderElement formats one element as a single line: marker number, tag,
// salient attributes, visible text.
func renderElement(el schemas.ElementDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] <%s", el.ID, el.TagName)
	for _, name := range []string{"type", "role", "name", "placeholder", "aria-label", "href"} {
		if v, ok := el.Attributes[name]; ok {
			fmt.Fprintf(&b, " %s=%q", name, v)
		}
	}
	b.WriteByte('>')
	if el.Text != "" {
		fmt.Fprintf(&b, " %q", el.Text)
	}
	if el.Scrollable {
		b.WriteString(" (scrollable)")
	}
	return b.String()
}

// ParseDecision extracts a Decision from raw model output. Code fences and
// surrounding prose are tolerated. Output that yields no recognizable JSON
// object produces a zero-Kind Decision, not an error; the caller treats an
// unrecognized kind as a terminal step.
func ParseDecision(raw string) schemas.Decision {
	text := strings.TrimSpace(raw)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	// Tolerate prose around the object by slicing the outermost braces.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return schemas.Decision{}
	}

	var d schemas.Decision
	if err := json.UnmarshalFromString(text[start:end+1], &d); err != nil {
		return schemas.Decision{}
	}
	return d
}
