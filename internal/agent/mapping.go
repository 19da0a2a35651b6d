// internal/agent/mapping.go
package agent

import (
	"fmt"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// Durations (ms) for the decision kinds that degrade to a wait.
const (
	explicitWaitMs = 5000
	retryWaitMs    = 2000
)

// MapDecision translates an oracle decision into the action to execute. It is
// total: every input, including kinds outside the known set, yields a defined
// result. terminal is true when the run should end instead of acting
// (DecisionAnswer, or an unrecognized kind from a misbehaving oracle).
//
// go_back has no protocol primitive; it replays the previous URL from the
// run's trail, or degrades to a short wait when the trail is empty.
func MapDecision(d schemas.Decision, previousURL string) (action schemas.Action, terminal bool) {
	switch d.Kind {
	case schemas.DecisionClick:
		return schemas.Action{Type: schemas.ActionClick, ElementID: d.ElementID}, false

	case schemas.DecisionType:
		return schemas.Action{Type: schemas.ActionTypeText, ElementID: d.ElementID, Text: d.Text}, false

	case schemas.DecisionScroll:
		dir := schemas.ScrollDirection(d.Direction)
		if dir != schemas.ScrollUp {
			dir = schemas.ScrollDown
		}
		return schemas.Action{Type: schemas.ActionScroll, Direction: dir, Amount: d.Amount}, false

	case schemas.DecisionWait:
		return schemas.Action{Type: schemas.ActionWait, DurationMs: explicitWaitMs}, false

	case schemas.DecisionNavigate:
		return schemas.Action{Type: schemas.ActionNavigate, URL: d.URL}, false

	case schemas.DecisionGoBack:
		if previousURL != "" {
			return schemas.Action{Type: schemas.ActionNavigate, URL: previousURL}, false
		}
		return schemas.Action{Type: schemas.ActionWait, DurationMs: retryWaitMs}, false

	case schemas.DecisionRetry:
		return schemas.Action{Type: schemas.ActionWait, DurationMs: retryWaitMs}, false

	case schemas.DecisionAnswer:
		return schemas.Action{Type: schemas.ActionDone}, true

	default:
		return schemas.Action{Type: schemas.ActionDone}, true
	}
}

// describeStep renders a one-line history entry for the oracle's next prompt.
func describeStep(d schemas.Decision, err error) string {
	var what string
	switch d.Kind {
	case schemas.DecisionClick:
		if d.ElementID != nil {
			what = fmt.Sprintf("clicked element %d", *d.ElementID)
		} else {
			what = "clicked"
		}
	case schemas.DecisionType:
		what = fmt.Sprintf("typed %q", d.Text)
		if d.ElementID != nil {
			what += fmt.Sprintf(" into element %d", *d.ElementID)
		}
	case schemas.DecisionScroll:
		what = "scrolled " + d.Direction
		if what == "scrolled " {
			what = "scrolled down"
		}
	case schemas.DecisionWait:
		what = "waited"
	case schemas.DecisionNavigate:
		what = "navigated to " + d.URL
	case schemas.DecisionGoBack:
		what = "went back"
	case schemas.DecisionRetry:
		what = "paused to retry"
	default:
		what = "did nothing (" + string(d.Kind) + ")"
	}

	if err != nil {
		return what + " -> failed: " + err.Error()
	}
	return what + " -> ok"
}
