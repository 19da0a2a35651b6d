// api/schemas/decisions.go
package schemas

// DecisionKind enumerates every verdict the decision oracle can emit. The
// agent loop maps each kind to exactly one Action (or to the terminal signal);
// anything it cannot recognize degrades to the terminal signal so a misbehaving
// oracle cannot crash a run.
type DecisionKind string

const (
	DecisionClick    DecisionKind = "click"
	DecisionType     DecisionKind = "type"
	DecisionScroll   DecisionKind = "scroll"
	DecisionWait     DecisionKind = "wait"
	DecisionGoBack   DecisionKind = "go_back"
	DecisionNavigate DecisionKind = "navigate"
	DecisionAnswer   DecisionKind = "answer"
	DecisionRetry    DecisionKind = "retry"
)

// Decision is the oracle's reply for one perception-action cycle.
type Decision struct {
	Kind      DecisionKind `json:"action"`
	ElementID *int         `json:"element_id,omitempty"`
	Text      string       `json:"text,omitempty"`
	Direction string       `json:"direction,omitempty"`
	Amount    int          `json:"amount,omitempty"`
	URL       string       `json:"url,omitempty"`
	// Rationale is the oracle's free-text justification. For DecisionAnswer it
	// carries the final answer shown to the user.
	Rationale string `json:"rationale"`
}
