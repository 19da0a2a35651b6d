// api/schemas/actions.go
package schemas

// ActionType enumerates the closed set of abstract actions the protocol layer
// can execute. Consumers must switch exhaustively; an unrecognized value is a
// programming error surfaced as ErrUnknownAction, never silent fallthrough.
type ActionType string

const (
	ActionClick    ActionType = "CLICK"
	ActionTypeText ActionType = "TYPE"
	ActionScroll   ActionType = "SCROLL"
	ActionWait     ActionType = "WAIT"
	ActionNavigate ActionType = "NAVIGATE"
	ActionDone     ActionType = "DONE"
)

// ScrollDirection is the vertical direction of a Scroll action.
type ScrollDirection string

const (
	ScrollUp   ScrollDirection = "up"
	ScrollDown ScrollDirection = "down"
)

// Action is the tagged union dispatched to a ProtocolSession. Exactly one of
// ElementID or explicit coordinates may drive Click/Scroll; Type without an
// ElementID types into whatever currently holds input focus.
type Action struct {
	Type ActionType `json:"type"`

	// ElementID references an element from the snapshot supplied alongside the
	// action. Nil means "use coordinates" (Click/Scroll) or "use current focus"
	// (Type).
	ElementID *int `json:"element_id,omitempty"`

	// Explicit viewport coordinates for Click/Scroll.
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`

	Text       string          `json:"text,omitempty"`        // Type
	Direction  ScrollDirection `json:"direction,omitempty"`   // Scroll
	Amount     int             `json:"amount,omitempty"`      // Scroll, wheel units
	DurationMs int             `json:"duration_ms,omitempty"` // Wait
	URL        string          `json:"url,omitempty"`         // Navigate
}

// IntentType enumerates the message contract the control plane accepts,
// independent of how the intent arrived.
type IntentType string

const (
	IntentCaptureScreenshot IntentType = "CAPTURE_SCREENSHOT"
	IntentMarkElements      IntentType = "MARK_ELEMENTS"
	IntentClearMarkers      IntentType = "CLEAR_MARKERS"
	IntentExecuteAction     IntentType = "EXECUTE_ACTION"
	IntentGetElements       IntentType = "GET_ELEMENTS"
)

// Intent is a single request routed to the currently active tab.
type Intent struct {
	Type     IntentType          `json:"type"`
	Action   *Action             `json:"action,omitempty"`   // EXECUTE_ACTION
	Elements []ElementDescriptor `json:"elements,omitempty"` // EXECUTE_ACTION snapshot
}

// IntentResult is the uniform response shape for every intent.
type IntentResult struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}
