// api/schemas/errors.go
package schemas

import "errors"

// Error taxonomy shared by the protocol, session-tree, and agent layers.
// Callers classify with errors.Is; wrapping with fmt.Errorf("...: %w") keeps
// the class intact while adding context.
var (
	// ErrProtectedTarget: the page belongs to a privileged scheme the host
	// refuses to instrument. Permanent for that tab until it navigates away.
	ErrProtectedTarget = errors.New("target page is protected and cannot be instrumented")

	// ErrNotConnected: a command was issued while the session was unattached.
	// Transient; resolved by the reconnect-on-demand path on the next call.
	ErrNotConnected = errors.New("debugger session is not connected")

	// ErrElementNotFound: the action referenced an element ID absent from the
	// supplied snapshot (stale observation pass). Surfaced, never auto-retried.
	ErrElementNotFound = errors.New("element not found in current observation")

	// ErrInvalidArgs: the caller violated the action contract (e.g. Click with
	// neither element nor coordinates).
	ErrInvalidArgs = errors.New("invalid action arguments")

	// ErrUnknownAction: an action tag outside the closed union reached the
	// protocol layer. Indicates a caller programming error.
	ErrUnknownAction = errors.New("unknown action type")

	// ErrNoActiveTab: the host environment reports no focused tab at all.
	ErrNoActiveTab = errors.New("no active tab")

	// ErrNoInteractiveElements: the observation pass found nothing automatable.
	ErrNoInteractiveElements = errors.New("no interactive elements on page")

	// ErrContentUnresponsive: the element-observation channel did not answer.
	// Retried once after a short delay, then escalated.
	ErrContentUnresponsive = errors.New("content observation channel unresponsive")

	// ErrCancelled: the user requested a cooperative stop between cycles.
	ErrCancelled = errors.New("run cancelled")

	// ErrOracle: the decision service failed (missing credential, network,
	// malformed non-recoverable reply).
	ErrOracle = errors.New("decision oracle failure")
)
