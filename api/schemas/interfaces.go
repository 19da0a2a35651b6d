// api/schemas/interfaces.go
package schemas

import "context"

// Transport is the remote-debugging wire. One implementation speaks the Chrome
// DevTools Protocol against a live browser; tests substitute a recorder.
//
// Send issues one self-contained command round trip against an attached tab.
// params and result follow the cdproto convention: typed param structs in,
// typed return structs out (result may be nil for fire-and-forget commands).
type Transport interface {
	Attach(ctx context.Context, tab TabID) error
	Detach(ctx context.Context, tab TabID) error
	Send(ctx context.Context, tab TabID, method string, params, result interface{}) error

	// Detached delivers tab IDs whose debugger access was revoked externally
	// (for example a DevTools window was opened on the tab). The channel is
	// never closed while the transport is alive.
	Detached() <-chan TabID
}

// ElementObserver runs the interactive-element scan for a tab. Observe is
// idempotent and returns a fresh pass-local ID space on every call.
// ClearMarkers is best-effort and must not fail hard on a tab that no longer
// exists.
type ElementObserver interface {
	Observe(ctx context.Context, tab TabID) ([]ElementDescriptor, error)
	ClearMarkers(ctx context.Context, tab TabID) error
}

// Oracle is the external decision-making model. It receives the current
// screenshot, the rendered element snapshot, the user's query, and the textual
// history of prior step outcomes, and returns the next Decision.
type Oracle interface {
	Decide(ctx context.Context, shot Screenshot, elements []ElementDescriptor, query string, history []string) (Decision, error)
}

// WindowInfo is the host registry's view of one window and its tabs.
type WindowInfo struct {
	ID      WindowID
	Focused bool
	Tabs    []TabInfo
}

// TabInfo is the host registry's view of one tab.
type TabInfo struct {
	ID     TabID
	URL    string
	Active bool // active within its window
}

// HostRegistry answers "what windows and tabs exist, and which is focused".
// The live implementation queries the browser through the transport; tests
// script it directly.
type HostRegistry interface {
	Windows(ctx context.Context) ([]WindowInfo, error)
	ActiveTab(ctx context.Context) (ActiveSelector, error)
}
