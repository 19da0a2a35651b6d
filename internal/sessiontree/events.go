// internal/sessiontree/events.go
package sessiontree

import (
	"context"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// EventKind enumerates the host lifecycle notifications the tree consumes.
type EventKind string

const (
	EventTabActivated     EventKind = "TAB_ACTIVATED"
	EventTabUpdated       EventKind = "TAB_UPDATED"
	EventWindowCreated    EventKind = "WINDOW_CREATED"
	EventWindowRemoved    EventKind = "WINDOW_REMOVED"
	EventDebuggerDetached EventKind = "DEBUGGER_DETACHED"
)

// Event is one host lifecycle notification. Which fields are meaningful
// depends on the kind; URL is set only for TAB_UPDATED.
type Event struct {
	Kind     EventKind
	WindowID schemas.WindowID
	TabID    schemas.TabID
	URL      string
}

// Publish enqueues an event for the dispatcher. The channel is bounded; when
// it is full the event is dropped with a warning rather than blocking the
// host-facing caller. The tree reconciles against the registry on the next
// CurrentTab miss, so a dropped event degrades freshness, not correctness.
func (t *Tree) Publish(ev Event) {
	select {
	case t.events <- ev:
	default:
		t.logger.Warn("Lifecycle event dropped; queue full.",
			zap.String("kind", string(ev.Kind)), zap.Int64("tab_id", int64(ev.TabID)))
	}
}

// Run consumes lifecycle events and transport detach notifications until the
// context ends. It is the only goroutine that mutates window/tab structure,
// which keeps the handlers race-free by construction.
func (t *Tree) Run(ctx context.Context) {
	detached := t.transport.Detached()
	for {
		select {
		case <-ctx.Done():
			return
		case tab := <-detached:
			t.handleDebuggerDetached(tab)
		case ev := <-t.events:
			t.dispatch(ctx, ev)
		}
	}
}

func (t *Tree) dispatch(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventTabActivated:
		t.handleTabActivated(ev.WindowID, ev.TabID)
	case EventTabUpdated:
		t.handleTabUpdated(ctx, ev.WindowID, ev.TabID, ev.URL)
	case EventWindowCreated:
		t.handleWindowCreated(ev.WindowID)
	case EventWindowRemoved:
		t.handleWindowRemoved(ctx, ev.WindowID)
	case EventDebuggerDetached:
		t.handleDebuggerDetached(ev.TabID)
	default:
		t.logger.Warn("Unknown lifecycle event.", zap.String("kind", string(ev.Kind)))
	}
}

// handleTabActivated moves the active selector. Unknown tabs are adopted; the
// host is authoritative about what exists.
func (t *Tree) handleTabActivated(win schemas.WindowID, tab schemas.TabID) {
	t.mu.Lock()
	t.adoptTabLocked(win, tab, "")
	t.contexts[win].activeTab = tab
	t.active = schemas.ActiveSelector{WindowID: win, TabID: tab}
	t.mu.Unlock()
	t.logger.Debug("Tab activated.", zap.Int64("tab_id", int64(tab)))
}

// handleTabUpdated processes a document change in a tab.
func (t *Tree) handleTabUpdated(ctx context.Context, win schemas.WindowID, tab schemas.TabID, url string) {
	t.mu.Lock()
	ts := t.adoptTabLocked(win, tab, url)
	t.mu.Unlock()
	ts.OnURLChanged(ctx, url)
}

func (t *Tree) handleWindowCreated(win schemas.WindowID) {
	t.mu.Lock()
	if _, ok := t.contexts[win]; !ok {
		t.contexts[win] = &browserContext{id: win, tabs: make(map[schemas.TabID]struct{})}
	}
	t.mu.Unlock()
	t.logger.Debug("Window created.", zap.Int64("window_id", int64(win)))
}

// handleWindowRemoved destroys the window's tabs. When the active tab lived
// there, any surviving window's active tab becomes the new selection; with
// nothing left the selector goes empty and later intents fail with
// ErrNoActiveTab until the host reports a new active tab.
func (t *Tree) handleWindowRemoved(ctx context.Context, win schemas.WindowID) {
	t.mu.Lock()
	bc, ok := t.contexts[win]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.contexts, win)

	var destroyed []*TabState
	for tab := range bc.tabs {
		if ts, ok := t.tabs[tab]; ok {
			destroyed = append(destroyed, ts)
			delete(t.tabs, tab)
		}
	}

	if t.active.WindowID == win {
		t.active = schemas.ActiveSelector{}
		for _, other := range t.contexts {
			next := other.activeTab
			if next == 0 {
				for tab := range other.tabs {
					next = tab
					break
				}
			}
			if next != 0 {
				t.active = schemas.ActiveSelector{WindowID: other.id, TabID: next}
				break
			}
		}
	}
	t.mu.Unlock()

	for _, ts := range destroyed {
		ts.Destroy(ctx)
	}
	t.logger.Info("Window removed.",
		zap.Int64("window_id", int64(win)), zap.Int("tabs_destroyed", len(destroyed)))
}

func (t *Tree) handleDebuggerDetached(tab schemas.TabID) {
	t.mu.Lock()
	ts, ok := t.tabs[tab]
	t.mu.Unlock()
	if !ok {
		return
	}
	ts.OnDebuggerDetached()
}
