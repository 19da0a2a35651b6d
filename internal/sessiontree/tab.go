// internal/sessiontree/tab.go
package sessiontree

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/protocol"
)

// TabState is the per-tab slot in the tree: the (possibly absent) protocol
// session plus the last observation snapshot. Sessions are built lazily; a tab
// can sit unattached indefinitely and acquire a session only when an intent
// actually needs one.
type TabState struct {
	id        schemas.TabID
	windowID  schemas.WindowID
	transport schemas.Transport
	opts      protocol.Options
	logger    *zap.Logger

	mu          sync.Mutex
	session     *protocol.Session
	url         string
	observation []schemas.ElementDescriptor
}

func newTabState(id schemas.TabID, windowID schemas.WindowID, url string, transport schemas.Transport, opts protocol.Options, logger *zap.Logger) *TabState {
	return &TabState{
		id:        id,
		windowID:  windowID,
		transport: transport,
		opts:      opts,
		logger:    logger.With(zap.Int64("tab_id", int64(id))),
		url:       url,
	}
}

// ID returns the tab's host-assigned identifier.
func (t *TabState) ID() schemas.TabID { return t.id }

// URL returns the last URL the tree learned for this tab.
func (t *TabState) URL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url
}

// EnsureSession returns an attached session, connecting on demand. A session
// that lost its attachment (revoked debugger, earlier failure) is discarded;
// a fresh one is constructed and connected in its place.
func (t *TabState) EnsureSession(ctx context.Context) (*protocol.Session, error) {
	t.mu.Lock()
	if t.session != nil && t.session.Connected() {
		sess := t.session
		t.mu.Unlock()
		return sess, nil
	}
	sess := protocol.NewSession(t.id, t.transport, t.opts, t.logger)
	t.session = sess
	t.mu.Unlock()

	if err := sess.Connect(ctx); err != nil {
		t.mu.Lock()
		if t.session == sess {
			t.session = nil
		}
		t.mu.Unlock()
		return nil, err
	}
	return sess, nil
}

// Observation returns the cached element snapshot from the last observation
// pass, or nil when none is current.
func (t *TabState) Observation() []schemas.ElementDescriptor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.observation
}

// SetObservation replaces the cached snapshot. Every stored pass voids the
// previous one's element IDs.
func (t *TabState) SetObservation(elements []schemas.ElementDescriptor) {
	t.mu.Lock()
	t.observation = elements
	t.mu.Unlock()
}

// NoteNavigated records a navigation this process initiated itself. The
// document changed, so the snapshot is void, but the debugger attachment
// survives a same-tab navigation and is kept.
func (t *TabState) NoteNavigated(url string) {
	t.mu.Lock()
	t.url = url
	t.observation = nil
	t.mu.Unlock()
}

// OnURLChanged handles a host-reported document change. The snapshot is void
// and the session is discarded; the next intent attaches fresh.
func (t *TabState) OnURLChanged(ctx context.Context, url string) {
	t.mu.Lock()
	if url == t.url && t.observation == nil && t.session == nil {
		t.mu.Unlock()
		return
	}
	t.url = url
	t.observation = nil
	sess := t.session
	t.session = nil
	t.mu.Unlock()

	if sess != nil {
		_ = sess.Disconnect(ctx)
	}
	t.logger.Debug("Tab document changed; session and snapshot invalidated.", zap.String("url", url))
}

// OnDebuggerDetached handles the host revoking debugger access. No wire
// traffic is possible or attempted; the stale session is marked and the slot
// nulled so the next EnsureSession constructs a fresh one. Safe to call
// repeatedly and with no session.
func (t *TabState) OnDebuggerDetached() {
	t.mu.Lock()
	sess := t.session
	t.session = nil
	t.mu.Unlock()
	if sess == nil {
		return
	}
	sess.MarkDetached()
	t.logger.Debug("Debugger detached by host.")
}

// Destroy releases the tab's resources. Safe to call more than once.
func (t *TabState) Destroy(ctx context.Context) {
	t.mu.Lock()
	sess := t.session
	t.session = nil
	t.observation = nil
	t.mu.Unlock()

	if sess != nil {
		_ = sess.Disconnect(ctx)
	}
}
