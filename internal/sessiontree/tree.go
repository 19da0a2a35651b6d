// internal/sessiontree/tree.go

// Package sessiontree maintains the arena of windows, tabs, and debugger
// sessions the control plane operates on. All lifecycle mutation funnels
// through a single dispatcher goroutine (Run), so handlers never race each
// other; intents take the tree lock only to resolve the active tab.
package sessiontree

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/protocol"
)

// browserContext groups the tabs of one window and remembers which of them is
// active within it.
type browserContext struct {
	id        schemas.WindowID
	tabs      map[schemas.TabID]struct{}
	activeTab schemas.TabID
}

// Options bundles the tree's tunables.
type Options struct {
	// Protocol carries per-session timings, forwarded to every session built.
	Protocol protocol.Options

	// MarkerClearTimeout bounds the best-effort marker cleanup round trip.
	MarkerClearTimeout time.Duration

	// ObserveRetryDelay is the pause before the single observation retry when
	// a page fails to answer the element scan.
	ObserveRetryDelay time.Duration

	// EventBuffer is the capacity of the lifecycle event channel.
	EventBuffer int
}

func (o *Options) applyDefaults() {
	if o.MarkerClearTimeout == 0 {
		o.MarkerClearTimeout = 3 * time.Second
	}
	if o.ObserveRetryDelay == 0 {
		o.ObserveRetryDelay = 500 * time.Millisecond
	}
	if o.EventBuffer == 0 {
		o.EventBuffer = 64
	}
}

// Tree is the session arena. Intents address "the active tab"; lifecycle
// events keep the notion of active current as the host mutates windows and
// tabs underneath us.
type Tree struct {
	transport schemas.Transport
	registry  schemas.HostRegistry
	observer  schemas.ElementObserver
	opts      Options
	logger    *zap.Logger

	mu       sync.Mutex
	contexts map[schemas.WindowID]*browserContext
	tabs     map[schemas.TabID]*TabState
	active   schemas.ActiveSelector

	events chan Event
}

// New builds an empty tree. Call Initialize to seed it from the host registry
// and Run to start the event dispatcher.
func New(transport schemas.Transport, registry schemas.HostRegistry, observer schemas.ElementObserver, opts Options, logger *zap.Logger) *Tree {
	opts.applyDefaults()
	return &Tree{
		transport: transport,
		registry:  registry,
		observer:  observer,
		opts:      opts,
		logger:    logger.Named("sessiontree"),
		contexts:  make(map[schemas.WindowID]*browserContext),
		tabs:      make(map[schemas.TabID]*TabState),
		events:    make(chan Event, opts.EventBuffer),
	}
}

// Initialize seeds the arena from the host registry and eagerly attaches a
// session to every tab. Individual attach failures (protected pages, closed
// races) are logged and skipped; only registry enumeration itself is fatal.
func (t *Tree) Initialize(ctx context.Context) error {
	windows, err := t.registry.Windows(ctx)
	if err != nil {
		return fmt.Errorf("enumerate windows: %w", err)
	}

	t.mu.Lock()
	var seeded []*TabState
	for _, win := range windows {
		bc := &browserContext{id: win.ID, tabs: make(map[schemas.TabID]struct{})}
		t.contexts[win.ID] = bc
		for _, ti := range win.Tabs {
			ts := newTabState(ti.ID, win.ID, ti.URL, t.transport, t.opts.Protocol, t.logger)
			t.tabs[ti.ID] = ts
			bc.tabs[ti.ID] = struct{}{}
			if ti.Active {
				bc.activeTab = ti.ID
			}
			seeded = append(seeded, ts)
		}
	}
	t.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, ts := range seeded {
		ts := ts
		g.Go(func() error {
			if _, err := ts.EnsureSession(gctx); err != nil {
				t.logger.Warn("Initial attach failed; tab stays unattached.",
					zap.Int64("tab_id", int64(ts.ID())), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	active, err := t.registry.ActiveTab(ctx)
	if err == nil {
		t.mu.Lock()
		t.active = active
		t.mu.Unlock()
	} else {
		t.logger.Warn("No active tab at startup.", zap.Error(err))
	}

	t.logger.Info("Session tree initialized.",
		zap.Int("windows", len(windows)), zap.Int("tabs", len(seeded)))
	return nil
}

// CurrentTab resolves the active selector to its TabState, consulting the
// host registry when the arena has no current answer.
func (t *Tree) CurrentTab(ctx context.Context) (*TabState, error) {
	t.mu.Lock()
	if ts, ok := t.tabs[t.active.TabID]; ok && t.active.TabID != 0 {
		t.mu.Unlock()
		return ts, nil
	}
	t.mu.Unlock()

	active, err := t.registry.ActiveTab(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve active tab: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = active
	if ts, ok := t.tabs[active.TabID]; ok {
		return ts, nil
	}
	// The host knows a tab the arena has not seen yet; adopt it.
	ts := t.adoptTabLocked(active.WindowID, active.TabID, "")
	return ts, nil
}

// CurrentURL reports the active tab's URL.
func (t *Tree) CurrentURL(ctx context.Context) (string, error) {
	ts, err := t.CurrentTab(ctx)
	if err != nil {
		return "", err
	}
	return ts.URL(), nil
}

// adoptTabLocked registers a tab (and, if needed, its window) the arena has
// not seen before. Caller holds t.mu.
func (t *Tree) adoptTabLocked(win schemas.WindowID, tab schemas.TabID, url string) *TabState {
	bc, ok := t.contexts[win]
	if !ok {
		bc = &browserContext{id: win, tabs: make(map[schemas.TabID]struct{})}
		t.contexts[win] = bc
	}
	ts, ok := t.tabs[tab]
	if !ok {
		ts = newTabState(tab, win, url, t.transport, t.opts.Protocol, t.logger)
		t.tabs[tab] = ts
	}
	bc.tabs[tab] = struct{}{}
	return ts
}

// Shutdown disconnects every session. The tree is not usable afterwards.
func (t *Tree) Shutdown(ctx context.Context) {
	t.mu.Lock()
	tabs := make([]*TabState, 0, len(t.tabs))
	for _, ts := range t.tabs {
		tabs = append(tabs, ts)
	}
	t.tabs = make(map[schemas.TabID]*TabState)
	t.contexts = make(map[schemas.WindowID]*browserContext)
	t.active = schemas.ActiveSelector{}
	t.mu.Unlock()

	for _, ts := range tabs {
		ts.Destroy(ctx)
	}
}
