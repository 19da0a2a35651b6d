// internal/protocol/cdp.go
package protocol

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// protectedSchemes are URL prefixes the host refuses to instrument. Attaching
// to them fails with schemas.ErrProtectedTarget until the tab navigates away.
var protectedSchemes = []string{
	"chrome://",
	"chrome-extension://",
	"chrome-search://",
	"devtools://",
	"edge://",
	"view-source:",
}

func isProtectedURL(url string) bool {
	for _, scheme := range protectedSchemes {
		if strings.HasPrefix(url, scheme) {
			return true
		}
	}
	return false
}

// tabConn is one live debugger connection to a page target.
type tabConn struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// CDPTransport implements schemas.Transport and schemas.HostRegistry against a
// Chromium process it launches and owns. A headless browser has no OS windows,
// so the registry models the whole process as a single window whose tabs are
// the page targets.
type CDPTransport struct {
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc

	mu       sync.Mutex
	conns    map[schemas.TabID]*tabConn
	tabIDs   map[target.ID]schemas.TabID
	targets  map[schemas.TabID]target.ID
	nextTab  schemas.TabID
	active   schemas.TabID
	detached chan schemas.TabID
}

// The single synthetic window exposed by the registry.
const hostWindowID schemas.WindowID = 1

var _ schemas.Transport = (*CDPTransport)(nil)
var _ schemas.HostRegistry = (*CDPTransport)(nil)

// NewCDPTransport launches the browser process and verifies it responds.
func NewCDPTransport(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*CDPTransport, error) {
	t := &CDPTransport{
		logger:   logger.Named("cdp"),
		conns:    make(map[schemas.TabID]*tabConn),
		tabIDs:   make(map[target.ID]schemas.TabID),
		targets:  make(map[schemas.TabID]target.ID),
		nextTab:  1,
		detached: make(chan schemas.TabID, 16),
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, buildAllocatorOptions(cfg)...)
	t.allocCtx = allocCtx
	t.allocCancel = allocCancel

	browserCtx, browserStop := chromedp.NewContext(allocCtx)
	t.browserCtx = browserCtx
	t.browserStop = browserStop

	// Probe: a trivial navigation confirms the process started and answers.
	probeCtx, cancelProbe := context.WithTimeout(browserCtx, 30*time.Second)
	defer cancelProbe()
	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		allocCancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	t.logger.Info("Browser launched and responsive.")
	return t, nil
}

// buildAllocatorOptions assembles the launch flags for a controllable browser.
func buildAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", cfg.Headless),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)

	// User-supplied flags from the config file.
	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	// Required when running inside containers on Linux.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}

	return opts
}

// OpenTab creates a new page target at the given URL and returns its tab ID.
// The new tab becomes the active one.
func (t *CDPTransport) OpenTab(ctx context.Context, url string) (schemas.TabID, error) {
	var targetID target.ID
	err := chromedp.Run(t.browserCtx, chromedp.ActionFunc(func(cctx context.Context) error {
		var err error
		targetID, err = target.CreateTarget(url).Do(cctx)
		return err
	}))
	if err != nil {
		return 0, fmt.Errorf("create target for %s: %w", url, err)
	}

	t.mu.Lock()
	id := t.registerTargetLocked(targetID)
	t.active = id
	t.mu.Unlock()
	t.logger.Info("Opened tab.", zap.Int64("tab_id", int64(id)), zap.String("url", url))
	return id, nil
}

// registerTargetLocked assigns (or returns) the stable integer tab ID for a
// CDP target. Caller holds t.mu.
func (t *CDPTransport) registerTargetLocked(id target.ID) schemas.TabID {
	if tab, ok := t.tabIDs[id]; ok {
		return tab
	}
	tab := t.nextTab
	t.nextTab++
	t.tabIDs[id] = tab
	t.targets[tab] = id
	return tab
}

// refreshTargets synchronizes the tab ID maps with the browser's current page
// targets and returns them.
func (t *CDPTransport) refreshTargets(ctx context.Context) ([]*target.Info, error) {
	infos, err := chromedp.Targets(t.browserCtx)
	if err != nil {
		return nil, fmt.Errorf("enumerate targets: %w", err)
	}
	pages := make([]*target.Info, 0, len(infos))
	t.mu.Lock()
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		t.registerTargetLocked(info.TargetID)
		pages = append(pages, info)
	}
	t.mu.Unlock()
	return pages, nil
}

// -- schemas.HostRegistry --

// Windows reports the synthetic single window and its page targets.
func (t *CDPTransport) Windows(ctx context.Context) ([]schemas.WindowInfo, error) {
	pages, err := t.refreshTargets(ctx)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	active := t.active
	win := schemas.WindowInfo{ID: hostWindowID, Focused: true}
	for _, info := range pages {
		tab := t.tabIDs[info.TargetID]
		win.Tabs = append(win.Tabs, schemas.TabInfo{
			ID:     tab,
			URL:    info.URL,
			Active: tab == active,
		})
	}
	t.mu.Unlock()

	return []schemas.WindowInfo{win}, nil
}

// ActiveTab resolves the tab the registry currently considers focused.
func (t *CDPTransport) ActiveTab(ctx context.Context) (schemas.ActiveSelector, error) {
	pages, err := t.refreshTargets(ctx)
	if err != nil {
		return schemas.ActiveSelector{}, err
	}
	if len(pages) == 0 {
		return schemas.ActiveSelector{}, schemas.ErrNoActiveTab
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active != 0 {
		if _, ok := t.targets[t.active]; ok {
			return schemas.ActiveSelector{WindowID: hostWindowID, TabID: t.active}, nil
		}
	}
	t.active = t.tabIDs[pages[0].TargetID]
	return schemas.ActiveSelector{WindowID: hostWindowID, TabID: t.active}, nil
}

// -- schemas.Transport --

// Attach opens a debugger connection to the tab's target.
func (t *CDPTransport) Attach(ctx context.Context, tab schemas.TabID) error {
	t.mu.Lock()
	if _, ok := t.conns[tab]; ok {
		t.mu.Unlock()
		return nil
	}
	targetID, ok := t.targets[tab]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown tab %d", tab)
	}

	// Privileged pages cannot be instrumented.
	pages, err := t.refreshTargets(ctx)
	if err != nil {
		return err
	}
	for _, info := range pages {
		if info.TargetID == targetID && isProtectedURL(info.URL) {
			return fmt.Errorf("tab %d at %s: %w", tab, info.URL, schemas.ErrProtectedTarget)
		}
	}

	tctx, tcancel := chromedp.NewContext(t.browserCtx, chromedp.WithTargetID(targetID))
	// An empty Run establishes the connection without side effects.
	if err := chromedp.Run(tctx); err != nil {
		tcancel()
		return fmt.Errorf("attach to target %s: %w", targetID, err)
	}

	// Host-side detaches (e.g. a DevTools window stealing the session) kill
	// the connection; drop it so the next Attach builds a fresh one.
	chromedp.ListenTarget(tctx, func(ev interface{}) {
		if _, ok := ev.(*inspector.EventDetached); ok {
			t.onTargetDetached(tab)
		}
	})

	t.mu.Lock()
	t.conns[tab] = &tabConn{ctx: tctx, cancel: tcancel}
	t.mu.Unlock()
	return nil
}

// onTargetDetached discards the dead connection for a tab the host revoked
// and notifies the consumer. Removing the conns entry is what lets a later
// Attach reconnect instead of short-circuiting on a corpse.
func (t *CDPTransport) onTargetDetached(tab schemas.TabID) {
	t.mu.Lock()
	conn, ok := t.conns[tab]
	if ok {
		delete(t.conns, tab)
	}
	t.mu.Unlock()
	if ok {
		// Cancelling from inside the target's own event handler would
		// deadlock the event loop.
		go conn.cancel()
	}

	select {
	case t.detached <- tab:
	default:
		t.logger.Warn("Detach notification dropped; channel full.", zap.Int64("tab_id", int64(tab)))
	}
}

// Detach severs the debugger connection. The tab itself stays open.
func (t *CDPTransport) Detach(ctx context.Context, tab schemas.TabID) error {
	t.mu.Lock()
	conn, ok := t.conns[tab]
	if ok {
		delete(t.conns, tab)
	}
	t.mu.Unlock()
	if !ok {
		return nil
	}
	conn.cancel()
	return nil
}

// Send executes one raw CDP command against the tab's connection.
func (t *CDPTransport) Send(ctx context.Context, tab schemas.TabID, method string, params, result interface{}) error {
	t.mu.Lock()
	conn, ok := t.conns[tab]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("tab %d: %w", tab, schemas.ErrNotConnected)
	}

	// Honor both the caller's deadline and the connection lifetime.
	runCtx, cancel := context.WithCancel(conn.ctx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	return chromedp.Run(runCtx, chromedp.ActionFunc(func(cctx context.Context) error {
		return cdp.Execute(cctx, method, params, result)
	}))
}

// Detached implements the transport's detach-notification channel.
func (t *CDPTransport) Detached() <-chan schemas.TabID {
	return t.detached
}

// Close tears down every connection and the browser process.
func (t *CDPTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	for tab, conn := range t.conns {
		conn.cancel()
		delete(t.conns, tab)
	}
	t.mu.Unlock()

	t.browserStop()
	if t.allocCancel != nil {
		t.allocCancel()
		select {
		case <-t.allocCtx.Done():
		case <-ctx.Done():
			t.logger.Warn("Shutdown deadline exceeded waiting for browser exit.", zap.Error(ctx.Err()))
		}
	}
	return nil
}
