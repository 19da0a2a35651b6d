// internal/protocol/session.go
package protocol

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// State tracks the attach lifecycle of a Session.
type State int32

const (
	StateUnattached State = iota
	StateAttaching
	StateAttached
)

func (s State) String() string {
	switch s {
	case StateAttaching:
		return "attaching"
	case StateAttached:
		return "attached"
	default:
		return "unattached"
	}
}

// Options carries the protocol timings and platform decisions. Zero values are
// replaced by defaults in NewSession.
type Options struct {
	// ClickSettle is the pause between pointer-down and pointer-up, emulating
	// human click hold time.
	ClickSettle time.Duration
	// NavigationSettle is the fixed wait after Page.navigate to let the load
	// commit before the caller re-observes.
	NavigationSettle time.Duration
	// DefaultWait applies when a Wait action carries no duration.
	DefaultWait time.Duration
	// DefaultScrollAmount is the wheel delta when a Scroll action carries none.
	DefaultScrollAmount int
	// ViewportCenter is the fallback wheel target when scrolling the whole
	// page rather than a specific element.
	ViewportCenterX float64
	ViewportCenterY float64
	// SelectAllModifier is "ctrl" or "meta"; it drives the select-all combo
	// that clears an input before text insertion.
	SelectAllModifier string
}

func (o *Options) applyDefaults() {
	if o.ClickSettle == 0 {
		o.ClickSettle = 50 * time.Millisecond
	}
	if o.NavigationSettle == 0 {
		o.NavigationSettle = 3 * time.Second
	}
	if o.DefaultWait == 0 {
		o.DefaultWait = 2 * time.Second
	}
	if o.DefaultScrollAmount == 0 {
		o.DefaultScrollAmount = 300
	}
	if o.ViewportCenterX == 0 {
		o.ViewportCenterX = 640
	}
	if o.ViewportCenterY == 0 {
		o.ViewportCenterY = 400
	}
	if o.SelectAllModifier == "" {
		o.SelectAllModifier = "ctrl"
	}
}

// Session owns one attach/detach lifecycle against one tab and translates
// abstract actions into ordered remote-debugging commands. A session is never
// reused after disconnect; callers construct a fresh one on demand.
type Session struct {
	tabID     schemas.TabID
	transport schemas.Transport
	logger    *zap.Logger
	opts      Options

	mu    sync.Mutex
	state State
}

// NewSession creates a session in the Unattached state.
func NewSession(tabID schemas.TabID, transport schemas.Transport, opts Options, logger *zap.Logger) *Session {
	opts.applyDefaults()
	return &Session{
		tabID:     tabID,
		transport: transport,
		logger:    logger.Named("protocol").With(zap.Int64("tab_id", int64(tabID))),
		opts:      opts,
	}
}

// TabID returns the tab this session is bound to.
func (s *Session) TabID() schemas.TabID { return s.tabID }

// Connected reports whether the session is attached.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateAttached
}

// Connect attaches the debugger to the tab. It fails with
// schemas.ErrProtectedTarget when the tab's document belongs to a privileged
// scheme; that failure is permanent for the tab until it navigates away.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateAttached {
		s.mu.Unlock()
		return nil
	}
	s.state = StateAttaching
	s.mu.Unlock()

	if err := s.transport.Attach(ctx, s.tabID); err != nil {
		s.mu.Lock()
		s.state = StateUnattached
		s.mu.Unlock()
		return fmt.Errorf("attach to tab %d: %w", s.tabID, err)
	}

	s.mu.Lock()
	s.state = StateAttached
	s.mu.Unlock()
	s.logger.Debug("Debugger attached.")
	return nil
}

// Disconnect detaches the debugger. Idempotent; a detach failure is logged and
// swallowed because the session is discarded either way.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateUnattached {
		s.mu.Unlock()
		return nil
	}
	s.state = StateUnattached
	s.mu.Unlock()

	if err := s.transport.Detach(ctx, s.tabID); err != nil {
		s.logger.Debug("Detach failed; session discarded regardless.", zap.Error(err))
	}
	return nil
}

// MarkDetached records an externally forced detach (the host revoked debugging
// access). No wire traffic; safe to call repeatedly.
func (s *Session) MarkDetached() {
	s.mu.Lock()
	s.state = StateUnattached
	s.mu.Unlock()
}

// send issues one command, guarding the attached-state precondition.
func (s *Session) send(ctx context.Context, method string, params, result interface{}) error {
	if !s.Connected() {
		return fmt.Errorf("%s on tab %d: %w", method, s.tabID, schemas.ErrNotConnected)
	}
	return s.transport.Send(ctx, s.tabID, method, params, result)
}

// CaptureScreenshot grabs a PNG frame of the tab. The wire carries the image
// base64-encoded; it is decoded here so consumers always hold raw PNG bytes.
func (s *Session) CaptureScreenshot(ctx context.Context) (schemas.Screenshot, error) {
	params := page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng)
	var res page.CaptureScreenshotReturns
	if err := s.send(ctx, page.CommandCaptureScreenshot, params, &res); err != nil {
		return schemas.Screenshot{}, err
	}
	data, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return schemas.Screenshot{}, fmt.Errorf("decode screenshot payload: %w", err)
	}
	return schemas.Screenshot{PNG: data}, nil
}

// Navigate loads a URL and waits the fixed settle period. Element IDs from the
// prior document are void afterwards; the caller must re-observe.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("navigate: empty url: %w", schemas.ErrInvalidArgs)
	}
	var res page.NavigateReturns
	if err := s.send(ctx, page.CommandNavigate, page.Navigate(url), &res); err != nil {
		return err
	}
	if res.ErrorText != "" {
		return fmt.Errorf("navigation to %s failed: %s", url, res.ErrorText)
	}
	return s.sleep(ctx, s.opts.NavigationSettle)
}

// ExecuteAction translates one abstract action into its ordered command
// sequence. The elements snapshot resolves element IDs; it must be the pass the
// action's IDs were issued against.
func (s *Session) ExecuteAction(ctx context.Context, action schemas.Action, elements []schemas.ElementDescriptor) error {
	switch action.Type {
	case schemas.ActionClick:
		x, y, err := s.resolvePoint(action, elements, false)
		if err != nil {
			return err
		}
		return s.click(ctx, x, y)

	case schemas.ActionTypeText:
		return s.typeText(ctx, action, elements)

	case schemas.ActionScroll:
		return s.scroll(ctx, action, elements)

	case schemas.ActionWait:
		d := time.Duration(action.DurationMs) * time.Millisecond
		if d <= 0 {
			d = s.opts.DefaultWait
		}
		return s.sleep(ctx, d)

	case schemas.ActionNavigate:
		return s.Navigate(ctx, action.URL)

	case schemas.ActionDone:
		// Pure control signal; consumed by the agent loop.
		return nil

	default:
		return fmt.Errorf("%q: %w", action.Type, schemas.ErrUnknownAction)
	}
}

// resolvePoint picks the target coordinates for a pointer action: the center
// of the named element, explicit coordinates, or (for scroll only) the default
// viewport point.
func (s *Session) resolvePoint(action schemas.Action, elements []schemas.ElementDescriptor, allowViewportDefault bool) (float64, float64, error) {
	if action.ElementID != nil {
		el, ok := schemas.FindElement(elements, *action.ElementID)
		if !ok {
			return 0, 0, fmt.Errorf("element %d: %w", *action.ElementID, schemas.ErrElementNotFound)
		}
		x, y := el.Box.Center()
		return x, y, nil
	}
	if action.X != nil && action.Y != nil {
		return *action.X, *action.Y, nil
	}
	if allowViewportDefault {
		return s.opts.ViewportCenterX, s.opts.ViewportCenterY, nil
	}
	return 0, 0, fmt.Errorf("neither element id nor coordinates given: %w", schemas.ErrInvalidArgs)
}

// click dispatches move, press, settle, release at one point.
func (s *Session) click(ctx context.Context, x, y float64) error {
	move := input.DispatchMouseEvent(input.MouseMoved, x, y)
	if err := s.send(ctx, input.CommandDispatchMouseEvent, move, nil); err != nil {
		return err
	}
	press := input.DispatchMouseEvent(input.MousePressed, x, y).
		WithButton(input.Left).
		WithClickCount(1)
	if err := s.send(ctx, input.CommandDispatchMouseEvent, press, nil); err != nil {
		return err
	}
	if err := s.sleep(ctx, s.opts.ClickSettle); err != nil {
		return err
	}
	release := input.DispatchMouseEvent(input.MouseReleased, x, y).
		WithButton(input.Left).
		WithClickCount(1)
	return s.send(ctx, input.CommandDispatchMouseEvent, release, nil)
}

// typeText focuses the target (when named), clears it with a select-all combo,
// and inserts the text as a single atomic insertion rather than per-keystroke
// events.
func (s *Session) typeText(ctx context.Context, action schemas.Action, elements []schemas.ElementDescriptor) error {
	if action.Text == "" {
		return fmt.Errorf("type: no text given: %w", schemas.ErrInvalidArgs)
	}

	if action.ElementID != nil {
		el, ok := schemas.FindElement(elements, *action.ElementID)
		if !ok {
			return fmt.Errorf("element %d: %w", *action.ElementID, schemas.ErrElementNotFound)
		}
		x, y := el.Box.Center()
		if err := s.click(ctx, x, y); err != nil {
			return err
		}
		if err := s.selectAll(ctx); err != nil {
			return err
		}
	}

	return s.send(ctx, input.CommandInsertText, input.InsertText(action.Text), nil)
}

// selectAll issues the platform select-all key combo so the insertion replaces
// any existing field content.
func (s *Session) selectAll(ctx context.Context) error {
	mod := input.ModifierCtrl
	if s.opts.SelectAllModifier == "meta" {
		mod = input.ModifierMeta
	}
	down := input.DispatchKeyEvent(input.KeyDown).
		WithKey("a").
		WithCode("KeyA").
		WithModifiers(mod)
	if err := s.send(ctx, input.CommandDispatchKeyEvent, down, nil); err != nil {
		return err
	}
	up := input.DispatchKeyEvent(input.KeyUp).
		WithKey("a").
		WithCode("KeyA").
		WithModifiers(mod)
	return s.send(ctx, input.CommandDispatchKeyEvent, up, nil)
}

// scroll dispatches a synthetic wheel event with a signed vertical delta.
func (s *Session) scroll(ctx context.Context, action schemas.Action, elements []schemas.ElementDescriptor) error {
	amount := action.Amount
	if amount <= 0 {
		amount = s.opts.DefaultScrollAmount
	}
	var delta float64
	switch action.Direction {
	case schemas.ScrollDown, "":
		delta = float64(amount)
	case schemas.ScrollUp:
		delta = -float64(amount)
	default:
		return fmt.Errorf("scroll direction %q: %w", action.Direction, schemas.ErrInvalidArgs)
	}

	x, y, err := s.resolvePoint(action, elements, true)
	if err != nil {
		return err
	}

	wheel := input.DispatchMouseEvent(input.MouseWheel, x, y).
		WithDeltaX(0).
		WithDeltaY(delta)
	return s.send(ctx, input.CommandDispatchMouseEvent, wheel, nil)
}

// sleep is a cooperative, cancellable pause.
func (s *Session) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
