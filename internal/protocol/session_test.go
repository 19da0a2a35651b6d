// Filename: internal/protocol/session_test.go
package protocol

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// =============================================================================
// Test Infrastructure: Mocks and Helpers
// =============================================================================

// sentCommand records one Send call as seen by the mock transport.
type sentCommand struct {
	method string
	params interface{}
}

// mockTransport implements schemas.Transport and records every command.
type mockTransport struct {
	mu       sync.Mutex
	sent     []sentCommand
	attached map[schemas.TabID]int
	detached map[schemas.TabID]int

	attachErr error
	sendErr   error
	onSend    func(method string, params, result interface{}) error

	detachCh chan schemas.TabID
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		attached: make(map[schemas.TabID]int),
		detached: make(map[schemas.TabID]int),
		detachCh: make(chan schemas.TabID, 1),
	}
}

func (m *mockTransport) Attach(ctx context.Context, tab schemas.TabID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attachErr != nil {
		return m.attachErr
	}
	m.attached[tab]++
	return nil
}

func (m *mockTransport) Detach(ctx context.Context, tab schemas.TabID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detached[tab]++
	return nil
}

func (m *mockTransport) Send(ctx context.Context, tab schemas.TabID, method string, params, result interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentCommand{method: method, params: params})
	if m.onSend != nil {
		return m.onSend(method, params, result)
	}
	return nil
}

func (m *mockTransport) Detached() <-chan schemas.TabID { return m.detachCh }

func (m *mockTransport) sentCommands() []sentCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentCommand, len(m.sent))
	copy(out, m.sent)
	return out
}

// testOptions keeps the settle pauses negligible so tests stay fast.
func testOptions() Options {
	return Options{
		ClickSettle:      time.Millisecond,
		NavigationSettle: time.Millisecond,
		DefaultWait:      time.Millisecond,
	}
}

func connectedSession(t *testing.T, mt *mockTransport) *Session {
	t.Helper()
	s := NewSession(1, mt, testOptions(), zap.NewNop())
	require.NoError(t, s.Connect(context.Background()))
	return s
}

func intPtr(v int) *int { return &v }

func testElements() []schemas.ElementDescriptor {
	return []schemas.ElementDescriptor{
		{
			ID:      7,
			TagName: "button",
			Text:    "Submit",
			Box: schemas.BoundingBox{
				Left: 10, Top: 20, Width: 100, Height: 30,
				Right: 110, Bottom: 50, X: 10, Y: 20,
			},
		},
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestSessionConnectTransitions(t *testing.T) {
	mt := newMockTransport()
	s := NewSession(1, mt, testOptions(), zap.NewNop())

	assert.False(t, s.Connected())
	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, s.Connected())

	// Connecting again is a no-op, not a second attach.
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, 1, mt.attached[1])
}

func TestSessionConnectProtectedTarget(t *testing.T) {
	mt := newMockTransport()
	mt.attachErr = fmt.Errorf("tab 1 at chrome://settings: %w", schemas.ErrProtectedTarget)

	s := NewSession(1, mt, testOptions(), zap.NewNop())
	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrProtectedTarget)
	assert.False(t, s.Connected())
}

func TestSessionDisconnectIdempotent(t *testing.T) {
	mt := newMockTransport()
	s := connectedSession(t, mt)

	require.NoError(t, s.Disconnect(context.Background()))
	require.NoError(t, s.Disconnect(context.Background()))
	assert.Equal(t, 1, mt.detached[1])
	assert.False(t, s.Connected())
}

func TestSessionMarkDetachedThenReconnect(t *testing.T) {
	mt := newMockTransport()
	s := connectedSession(t, mt)

	s.MarkDetached()
	s.MarkDetached()
	assert.False(t, s.Connected())
	// No wire traffic on a forced detach.
	assert.Equal(t, 0, mt.detached[1])

	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, s.Connected())
	assert.Equal(t, 2, mt.attached[1])
}

func TestSessionCommandWhileUnattached(t *testing.T) {
	mt := newMockTransport()
	s := NewSession(1, mt, testOptions(), zap.NewNop())

	_, err := s.CaptureScreenshot(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrNotConnected)
	assert.Empty(t, mt.sentCommands())
}

// =============================================================================
// Click
// =============================================================================

func TestClickDispatchesAtElementCenter(t *testing.T) {
	mt := newMockTransport()
	s := connectedSession(t, mt)

	action := schemas.Action{Type: schemas.ActionClick, ElementID: intPtr(7)}
	require.NoError(t, s.ExecuteAction(context.Background(), action, testElements()))

	sent := mt.sentCommands()
	require.Len(t, sent, 3)

	types := []input.MouseType{input.MouseMoved, input.MousePressed, input.MouseReleased}
	for i, cmd := range sent {
		assert.Equal(t, input.CommandDispatchMouseEvent, cmd.method)
		p, ok := cmd.params.(*input.DispatchMouseEventParams)
		require.True(t, ok)
		assert.Equal(t, types[i], p.Type)
		assert.Equal(t, 60.0, p.X)
		assert.Equal(t, 35.0, p.Y)
	}

	press := sent[1].params.(*input.DispatchMouseEventParams)
	assert.Equal(t, input.Left, press.Button)
	assert.Equal(t, int64(1), press.ClickCount)
}

func TestClickStaleElementID(t *testing.T) {
	mt := newMockTransport()
	s := connectedSession(t, mt)

	action := schemas.Action{Type: schemas.ActionClick, ElementID: intPtr(99)}
	err := s.ExecuteAction(context.Background(), action, testElements())
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrElementNotFound)
	// No partial command sequence left on the wire.
	assert.Empty(t, mt.sentCommands())
}

func TestClickWithoutTarget(t *testing.T) {
	mt := newMockTransport()
	s := connectedSession(t, mt)

	err := s.ExecuteAction(context.Background(), schemas.Action{Type: schemas.ActionClick}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrInvalidArgs)
}

// =============================================================================
// Type
// =============================================================================

func TestTypeIntoElement(t *testing.T) {
	mt := newMockTransport()
	s := connectedSession(t, mt)

	action := schemas.Action{Type: schemas.ActionTypeText, ElementID: intPtr(7), Text: "hello"}
	require.NoError(t, s.ExecuteAction(context.Background(), action, testElements()))

	sent := mt.sentCommands()
	// 3 mouse events for the focusing click, 2 key events for select-all,
	// 1 atomic text insertion.
	require.Len(t, sent, 6)
	assert.Equal(t, input.CommandDispatchKeyEvent, sent[3].method)
	assert.Equal(t, input.CommandDispatchKeyEvent, sent[4].method)
	assert.Equal(t, input.CommandInsertText, sent[5].method)

	down := sent[3].params.(*input.DispatchKeyEventParams)
	assert.Equal(t, input.KeyDown, down.Type)
	assert.Equal(t, "a", down.Key)
	assert.Equal(t, input.ModifierCtrl, down.Modifiers)

	ins := sent[5].params.(*input.InsertTextParams)
	assert.Equal(t, "hello", ins.Text)
}

func TestTypeUsesMetaModifierWhenConfigured(t *testing.T) {
	mt := newMockTransport()
	opts := testOptions()
	opts.SelectAllModifier = "meta"
	s := NewSession(1, mt, opts, zap.NewNop())
	require.NoError(t, s.Connect(context.Background()))

	action := schemas.Action{Type: schemas.ActionTypeText, ElementID: intPtr(7), Text: "x"}
	require.NoError(t, s.ExecuteAction(context.Background(), action, testElements()))

	down := mt.sentCommands()[3].params.(*input.DispatchKeyEventParams)
	assert.Equal(t, input.ModifierMeta, down.Modifiers)
}

func TestTypeIntoCurrentFocusSkipsClick(t *testing.T) {
	mt := newMockTransport()
	s := connectedSession(t, mt)

	action := schemas.Action{Type: schemas.ActionTypeText, Text: "focused"}
	require.NoError(t, s.ExecuteAction(context.Background(), action, nil))

	sent := mt.sentCommands()
	require.Len(t, sent, 1)
	assert.Equal(t, input.CommandInsertText, sent[0].method)
}

func TestTypeWithoutText(t *testing.T) {
	mt := newMockTransport()
	s := connectedSession(t, mt)

	err := s.ExecuteAction(context.Background(), schemas.Action{Type: schemas.ActionTypeText}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrInvalidArgs)
	assert.Empty(t, mt.sentCommands())
}

// =============================================================================
// Scroll
// =============================================================================

func TestScrollDefaultsDownward(t *testing.T) {
	mt := newMockTransport()
	s := connectedSession(t, mt)

	action := schemas.Action{Type: schemas.ActionScroll, Direction: schemas.ScrollDown}
	require.NoError(t, s.ExecuteAction(context.Background(), action, nil))

	sent := mt.sentCommands()
	require.Len(t, sent, 1)
	p := sent[0].params.(*input.DispatchMouseEventParams)
	assert.Equal(t, input.MouseWheel, p.Type)
	assert.Equal(t, 300.0, p.DeltaY)
	assert.Equal(t, 0.0, p.DeltaX)
}

func TestScrollUpNegativeDelta(t *testing.T) {
	mt := newMockTransport()
	s := connectedSession(t, mt)

	action := schemas.Action{Type: schemas.ActionScroll, Direction: schemas.ScrollUp, Amount: 120}
	require.NoError(t, s.ExecuteAction(context.Background(), action, nil))

	p := mt.sentCommands()[0].params.(*input.DispatchMouseEventParams)
	assert.Equal(t, -120.0, p.DeltaY)
}

func TestScrollAtElementCenter(t *testing.T) {
	mt := newMockTransport()
	s := connectedSession(t, mt)

	action := schemas.Action{Type: schemas.ActionScroll, Direction: schemas.ScrollDown, ElementID: intPtr(7)}
	require.NoError(t, s.ExecuteAction(context.Background(), action, testElements()))

	p := mt.sentCommands()[0].params.(*input.DispatchMouseEventParams)
	assert.Equal(t, 60.0, p.X)
	assert.Equal(t, 35.0, p.Y)
}

func TestScrollBadDirection(t *testing.T) {
	mt := newMockTransport()
	s := connectedSession(t, mt)

	action := schemas.Action{Type: schemas.ActionScroll, Direction: "sideways"}
	err := s.ExecuteAction(context.Background(), action, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrInvalidArgs)
}

// =============================================================================
// Screenshot
// =============================================================================

func TestCaptureScreenshotDecodesPayload(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	mt := newMockTransport()
	mt.onSend = func(method string, params, result interface{}) error {
		if res, ok := result.(*page.CaptureScreenshotReturns); ok {
			res.Data = base64.StdEncoding.EncodeToString(raw)
		}
		return nil
	}
	s := connectedSession(t, mt)

	shot, err := s.CaptureScreenshot(context.Background())
	require.NoError(t, err)
	// Raw PNG bytes, not the base64 text off the wire.
	assert.Equal(t, raw, shot.PNG)

	sent := mt.sentCommands()
	require.Len(t, sent, 1)
	assert.Equal(t, page.CommandCaptureScreenshot, sent[0].method)
}

func TestCaptureScreenshotRejectsBadPayload(t *testing.T) {
	mt := newMockTransport()
	mt.onSend = func(method string, params, result interface{}) error {
		if res, ok := result.(*page.CaptureScreenshotReturns); ok {
			res.Data = "not base64 at all!!!"
		}
		return nil
	}
	s := connectedSession(t, mt)

	_, err := s.CaptureScreenshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode screenshot payload")
}

// =============================================================================
// Navigate / Wait / Done
// =============================================================================

func TestNavigateSendsPageNavigate(t *testing.T) {
	mt := newMockTransport()
	s := connectedSession(t, mt)

	require.NoError(t, s.Navigate(context.Background(), "https://example.com"))

	sent := mt.sentCommands()
	require.Len(t, sent, 1)
	assert.Equal(t, page.CommandNavigate, sent[0].method)
	p := sent[0].params.(*page.NavigateParams)
	assert.Equal(t, "https://example.com", p.URL)
}

func TestNavigateEmptyURL(t *testing.T) {
	mt := newMockTransport()
	s := connectedSession(t, mt)

	err := s.Navigate(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrInvalidArgs)
}

func TestNavigateSurfacesErrorText(t *testing.T) {
	mt := newMockTransport()
	mt.onSend = func(method string, params, result interface{}) error {
		if res, ok := result.(*page.NavigateReturns); ok {
			res.ErrorText = "net::ERR_NAME_NOT_RESOLVED"
		}
		return nil
	}
	s := connectedSession(t, mt)

	err := s.Navigate(context.Background(), "https://nope.invalid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_NAME_NOT_RESOLVED")
}

func TestWaitHonorsCancellation(t *testing.T) {
	mt := newMockTransport()
	opts := testOptions()
	opts.DefaultWait = time.Minute
	s := NewSession(1, mt, opts, zap.NewNop())
	require.NoError(t, s.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := s.ExecuteAction(ctx, schemas.Action{Type: schemas.ActionWait}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoneIsANoOp(t *testing.T) {
	mt := newMockTransport()
	s := connectedSession(t, mt)

	require.NoError(t, s.ExecuteAction(context.Background(), schemas.Action{Type: schemas.ActionDone}, nil))
	assert.Empty(t, mt.sentCommands())
}

func TestUnknownActionType(t *testing.T) {
	mt := newMockTransport()
	s := connectedSession(t, mt)

	err := s.ExecuteAction(context.Background(), schemas.Action{Type: "TELEPORT"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrUnknownAction)
}

func TestSendErrorPropagates(t *testing.T) {
	mt := newMockTransport()
	mt.sendErr = errors.New("socket closed")
	s := connectedSession(t, mt)

	_, err := s.CaptureScreenshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "socket closed")
}
