// internal/sessiontree/intents.go
package sessiontree

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

func success(data interface{}) schemas.IntentResult {
	return schemas.IntentResult{Success: true, Data: data}
}

func failure(err error) schemas.IntentResult {
	return schemas.IntentResult{Success: false, Error: err.Error()}
}

// Handle routes one intent to the active tab. Every intent resolves the
// active tab afresh so a tab switch between two intents is honored.
func (t *Tree) Handle(ctx context.Context, intent schemas.Intent) schemas.IntentResult {
	ts, err := t.CurrentTab(ctx)
	if err != nil {
		return failure(err)
	}

	switch intent.Type {
	case schemas.IntentCaptureScreenshot:
		return t.captureScreenshot(ctx, ts)
	case schemas.IntentMarkElements:
		return t.markElements(ctx, ts)
	case schemas.IntentGetElements:
		return success(ts.Observation())
	case schemas.IntentClearMarkers:
		return t.clearMarkers(ctx, ts)
	case schemas.IntentExecuteAction:
		return t.executeAction(ctx, ts, intent)
	default:
		return failure(fmt.Errorf("unknown intent type %q: %w", intent.Type, schemas.ErrInvalidArgs))
	}
}

func (t *Tree) captureScreenshot(ctx context.Context, ts *TabState) schemas.IntentResult {
	sess, err := ts.EnsureSession(ctx)
	if err != nil {
		return failure(err)
	}
	shot, err := sess.CaptureScreenshot(ctx)
	if err != nil {
		return failure(err)
	}
	return success(shot)
}

// markElements runs the observation pass and caches the result. A page that
// fails to answer gets exactly one retry after a short delay; a second
// failure escalates as ErrContentUnresponsive.
func (t *Tree) markElements(ctx context.Context, ts *TabState) schemas.IntentResult {
	if _, err := ts.EnsureSession(ctx); err != nil {
		return failure(err)
	}

	elements, err := t.observer.Observe(ctx, ts.ID())
	if err != nil {
		t.logger.Debug("Element scan failed; retrying once.",
			zap.Int64("tab_id", int64(ts.ID())), zap.Error(err))
		select {
		case <-ctx.Done():
			return failure(ctx.Err())
		case <-time.After(t.opts.ObserveRetryDelay):
		}
		elements, err = t.observer.Observe(ctx, ts.ID())
		if err != nil {
			return failure(fmt.Errorf("tab %d did not answer the element scan: %w: %w",
				ts.ID(), schemas.ErrContentUnresponsive, err))
		}
	}

	ts.SetObservation(elements)
	return success(elements)
}

// clearMarkers is best-effort with its own deadline; a vanished tab or an
// unresponsive page never turns into a caller-visible failure.
func (t *Tree) clearMarkers(ctx context.Context, ts *TabState) schemas.IntentResult {
	cctx, cancel := context.WithTimeout(ctx, t.opts.MarkerClearTimeout)
	defer cancel()
	if err := t.observer.ClearMarkers(cctx, ts.ID()); err != nil {
		t.logger.Debug("Marker cleanup failed; ignoring.",
			zap.Int64("tab_id", int64(ts.ID())), zap.Error(err))
	}
	return success(nil)
}

func (t *Tree) executeAction(ctx context.Context, ts *TabState, intent schemas.Intent) schemas.IntentResult {
	if intent.Action == nil {
		return failure(fmt.Errorf("execute intent without action: %w", schemas.ErrInvalidArgs))
	}
	sess, err := ts.EnsureSession(ctx)
	if err != nil {
		return failure(err)
	}

	elements := intent.Elements
	if elements == nil {
		elements = ts.Observation()
	}

	if err := sess.ExecuteAction(ctx, *intent.Action, elements); err != nil {
		return failure(err)
	}
	if intent.Action.Type == schemas.ActionNavigate {
		ts.NoteNavigated(intent.Action.URL)
	}
	return success(nil)
}
