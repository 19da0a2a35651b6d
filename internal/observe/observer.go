// internal/observe/observer.go

// Package observe runs the interactive-element scan inside a page. It injects
// a script that finds visible interactive elements, paints numbered marker
// overlays next to them, and reports geometry and salient attributes back.
// Element IDs are pass-local: every scan starts a fresh ID space.
package observe

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/runtime"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// markerContainerID names the overlay root so a later pass can find and
// remove it.
const markerContainerID = "__wp_marker_container"

// scanScript enumerates candidate interactive elements, filters to the
// visible ones, draws a numbered badge at each element's top-left corner, and
// returns a JSON array of descriptors ordered by document position. The index
// in that array is the element's ID for this pass.
const scanScript = `
(() => {
  const SELECTOR = [
    'a[href]', 'button', 'input', 'select', 'textarea',
    '[onclick]', '[role="button"]', '[role="link"]', '[role="tab"]',
    '[role="checkbox"]', '[role="menuitem"]', '[role="combobox"]',
    '[tabindex]', '[contenteditable="true"]'
  ].join(',');

  const old = document.getElementById('` + markerContainerID + `');
  if (old) old.remove();

  const container = document.createElement('div');
  container.id = '` + markerContainerID + `';
  container.style.cssText = 'position:absolute;top:0;left:0;pointer-events:none;z-index:2147483647;';

  const out = [];
  const seen = new Set();
  for (const el of document.querySelectorAll(SELECTOR)) {
    if (seen.has(el)) continue;
    seen.add(el);

    const style = window.getComputedStyle(el);
    if (style.display === 'none' || style.visibility === 'hidden' || style.opacity === '0') continue;
    if (el.disabled) continue;

    const rect = el.getBoundingClientRect();
    if (rect.width < 2 || rect.height < 2) continue;
    if (rect.bottom < 0 || rect.right < 0 ||
        rect.top > window.innerHeight || rect.left > window.innerWidth) continue;

    let text = (el.innerText || el.value || el.placeholder ||
                el.getAttribute('aria-label') || el.getAttribute('title') || '').trim();
    text = text.replace(/\s+/g, ' ');
    if (text.length > 100) text = text.slice(0, 100);

    const attrs = {};
    for (const name of ['href', 'type', 'name', 'placeholder', 'role', 'aria-label', 'value']) {
      const v = el.getAttribute(name);
      if (v) attrs[name] = v.length > 100 ? v.slice(0, 100) : v;
    }

    const scrollable = el.scrollHeight > el.clientHeight + 2 &&
                       ['auto', 'scroll'].includes(style.overflowY);

    const id = out.length;
    out.push({
      tag: el.tagName.toLowerCase(),
      text: text,
      left: rect.left, top: rect.top,
      width: rect.width, height: rect.height,
      attrs: attrs,
      scrollable: scrollable
    });

    const badge = document.createElement('div');
    badge.textContent = String(id);
    badge.style.cssText =
      'position:absolute;' +
      'left:' + (rect.left + window.scrollX) + 'px;' +
      'top:' + (rect.top + window.scrollY) + 'px;' +
      'background:#d33;color:#fff;font:bold 11px monospace;' +
      'padding:1px 3px;border-radius:3px;pointer-events:none;';
    container.appendChild(badge);
  }

  document.body.appendChild(container);
  return JSON.stringify(out);
})()
`

// clearScript removes the marker overlay. Harmless when no overlay exists.
const clearScript = `
(() => {
  const c = document.getElementById('` + markerContainerID + `');
  if (c) c.remove();
  return true;
})()
`

// rawElement mirrors the scan script's per-element output.
type rawElement struct {
	Tag        string            `json:"tag"`
	Text       string            `json:"text"`
	Left       float64           `json:"left"`
	Top        float64           `json:"top"`
	Width      float64           `json:"width"`
	Height     float64           `json:"height"`
	Attrs      map[string]string `json:"attrs"`
	Scrollable bool              `json:"scrollable"`
}

// Observer implements schemas.ElementObserver over a Transport.
type Observer struct {
	transport schemas.Transport
	logger    *zap.Logger
}

var _ schemas.ElementObserver = (*Observer)(nil)

func New(transport schemas.Transport, logger *zap.Logger) *Observer {
	return &Observer{
		transport: transport,
		logger:    logger.Named("observe"),
	}
}

// Observe runs the scan in the tab and returns the visible interactive
// elements in document order. IDs are assigned from the slice index; they are
// only meaningful against this pass's snapshot.
func (o *Observer) Observe(ctx context.Context, tab schemas.TabID) ([]schemas.ElementDescriptor, error) {
	payload, err := o.evaluate(ctx, tab, scanScript)
	if err != nil {
		return nil, fmt.Errorf("element scan: %w", err)
	}

	var raw []rawElement
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("element scan returned malformed payload: %w", err)
	}

	elements := make([]schemas.ElementDescriptor, 0, len(raw))
	for i, r := range raw {
		elements = append(elements, schemas.ElementDescriptor{
			ID:      i,
			TagName: r.Tag,
			Text:    r.Text,
			Box: schemas.BoundingBox{
				X:      r.Left,
				Y:      r.Top,
				Left:   r.Left,
				Top:    r.Top,
				Right:  r.Left + r.Width,
				Bottom: r.Top + r.Height,
				Width:  r.Width,
				Height: r.Height,
			},
			Attributes: r.Attrs,
			Scrollable: r.Scrollable,
		})
	}

	o.logger.Debug("Element scan complete.",
		zap.Int64("tab_id", int64(tab)),
		zap.Int("elements", len(elements)))
	return elements, nil
}

// ClearMarkers removes the overlay. Failures are logged and swallowed; the
// overlay disappears on navigation anyway.
func (o *Observer) ClearMarkers(ctx context.Context, tab schemas.TabID) error {
	if _, err := o.evaluate(ctx, tab, clearScript); err != nil {
		o.logger.Debug("Marker cleanup failed; ignoring.",
			zap.Int64("tab_id", int64(tab)), zap.Error(err))
	}
	return nil
}

// evaluate runs an expression in the page and returns its by-value result.
func (o *Observer) evaluate(ctx context.Context, tab schemas.TabID, expr string) ([]byte, error) {
	params := runtime.Evaluate(expr).WithReturnByValue(true)
	var res runtime.EvaluateReturns
	if err := o.transport.Send(ctx, tab, runtime.CommandEvaluate, params, &res); err != nil {
		return nil, err
	}
	if res.ExceptionDetails != nil {
		return nil, fmt.Errorf("script threw: %s", res.ExceptionDetails.Text)
	}
	if res.Result == nil {
		return nil, fmt.Errorf("script returned no result")
	}

	// The scan returns a JSON string; unwrap the outer string encoding.
	var s string
	if err := json.Unmarshal([]byte(res.Result.Value), &s); err != nil {
		// Non-string results (e.g. clearScript's boolean) pass through raw.
		return []byte(res.Result.Value), nil
	}
	return []byte(s), nil
}
