// api/schemas/browser.go
package schemas

// WindowID identifies an OS-level browser window. IDs are supplied by the host
// environment, are unique within a running process, and are never reused while
// the window is alive.
type WindowID int64

// TabID identifies a single tab. Same uniqueness guarantees as WindowID.
type TabID int64

// ActiveSelector names the tab the control plane currently considers "active".
// It is passed explicitly through calls instead of being read from a hidden
// global, so races between concurrent lifecycle handlers stay visible.
type ActiveSelector struct {
	WindowID WindowID
	TabID    TabID
}

// BoundingBox is the viewport-relative geometry of an interactive element, as
// reported by the in-page scan. All coordinates are CSS pixels.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Center returns the midpoint of the box, the default click target.
func (b BoundingBox) Center() (x, y float64) {
	return b.Left + b.Width/2, b.Top + b.Height/2
}

// ElementDescriptor describes one interactive element found by an observation
// pass. The ID is sequential and unique only within that pass: the moment a new
// pass runs, every previously issued ID is void.
type ElementDescriptor struct {
	ID         int               `json:"id"`
	TagName    string            `json:"tagName"`
	Text       string            `json:"text"` // trimmed to 100 chars by the scanner
	Box        BoundingBox       `json:"boundingBox"`
	Attributes map[string]string `json:"attributes"`
	Scrollable bool              `json:"scrollable"`
}

// FindElement resolves a pass-local element ID against a snapshot. The second
// return is false when the ID is absent (stale or fabricated).
func FindElement(elements []ElementDescriptor, id int) (ElementDescriptor, bool) {
	for _, el := range elements {
		if el.ID == id {
			return el, true
		}
	}
	return ElementDescriptor{}, false
}

// Screenshot is a captured frame of the active tab.
type Screenshot struct {
	PNG []byte // raw PNG bytes
}
