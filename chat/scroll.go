package chat

import "time"

const (
	// bottomThreshold is how close to the end of the content, in pixels,
	// still counts as "at the bottom".
	bottomThreshold = 100
	// dragDebounce absorbs scroll momentum after the finger lifts.
	dragDebounce = 500 * time.Millisecond
)

// ScrollState is a snapshot of the list viewport at the moment a mutation
// runs. It is a plain value; the Guard owns the live copy.
type ScrollState struct {
	OffsetY        float64
	ContentHeight  float64
	ViewportHeight float64
	Dragging       bool
}

// AtBottom reports whether the viewport shows the end of the content,
// within bottomThreshold pixels.
func (s ScrollState) AtBottom() bool {
	return s.ContentHeight-s.OffsetY-s.ViewportHeight < bottomThreshold
}

// A Guard tracks the user's scroll interaction so mutating actions can
// decide between following new content and holding position. Methods are
// driven by the platform's scroll callbacks and are not safe for
// concurrent use; the owning controller serializes access.
type Guard struct {
	offsetY        float64
	contentHeight  float64
	viewportHeight float64
	dragging       bool
	dragEnded      time.Time

	now func() time.Time
}

// NewGuard returns a Guard using the wall clock.
func NewGuard() *Guard {
	return &Guard{now: time.Now}
}

// Track records the viewport geometry reported by a scroll frame.
func (g *Guard) Track(offsetY, contentHeight, viewportHeight float64) {
	g.offsetY = offsetY
	g.contentHeight = contentHeight
	g.viewportHeight = viewportHeight
}

// BeginDrag marks the start of a user drag.
func (g *Guard) BeginDrag() {
	g.dragging = true
}

// EndDrag marks the end of a user drag. Dragging keeps reporting true for
// dragDebounce afterwards so momentum scrolling is not mistaken for rest.
func (g *Guard) EndDrag() {
	g.dragging = false
	g.dragEnded = g.now()
}

// Dragging reports whether the user is interacting with the list, including
// the debounce window after the last drag ended.
func (g *Guard) Dragging() bool {
	if g.dragging {
		return true
	}
	return !g.dragEnded.IsZero() && g.now().Sub(g.dragEnded) < dragDebounce
}

// State snapshots the guard for a reconciliation or mutation decision.
func (g *Guard) State() ScrollState {
	return ScrollState{
		OffsetY:        g.offsetY,
		ContentHeight:  g.contentHeight,
		ViewportHeight: g.viewportHeight,
		Dragging:       g.Dragging(),
	}
}
