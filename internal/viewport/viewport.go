// Package viewport tracks the rectangular region of the map the upstream
// service is asked to stream positions for.
//
// The region is an orb.Bound internally and is rendered into the wire shape
// (top-left / bottom-right corners) only when a control frame is built. A
// Tracker only ever grows its box; a fresh box is computed on every new
// connection via Reset.
package viewport

import (
	"math"
	"sync"

	"github.com/paulmach/orb"
)

// DefaultPadding is used when a Tracker is built with a non-positive padding.
const DefaultPadding = 0.1

// Corner is a single longitude/latitude pair in the wire format.
type Corner struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Viewport is the visible region as exchanged with the upstream service.
// BottomRight.Lon >= TopLeft.Lon and TopLeft.Lat >= BottomRight.Lat.
type Viewport struct {
	TopLeft     Corner `json:"topLeft"`
	BottomRight Corner `json:"bottomRight"`
}

// FromBound converts an orb.Bound into the wire representation.
func FromBound(b orb.Bound) Viewport {
	return Viewport{
		TopLeft:     Corner{Lon: b.Left(), Lat: b.Top()},
		BottomRight: Corner{Lon: b.Right(), Lat: b.Bottom()},
	}
}

// Bound converts the viewport back into an orb.Bound.
func (v Viewport) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{v.TopLeft.Lon, v.BottomRight.Lat},
		Max: orb.Point{v.BottomRight.Lon, v.TopLeft.Lat},
	}
}

// Contains reports whether p lies inside v, edges included.
func (v Viewport) Contains(p orb.Point) bool {
	return v.Bound().Contains(p)
}

// ContainsViewport reports whether other lies entirely inside v.
func (v Viewport) ContainsViewport(other Viewport) bool {
	b := other.Bound()
	return v.Contains(b.Min) && v.Contains(b.Max)
}

// InitFromPoints returns the bounding box of points padded by an absolute
// offset of padding degrees on every side. No points yields the zero box.
func InitFromPoints(points []orb.Point, padding float64) Viewport {
	if len(points) == 0 {
		return Viewport{}
	}
	return FromBound(orb.MultiPoint(points).Bound().Pad(padding))
}

// Tracker owns the viewport of one connection.
type Tracker struct {
	mu      sync.Mutex
	padding float64
	current Viewport
	seeded  bool
}

// NewTracker creates a tracker. padding is used both as the flat degree
// offset at Reset and as the fraction of span added on expansion.
func NewTracker(padding float64) *Tracker {
	if padding <= 0 {
		padding = DefaultPadding
	}
	return &Tracker{padding: padding}
}

// Padding returns the configured padding.
func (t *Tracker) Padding() float64 {
	return t.padding
}

// Reset recomputes the viewport from a snapshot of known positions and
// returns it. Called once per established connection.
func (t *Tracker) Reset(points []orb.Point) Viewport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = InitFromPoints(points, t.padding)
	t.seeded = len(points) > 0
	return t.current
}

// Current returns the viewport as last sent.
func (t *Tracker) Current() Viewport {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// ExpandIfNeeded grows the viewport so that it covers p plus a margin
// proportional to the current span. It reports whether the box changed.
//
// A tracker reset with no points has nothing to take a span from, so the
// first point it sees seeds the box with the flat padding instead.
func (t *Tracker) ExpandIfNeeded(p orb.Point) (Viewport, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.seeded {
		t.current = InitFromPoints([]orb.Point{p}, t.padding)
		t.seeded = true
		return t.current, true
	}
	if t.current.Contains(p) {
		return t.current, false
	}

	b := t.current.Bound()
	padLon := (b.Right() - b.Left()) * t.padding
	padLat := (b.Top() - b.Bottom()) * t.padding

	grown := orb.Bound{
		Min: orb.Point{
			math.Min(b.Left(), p.Lon()-padLon),
			math.Min(b.Bottom(), p.Lat()-padLat),
		},
		Max: orb.Point{
			math.Max(b.Right(), p.Lon()+padLon),
			math.Max(b.Top(), p.Lat()+padLat),
		},
	}
	t.current = FromBound(grown)
	return t.current, true
}
