// Package overlay computes the screen rectangles for a set of highlight
// anchors against a rendered leaf tree. Geometry measurement is an injected
// capability so the computation runs without a real display.
package overlay

import (
	"marginalia/api/internal/doctree"
)

// Rect is an axis-aligned rectangle in measurer coordinates.
type Rect struct {
	X float64
	Y float64
	W float64
	H float64
}

// Point is a 2D position.
type Point struct {
	X float64
	Y float64
}

// Contains reports whether p falls inside the rectangle.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.X+r.W && p.Y >= r.Y && p.Y < r.Y+r.H
}

// Anchor is one highlight to draw: a logical offset interval plus a color.
type Anchor struct {
	HighlightID string
	Start       int
	End         int
	Color       string
}

// Box is one rectangle to paint, mapped back to its highlight for hit
// targeting.
type Box struct {
	HighlightID string
	Rect        Rect
	Color       string
}

// Measurer reports the bounding rectangles of a leaf subrange. A subrange
// that wraps visual lines yields several rectangles.
type Measurer interface {
	Measure(leafID string, start, end int) []Rect
}

// Compositor turns anchors into drawable boxes. It holds no state across
// Compute calls: rectangle geometry is layout dependent and must be
// recomputed whenever the highlight set, the rendered content, or the
// container changes.
type Compositor struct {
	measurer Measurer
}

// New creates a compositor over the given geometry capability.
func New(measurer Measurer) *Compositor {
	return &Compositor{measurer: measurer}
}

// Compute resolves every anchor against the tree and returns the boxes to
// draw, translated into container-relative coordinates. Anchors whose
// offsets no longer map to the tree are skipped and returned as orphaned
// highlight ids; they must not break rendering of the rest.
//
// Boxes are emitted in anchors order, so later anchors draw on top.
func (c *Compositor) Compute(anchors []Anchor, tree doctree.Tree, origin Point) ([]Box, []string) {
	var boxes []Box
	var orphaned []string

	for _, anchor := range anchors {
		spans, err := tree.VisualRanges(anchor.Start, anchor.End)
		if err != nil {
			orphaned = append(orphaned, anchor.HighlightID)
			continue
		}
		for _, span := range spans {
			for _, rect := range c.measurer.Measure(span.LeafID, span.Start, span.End) {
				boxes = append(boxes, Box{
					HighlightID: anchor.HighlightID,
					Rect: Rect{
						X: rect.X - origin.X,
						Y: rect.Y - origin.Y,
						W: rect.W,
						H: rect.H,
					},
					Color: anchor.Color,
				})
			}
		}
	}
	return boxes, orphaned
}

// HitTest maps a click point to the highlight that owns the topmost box
// under it. Topmost means last drawn: when boxes overlap, the latest anchor
// in the Compute input wins.
func HitTest(boxes []Box, p Point) (string, bool) {
	for i := len(boxes) - 1; i >= 0; i-- {
		if boxes[i].Rect.Contains(p) {
			return boxes[i].HighlightID, true
		}
	}
	return "", false
}
