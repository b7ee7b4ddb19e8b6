// Package doctree models rendered document content as an ordered sequence of
// immutable text leaves and maps between character offsets over the logical
// document text and per-leaf anchor positions. The logical offset space is
// the concatenation of every leaf's text in document order; offset 0 is the
// first character of the first leaf.
package doctree

import "errors"

var (
	// ErrNoMapping reports that an anchor leaf is absent from the tree.
	ErrNoMapping = errors.New("doctree: anchor leaf not found")
	// ErrOutOfBounds reports offsets outside [0, total text length].
	ErrOutOfBounds = errors.New("doctree: offsets out of bounds")
)

// Leaf is a minimal text-bearing node of the rendered content tree.
type Leaf struct {
	ID   string
	Text string
}

// Tree is a snapshot of the rendered content, leaves in document order.
// It is read-only input; nothing in this package mutates it.
type Tree struct {
	Leaves []Leaf
}

// New builds a tree snapshot from leaves in document order.
func New(leaves ...Leaf) Tree {
	return Tree{Leaves: leaves}
}

// TotalLen is the length of the logical document text.
func (t Tree) TotalLen() int {
	total := 0
	for _, leaf := range t.Leaves {
		total += len(leaf.Text)
	}
	return total
}

// Anchor addresses a position inside a specific leaf.
type Anchor struct {
	LeafID string
	Offset int
}

// Span is a contiguous subrange of a single leaf, half-open [Start,End).
type Span struct {
	LeafID string
	Start  int
	End    int
}

// Text returns the text covered by the span, or "" if the leaf is gone.
func (t Tree) Text(s Span) string {
	for _, leaf := range t.Leaves {
		if leaf.ID == s.LeafID {
			if s.Start < 0 || s.End > len(leaf.Text) || s.Start > s.End {
				return ""
			}
			return leaf.Text[s.Start:s.End]
		}
	}
	return ""
}

// Offsets converts a visual selection, expressed as start and end anchors,
// into logical character offsets. Each anchor resolves to the sum of full
// leaf lengths preceding its leaf plus the intra-leaf offset. Fails with
// ErrNoMapping when either anchor leaf is not in the tree.
func (t Tree) Offsets(start, end Anchor) (int, int, error) {
	startOff, ok := t.resolve(start)
	if !ok {
		return 0, 0, ErrNoMapping
	}
	endOff, ok := t.resolve(end)
	if !ok {
		return 0, 0, ErrNoMapping
	}
	return startOff, endOff, nil
}

func (t Tree) resolve(a Anchor) (int, bool) {
	running := 0
	for _, leaf := range t.Leaves {
		if leaf.ID == a.LeafID {
			if a.Offset < 0 || a.Offset > len(leaf.Text) {
				return 0, false
			}
			return running + a.Offset, true
		}
		running += len(leaf.Text)
	}
	return 0, false
}

// VisualRanges converts a logical interval [start,end) into the ordered leaf
// subranges it covers. A single interval may span several leaves; the caller
// gets every piece, in document order. Fails with ErrOutOfBounds when the
// interval escapes [0, TotalLen()] or start >= end.
func (t Tree) VisualRanges(start, end int) ([]Span, error) {
	if start < 0 || end > t.TotalLen() || start >= end {
		return nil, ErrOutOfBounds
	}

	var spans []Span
	running := 0
	for _, leaf := range t.Leaves {
		leafEnd := running + len(leaf.Text)
		if leafEnd > start && running < end {
			s := 0
			if start > running {
				s = start - running
			}
			e := len(leaf.Text)
			if end < leafEnd {
				e = end - running
			}
			if s < e {
				spans = append(spans, Span{LeafID: leaf.ID, Start: s, End: e})
			}
		}
		running = leafEnd
		if running >= end {
			break
		}
	}
	if len(spans) == 0 {
		return nil, ErrNoMapping
	}
	return spans, nil
}
