package doctree

import (
	"errors"
	"testing"
)

func sampleTree() Tree {
	// "The quick brown fox jumps over the lazy dog" split across leaves the
	// way a markdown renderer would emit it.
	return New(
		Leaf{ID: "p1.t1", Text: "The quick "},
		Leaf{ID: "p1.em", Text: "brown"},
		Leaf{ID: "p1.t2", Text: " fox jumps "},
		Leaf{ID: "p2.t1", Text: "over the lazy dog"},
	)
}

func TestTotalLen(t *testing.T) {
	tree := sampleTree()
	if got, want := tree.TotalLen(), 43; got != want {
		t.Fatalf("TotalLen = %d, want %d", got, want)
	}
}

func TestOffsetsFromAnchors(t *testing.T) {
	tree := sampleTree()
	// Select "brown fox": starts at leaf p1.em offset 0, ends at p1.t2 offset 4.
	start, end, err := tree.Offsets(Anchor{LeafID: "p1.em"}, Anchor{LeafID: "p1.t2", Offset: 4})
	if err != nil {
		t.Fatalf("Offsets: %v", err)
	}
	if start != 10 || end != 19 {
		t.Errorf("got [%d,%d), want [10,19)", start, end)
	}
}

func TestOffsetsUnknownLeaf(t *testing.T) {
	tree := sampleTree()
	if _, _, err := tree.Offsets(Anchor{LeafID: "gone"}, Anchor{LeafID: "p1.t2"}); !errors.Is(err, ErrNoMapping) {
		t.Errorf("expected ErrNoMapping, got %v", err)
	}
	if _, _, err := tree.Offsets(Anchor{LeafID: "p1.em", Offset: 99}, Anchor{LeafID: "p1.t2"}); !errors.Is(err, ErrNoMapping) {
		t.Errorf("expected ErrNoMapping for out-of-leaf offset, got %v", err)
	}
}

func TestVisualRangesSpansLeaves(t *testing.T) {
	tree := sampleTree()
	spans, err := tree.VisualRanges(10, 19) // "brown fox"
	if err != nil {
		t.Fatalf("VisualRanges: %v", err)
	}
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d: %+v", len(spans), spans)
	}
	if got := tree.Text(spans[0]) + tree.Text(spans[1]); got != "brown fox" {
		t.Errorf("covered text = %q, want %q", got, "brown fox")
	}
}

func TestVisualRangesSingleLeaf(t *testing.T) {
	tree := sampleTree()
	spans, err := tree.VisualRanges(4, 9) // "quick"
	if err != nil {
		t.Fatalf("VisualRanges: %v", err)
	}
	if len(spans) != 1 || tree.Text(spans[0]) != "quick" {
		t.Errorf("unexpected spans: %+v", spans)
	}
}

func TestVisualRangesOutOfBounds(t *testing.T) {
	tree := sampleTree()
	for _, tc := range [][2]int{{5, 200}, {-1, 4}, {9, 9}, {12, 10}} {
		if _, err := tree.VisualRanges(tc[0], tc[1]); !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("VisualRanges(%d,%d): expected ErrOutOfBounds, got %v", tc[0], tc[1], err)
		}
	}
}

// Every valid interval must survive a visual round trip against an unchanged
// tree: VisualRanges then Offsets over the resulting anchors yields exactly
// the interval we started from.
func TestRoundTripAllIntervals(t *testing.T) {
	tree := sampleTree()
	total := tree.TotalLen()
	for start := 0; start < total; start++ {
		for end := start + 1; end <= total; end++ {
			spans, err := tree.VisualRanges(start, end)
			if err != nil {
				t.Fatalf("VisualRanges(%d,%d): %v", start, end, err)
			}
			first := spans[0]
			last := spans[len(spans)-1]
			gotStart, gotEnd, err := tree.Offsets(
				Anchor{LeafID: first.LeafID, Offset: first.Start},
				Anchor{LeafID: last.LeafID, Offset: last.End},
			)
			if err != nil {
				t.Fatalf("Offsets round trip (%d,%d): %v", start, end, err)
			}
			if gotStart != start || gotEnd != end {
				t.Fatalf("round trip (%d,%d) -> (%d,%d)", start, end, gotStart, gotEnd)
			}
		}
	}
}

// A content-identical tree rendered with fresh leaf ids maps the same
// interval to the same covered text, independent of how leaves were split.
func TestDeterministicAcrossRerender(t *testing.T) {
	rerendered := New(
		Leaf{ID: "x1", Text: "The quick brown"},
		Leaf{ID: "x2", Text: " fox jumps over the lazy dog"},
	)
	original := sampleTree()

	for _, interval := range [][2]int{{10, 19}, {0, 3}, {20, 43}} {
		a, errA := original.VisualRanges(interval[0], interval[1])
		b, errB := rerendered.VisualRanges(interval[0], interval[1])
		if errA != nil || errB != nil {
			t.Fatalf("VisualRanges failed: %v / %v", errA, errB)
		}
		var textA, textB string
		for _, s := range a {
			textA += original.Text(s)
		}
		for _, s := range b {
			textB += rerendered.Text(s)
		}
		if textA != textB {
			t.Errorf("interval %v: %q vs %q", interval, textA, textB)
		}
	}
}
