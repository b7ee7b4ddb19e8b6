package app

import (
	"testing"
	"time"

	"marginalia/api/internal/store"
)

func strPtr(s string) *string { return &s }

func graphFixture() []store.Comment {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hl := "hl-1"
	return []store.Comment{
		// Out of creation order on purpose; BuildGraph must sort.
		{ID: "c2", HighlightID: &hl, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "c1", HighlightID: &hl, CreatedAt: base},
		{ID: "g1", CreatedAt: base.Add(time.Minute)},
		{ID: "r2", HighlightID: &hl, ParentCommentID: strPtr("c1"), CreatedAt: base.Add(4 * time.Minute)},
		{ID: "r1", HighlightID: &hl, ParentCommentID: strPtr("c1"), CreatedAt: base.Add(3 * time.Minute)},
		{ID: "r1a", HighlightID: &hl, ParentCommentID: strPtr("r1"), CreatedAt: base.Add(5 * time.Minute)},
	}
}

func TestBuildGraphBucketsRootsByHighlight(t *testing.T) {
	g := BuildGraph(graphFixture())

	hl := "hl-1"
	roots := g.RootsFor(&hl)
	if len(roots) != 2 {
		t.Fatalf("expected 2 roots for hl-1, got %d", len(roots))
	}
	if roots[0].ID != "c1" || roots[1].ID != "c2" {
		t.Fatalf("expected roots ordered c1, c2, got %s, %s", roots[0].ID, roots[1].ID)
	}

	general := g.RootsFor(nil)
	if len(general) != 1 || general[0].ID != "g1" {
		t.Fatalf("expected general root g1, got %+v", general)
	}
}

func TestBuildGraphRepliesOrderedOldestFirst(t *testing.T) {
	g := BuildGraph(graphFixture())

	replies := g.RepliesOf("c1")
	if len(replies) != 2 {
		t.Fatalf("expected 2 direct replies of c1, got %d", len(replies))
	}
	if replies[0].ID != "r1" || replies[1].ID != "r2" {
		t.Fatalf("expected replies ordered r1, r2, got %s, %s", replies[0].ID, replies[1].ID)
	}
	if g.ReplyCount("c1") != 2 {
		t.Fatalf("ReplyCount must count direct children only, got %d", g.ReplyCount("c1"))
	}
	if g.ReplyCount("r1") != 1 {
		t.Fatalf("expected 1 reply of r1, got %d", g.ReplyCount("r1"))
	}
	if g.ReplyCount("r1a") != 0 {
		t.Fatalf("expected leaf to have no replies, got %d", g.ReplyCount("r1a"))
	}
}

func TestSubtreeIsLeafFirst(t *testing.T) {
	g := BuildGraph(graphFixture())

	ids := g.Subtree("c1")
	if len(ids) != 4 {
		t.Fatalf("expected subtree of 4 comments, got %d: %v", len(ids), ids)
	}
	if ids[len(ids)-1] != "c1" {
		t.Fatalf("target must come last, got %v", ids)
	}
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	if pos["r1a"] > pos["r1"] {
		t.Fatalf("child r1a must precede its parent r1: %v", ids)
	}
	if pos["r1"] > pos["c1"] || pos["r2"] > pos["c1"] {
		t.Fatalf("children must precede the root: %v", ids)
	}
}

func TestSubtreeOfLeaf(t *testing.T) {
	g := BuildGraph(graphFixture())
	ids := g.Subtree("r1a")
	if len(ids) != 1 || ids[0] != "r1a" {
		t.Fatalf("expected just the leaf, got %v", ids)
	}
}
