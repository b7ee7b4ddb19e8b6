package app

import (
	"sort"

	"marginalia/api/internal/store"
)

// generalKey buckets document-level comments, which carry no highlight id.
const generalKey = ""

// CommentGraph is a derived view over one document's comment collection:
// parent→children adjacency plus root buckets keyed by highlight. It is
// rebuilt from each snapshot; nothing in it is persisted.
type CommentGraph struct {
	byID    map[string]store.Comment
	roots   map[string][]store.Comment // highlight id (or generalKey) -> root comments
	replies map[string][]store.Comment // parent comment id -> direct children
}

// BuildGraph groups comments in a single pass: roots bucketed by highlight
// id, replies bucketed by parent. Both orderings are createdAt ascending.
func BuildGraph(comments []store.Comment) *CommentGraph {
	g := &CommentGraph{
		byID:    make(map[string]store.Comment, len(comments)),
		roots:   make(map[string][]store.Comment),
		replies: make(map[string][]store.Comment),
	}
	for _, c := range comments {
		g.byID[c.ID] = c
		if c.ParentCommentID == nil {
			key := generalKey
			if c.HighlightID != nil {
				key = *c.HighlightID
			}
			g.roots[key] = append(g.roots[key], c)
		} else {
			g.replies[*c.ParentCommentID] = append(g.replies[*c.ParentCommentID], c)
		}
	}
	for key := range g.roots {
		sortByCreatedAt(g.roots[key])
	}
	for key := range g.replies {
		sortByCreatedAt(g.replies[key])
	}
	return g
}

func sortByCreatedAt(comments []store.Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].CreatedAt.Before(comments[j].CreatedAt)
	})
}

// RootsFor returns the root comments anchored to the given highlight;
// highlightID nil selects document-level general comments.
func (g *CommentGraph) RootsFor(highlightID *string) []store.Comment {
	key := generalKey
	if highlightID != nil {
		key = *highlightID
	}
	return g.roots[key]
}

// RepliesOf returns the direct children of a comment, oldest first.
func (g *CommentGraph) RepliesOf(commentID string) []store.Comment {
	return g.replies[commentID]
}

// ReplyCount counts direct children only, not the full subtree.
func (g *CommentGraph) ReplyCount(commentID string) int {
	return len(g.replies[commentID])
}

// Get looks up a comment by id.
func (g *CommentGraph) Get(commentID string) (store.Comment, bool) {
	c, ok := g.byID[commentID]
	return c, ok
}

// Subtree collects commentID and every comment transitively reachable
// through parent links, using an explicit work list. Children come before
// their parents in the result so deletion can proceed leaf-first; the target
// itself is last.
func (g *CommentGraph) Subtree(commentID string) []string {
	var collected []string
	work := []string{commentID}
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		collected = append(collected, id)
		for _, child := range g.replies[id] {
			work = append(work, child.ID)
		}
	}
	// Reverse: deepest collected last means deleting in reverse order is
	// leaf-first.
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return collected
}
