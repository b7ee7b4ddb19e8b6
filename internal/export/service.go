package export

import (
	"context"
	"fmt"
	"html"
	"html/template"
	"sort"
	"strings"
	"time"

	"marginalia/api/internal/doctree"
	"marginalia/api/internal/mention"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetDocument(ctx context.Context, id string) (DocumentInfo, error)
	ListHighlights(ctx context.Context, documentID string) ([]HighlightInfo, error)
	ListComments(ctx context.Context, documentID string) ([]CommentInfo, error)
}

// DocumentInfo holds document data for export
type DocumentInfo struct {
	ID        string
	Title     string
	Text      string
	Owner     string
	UpdatedAt time.Time
}

// HighlightInfo holds highlight data for export
type HighlightInfo struct {
	ID     string
	Start  int
	End    int
	Color  string
	Author string
}

// CommentInfo holds comment data for export
type CommentInfo struct {
	ID          string
	HighlightID string // empty for general comments
	ParentID    string // empty for roots
	Author      string
	Content     string
	CreatedAt   time.Time
}

// Service provides document export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	doc, err := s.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	highlights, err := s.store.ListHighlights(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("list highlights: %w", err)
	}

	data := TemplateData{
		Title:       doc.Title,
		Owner:       doc.Owner,
		UpdatedAt:   doc.UpdatedAt,
		ContentHTML: template.HTML(markupText(doc.Text, highlights)),
		Threads:     []TemplateThread{},
	}

	if req.IncludeDiscussion {
		comments, err := s.store.ListComments(ctx, req.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("list comments: %w", err)
		}
		data.Threads = buildThreads(doc.Text, highlights, comments)
	}

	rendered, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(rendered, doc.Title)
	case FormatHTML:
		return &Result{
			Data:     []byte(rendered),
			Filename: sanitizeFilename(doc.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

// markupText escapes the document text and wraps highlighted ranges in
// <mark> tags. Overlapping highlights are split at every range boundary;
// the most recently listed highlight wins the color of a shared segment.
func markupText(text string, highlights []HighlightInfo) string {
	boundaries := map[int]bool{0: true, len(text): true}
	for _, h := range highlights {
		if h.Start < 0 || h.End > len(text) || h.Start >= h.End {
			continue
		}
		boundaries[h.Start] = true
		boundaries[h.End] = true
	}
	cuts := make([]int, 0, len(boundaries))
	for b := range boundaries {
		cuts = append(cuts, b)
	}
	sort.Ints(cuts)

	var out strings.Builder
	for i := 0; i+1 < len(cuts); i++ {
		start, end := cuts[i], cuts[i+1]
		segment := html.EscapeString(text[start:end])

		color := ""
		for _, h := range highlights {
			if h.Start <= start && end <= h.End {
				color = h.Color
			}
		}
		if color != "" {
			fmt.Fprintf(&out, `<mark style="background:%s">%s</mark>`, html.EscapeString(color), segment)
		} else {
			out.WriteString(segment)
		}
	}
	return strings.ReplaceAll(out.String(), "\n", "<br>\n")
}

// buildThreads groups comments into display threads: one per highlight that
// has comments, plus one list of general document comments.
func buildThreads(text string, highlights []HighlightInfo, comments []CommentInfo) []TemplateThread {
	tree := leafTree(text)
	byHighlight := map[string]HighlightInfo{}
	for _, h := range highlights {
		byHighlight[h.ID] = h
	}

	grouped := map[string][]CommentInfo{}
	var order []string
	for _, c := range comments {
		key := c.HighlightID
		if _, seen := grouped[key]; !seen {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], c)
	}

	threads := make([]TemplateThread, 0, len(order))
	for _, key := range order {
		thread := TemplateThread{}
		if h, ok := byHighlight[key]; ok {
			// Orphaned ranges resolve to no spans and render without an anchor.
			if spans, err := tree.VisualRanges(h.Start, h.End); err == nil {
				var anchor strings.Builder
				for _, span := range spans {
					anchor.WriteString(tree.Text(span))
				}
				thread.Anchor = anchor.String()
			}
		}
		for _, c := range grouped[key] {
			thread.Comments = append(thread.Comments, TemplateComment{
				Author:  c.Author,
				Body:    renderMentions(c.Content),
				IsReply: c.ParentID != "",
			})
		}
		threads = append(threads, thread)
	}
	return threads
}

// leafTree slices the document into line leaves whose concatenation is the
// exact original text, so logical offsets carry over unchanged.
func leafTree(text string) doctree.Tree {
	var leaves []doctree.Leaf
	rest := text
	for i := 0; len(rest) > 0; i++ {
		chunk := rest
		if n := strings.IndexByte(rest, '\n'); n >= 0 {
			chunk = rest[:n+1]
		}
		rest = rest[len(chunk):]
		leaves = append(leaves, doctree.Leaf{ID: fmt.Sprintf("l%d", i), Text: chunk})
	}
	return doctree.New(leaves...)
}

// renderMentions replaces mention tokens with a plain @Name form.
func renderMentions(content string) string {
	var out strings.Builder
	for _, seg := range mention.Segments(content) {
		if seg.Mention != nil {
			out.WriteString("@" + seg.Mention.DisplayName)
			continue
		}
		out.WriteString(seg.Text)
	}
	return out.String()
}
