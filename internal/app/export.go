package app

import (
	"context"
	"database/sql"
	"errors"

	"marginalia/api/internal/export"
	"marginalia/api/internal/store"
)

// exportAdapter exposes the data store to the export package.
type exportAdapter struct {
	store dataStore
}

func (a exportAdapter) GetDocument(ctx context.Context, id string) (export.DocumentInfo, error) {
	doc, err := a.store.GetDocument(ctx, id)
	if err != nil {
		return export.DocumentInfo{}, err
	}
	return export.DocumentInfo{
		ID:        doc.ID,
		Title:     doc.Title,
		Text:      doc.Text,
		Owner:     doc.OwnerName,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (a exportAdapter) ListHighlights(ctx context.Context, documentID string) ([]export.HighlightInfo, error) {
	highlights, err := a.store.ListHighlightsByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	infos := make([]export.HighlightInfo, 0, len(highlights))
	for _, h := range highlights {
		infos = append(infos, export.HighlightInfo{
			ID:     h.ID,
			Start:  h.StartOffset,
			End:    h.EndOffset,
			Color:  h.Color,
			Author: h.AuthorName,
		})
	}
	return infos, nil
}

func (a exportAdapter) ListComments(ctx context.Context, documentID string) ([]export.CommentInfo, error) {
	comments, err := a.store.ListCommentsByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	infos := make([]export.CommentInfo, 0, len(comments))
	for _, c := range comments {
		info := export.CommentInfo{
			ID:        c.ID,
			Author:    c.AuthorName,
			Content:   c.Content,
			CreatedAt: c.CreatedAt,
		}
		if c.HighlightID != nil {
			info.HighlightID = *c.HighlightID
		}
		if c.ParentCommentID != nil {
			info.ParentID = *c.ParentCommentID
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// ExportDocument renders the document to the requested format. The caller
// needs read access.
func (s *Service) ExportDocument(ctx context.Context, session Session, req export.Request) (*export.Result, error) {
	if _, err := s.documentView(ctx, session, req.DocumentID); err != nil {
		return nil, err
	}
	return export.NewService(exportAdapter{store: s.store}).Export(ctx, req)
}

// CurrentUser returns the profile of the signed-in user.
func (s *Service) CurrentUser(ctx context.Context, session Session) (store.User, error) {
	if session.UserID == "" {
		return store.User{}, errUnauthenticated()
	}
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, errNotFound("user")
	}
	if err != nil {
		return store.User{}, err
	}
	user.PasswordHash = ""
	return user, nil
}
