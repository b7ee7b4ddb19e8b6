package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"marginalia/api/internal/access"
	"marginalia/api/internal/auth"
	"marginalia/api/internal/authpw"
	"marginalia/api/internal/config"
	"marginalia/api/internal/email"
	"marginalia/api/internal/history"
	"marginalia/api/internal/mention"
	"marginalia/api/internal/search"
	"marginalia/api/internal/store"
	"marginalia/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	UserEmail    string
	JTI          string
	ExpiresAt    time.Time
}

type CreateDocumentInput struct {
	Title    string `json:"title"`
	Text     string `json:"text"`
	IsPublic bool   `json:"isPublic"`
}

type UpdateDocumentInput struct {
	Title *string `json:"title"`
	Text  *string `json:"text"`
}

type ShareDocumentInput struct {
	UserEmail  string `json:"userEmail"`
	Permission string `json:"permission"`
}

type CreateHighlightInput struct {
	StartOffset    int    `json:"startOffset"`
	EndOffset      int    `json:"endOffset"`
	SelectedText   string `json:"selectedText"`
	Color          string `json:"color"`
	CommentContent string `json:"commentContent"`
}

type CreateCommentInput struct {
	HighlightID     *string  `json:"highlightId"`
	ParentCommentID *string  `json:"parentCommentId"`
	Content         string   `json:"content"`
	Mentions        []string `json:"mentions"`
}

type UpdateCommentInput struct {
	Content  string   `json:"content"`
	Mentions []string `json:"mentions"`
}

type CreateNoteInput struct {
	HighlightID *string `json:"highlightId"`
	Title       string  `json:"title"`
	Content     string  `json:"content"`
	IsPrivate   bool    `json:"isPrivate"`
}

type UpdateNoteInput struct {
	Title     *string `json:"title"`
	Content   *string `json:"content"`
	IsPrivate *bool   `json:"isPrivate"`
}

// UserRef is display info for a referenced user.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// HighlightView is a highlight enriched for API responses.
type HighlightView struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"documentId"`
	AuthorID     string    `json:"authorId"`
	AuthorName   string    `json:"authorName"`
	StartOffset  int       `json:"startOffset"`
	EndOffset    int       `json:"endOffset"`
	SelectedText string    `json:"selectedText"`
	Color        string    `json:"color"`
	CreatedAt    time.Time `json:"createdAt"`
	CanDelete    bool      `json:"canDelete"`
}

// CommentView is a comment enriched with derived fields for API responses.
type CommentView struct {
	ID              string     `json:"id"`
	DocumentID      string     `json:"documentId"`
	HighlightID     *string    `json:"highlightId"`
	ParentCommentID *string    `json:"parentCommentId"`
	AuthorID        string     `json:"authorId"`
	AuthorName      string     `json:"authorName"`
	Content         string     `json:"content"`
	Mentions        []string   `json:"mentions"`
	MentionedUsers  []UserRef  `json:"mentionedUsers"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastEditedAt    *time.Time `json:"lastEditedAt"`
	ReplyCount      int        `json:"replyCount"`
	IsEdited        bool       `json:"isEdited"`
	CanEdit         bool       `json:"canEdit"`
	CanDelete       bool       `json:"canDelete"`
}

// DocumentView is a document enriched for API responses.
type DocumentView struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Text          string    `json:"text"`
	OwnerID       string    `json:"ownerId"`
	OwnerName     string    `json:"ownerName"`
	Collaborators []string  `json:"collaborators"`
	IsPublic      bool      `json:"isPublic"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Permission    string    `json:"permission"`
}

var allowedSharePermissions = map[string]struct{}{
	"read":    {},
	"comment": {},
	"edit":    {},
}

type dataStore interface {
	CreateUser(ctx context.Context, user store.User) error
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]store.User, error)
	UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	VerifyUserEmail(ctx context.Context, token string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, token string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, token string) error

	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	InsertDocument(ctx context.Context, doc store.Document) error
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	ListDocumentsForUser(ctx context.Context, userID string) ([]store.Document, error)
	UpdateDocument(ctx context.Context, documentID string, title, text *string) error

	UpsertShare(ctx context.Context, share store.DocumentShare) error
	ListShares(ctx context.Context, documentID string) ([]store.DocumentShare, error)
	GetShareForUser(ctx context.Context, documentID, userID string) (store.DocumentShare, error)

	CreateHighlightWithComment(ctx context.Context, highlight store.Highlight, comment store.Comment) error
	GetHighlight(ctx context.Context, highlightID string) (store.Highlight, error)
	ListHighlightsByDocument(ctx context.Context, documentID string) ([]store.Highlight, error)
	DeleteHighlightCascade(ctx context.Context, highlightID string) ([]string, error)

	InsertComment(ctx context.Context, comment store.Comment) error
	GetComment(ctx context.Context, commentID string) (store.Comment, error)
	UpdateCommentContent(ctx context.Context, commentID, content string, mentions []string) error
	ListCommentsByDocument(ctx context.Context, documentID string) ([]store.Comment, error)
	ListChildCommentIDs(ctx context.Context, parentCommentID string) ([]string, error)
	DeleteCommentsByIDs(ctx context.Context, ids []string) error

	InsertNote(ctx context.Context, note store.Note) error
	GetNote(ctx context.Context, noteID string) (store.Note, error)
	ListNotesByDocument(ctx context.Context, documentID, viewerID string) ([]store.Note, error)
	UpdateNote(ctx context.Context, noteID string, title, content *string, isPrivate *bool) error
	DeleteNote(ctx context.Context, noteID string) error

	Ping(ctx context.Context) error
}

// refreshSessionStore is the subset of storage needed for refresh tokens;
// satisfied by both the Redis store and the Postgres store.
type refreshSessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshSessionStore
	authpw   *authpw.Service
	search   *search.Service
	history  *history.Service
	email    *email.Service
}

func New(cfg config.Config, dataStore dataStore, searchService *search.Service, historyService *history.Service, emailService *email.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		authpw:   authpw.NewService(dataStore),
		search:   searchService,
		history:  historyService,
		email:    emailService,
	}
}

// NewWithSessionStore wires an external (Redis) refresh-token store in place
// of the Postgres fallback.
func NewWithSessionStore(cfg config.Config, dataStore dataStore, sessions refreshSessionStore, searchService *search.Service, historyService *history.Service, emailService *email.Service) *Service {
	service := New(cfg, dataStore, searchService, historyService, emailService)
	service.sessions = sessions
	return service
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// SendVerificationEmail mails a signup verification link, best effort.
func (s *Service) SendVerificationEmail(toEmail, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := strings.TrimRight(s.cfg.AppBaseURL, "/") + "/verify-email?token=" + token
	if err := s.email.SendVerificationEmail(toEmail, userName, url); err != nil {
		log.Printf("email: send verification to %s: %v", toEmail, err)
	}
}

// SendPasswordResetEmail mails a password reset link, best effort.
func (s *Service) SendPasswordResetEmail(toEmail, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := strings.TrimRight(s.cfg.AppBaseURL, "/") + "/reset-password?token=" + token
	if err := s.email.SendPasswordResetEmail(toEmail, userName, url); err != nil {
		log.Printf("email: send password reset to %s: %v", toEmail, err)
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ---- sessions ----

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The Redis store only keeps the user id; refresh display info.
	if user.DisplayName == "" {
		if full, err := s.store.GetUserByID(ctx, user.ID); err == nil {
			user = full
		}
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.DisplayName,
		Email: user.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		UserEmail:    user.Email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		UserEmail: claims.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ---- documents ----

func (s *Service) CreateDocument(ctx context.Context, session Session, input CreateDocumentInput) (DocumentView, error) {
	if session.UserID == "" {
		return DocumentView{}, errUnauthenticated()
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return DocumentView{}, errValidation("title is required")
	}

	doc := store.Document{
		ID:            util.NewID("doc"),
		Title:         title,
		Text:          input.Text,
		OwnerID:       session.UserID,
		Collaborators: []string{session.UserID},
		IsPublic:      input.IsPublic,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return DocumentView{}, err
	}

	if s.history != nil {
		if err := s.history.RecordRevision(doc.ID, doc.Text, session.UserName, "create document"); err != nil {
			log.Printf("history: record initial revision for %s: %v", doc.ID, err)
		}
	}
	if s.search != nil {
		s.search.IndexDocument(search.DocumentRecord{
			ID:    doc.ID,
			Title: doc.Title,
			Text:  doc.Text,
			Owner: session.UserName,
		})
	}
	return s.documentView(ctx, session, doc.ID)
}

// GetDocument enforces visibility: private documents are indistinguishable
// from missing ones for users without access.
func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (DocumentView, error) {
	return s.documentView(ctx, session, documentID)
}

func (s *Service) documentView(ctx context.Context, session Session, documentID string) (DocumentView, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return DocumentView{}, errNotFound("document")
	}
	if err != nil {
		return DocumentView{}, err
	}

	permission, err := s.resolvePermission(ctx, doc, session.UserID)
	if err != nil {
		return DocumentView{}, err
	}
	if !access.Can(permission, access.ActionRead) {
		return DocumentView{}, errNotFound("document")
	}

	return DocumentView{
		ID:            doc.ID,
		Title:         doc.Title,
		Text:          doc.Text,
		OwnerID:       doc.OwnerID,
		OwnerName:     doc.OwnerName,
		Collaborators: doc.Collaborators,
		IsPublic:      doc.IsPublic,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
		Permission:    string(permission),
	}, nil
}

func (s *Service) resolvePermission(ctx context.Context, doc store.Document, userID string) (access.Permission, error) {
	var share *store.DocumentShare
	if userID != "" && doc.OwnerID != userID {
		found, err := s.store.GetShareForUser(ctx, doc.ID, userID)
		if err == nil {
			share = &found
		} else if !errors.Is(err, sql.ErrNoRows) {
			return access.PermissionNone, err
		}
	}
	return access.Resolve(doc, share, userID), nil
}

func (s *Service) ListDocuments(ctx context.Context, session Session) ([]DocumentView, error) {
	if session.UserID == "" {
		return nil, errUnauthenticated()
	}
	docs, err := s.store.ListDocumentsForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	views := make([]DocumentView, 0, len(docs))
	for _, doc := range docs {
		permission, err := s.resolvePermission(ctx, doc, session.UserID)
		if err != nil {
			return nil, err
		}
		views = append(views, DocumentView{
			ID:            doc.ID,
			Title:         doc.Title,
			Text:          doc.Text,
			OwnerID:       doc.OwnerID,
			OwnerName:     doc.OwnerName,
			Collaborators: doc.Collaborators,
			IsPublic:      doc.IsPublic,
			CreatedAt:     doc.CreatedAt,
			UpdatedAt:     doc.UpdatedAt,
			Permission:    string(permission),
		})
	}
	return views, nil
}

// UpdateDocument patches title/text. Editing text can silently orphan
// existing highlight offsets; the revision log keeps enough history to
// diagnose which edit did it.
func (s *Service) UpdateDocument(ctx context.Context, session Session, documentID string, input UpdateDocumentInput) (DocumentView, error) {
	if session.UserID == "" {
		return DocumentView{}, errUnauthenticated()
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return DocumentView{}, errNotFound("document")
	}
	if err != nil {
		return DocumentView{}, err
	}

	permission, err := s.resolvePermission(ctx, doc, session.UserID)
	if err != nil {
		return DocumentView{}, err
	}
	if !access.Can(permission, access.ActionEdit) {
		return DocumentView{}, errNotAuthorized("not authorized to edit this document")
	}
	if input.Title == nil && input.Text == nil {
		return DocumentView{}, errValidation("nothing to update")
	}

	if err := s.store.UpdateDocument(ctx, documentID, input.Title, input.Text); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DocumentView{}, errNotFound("document")
		}
		return DocumentView{}, err
	}

	if input.Text != nil && s.history != nil {
		if err := s.history.RecordRevision(documentID, *input.Text, session.UserName, "edit text"); err != nil {
			log.Printf("history: record revision for %s: %v", documentID, err)
		}
	}
	if s.search != nil {
		updated, err := s.store.GetDocument(ctx, documentID)
		if err == nil {
			s.search.IndexDocument(search.DocumentRecord{
				ID:    updated.ID,
				Title: updated.Title,
				Text:  updated.Text,
				Owner: updated.OwnerName,
			})
		}
	}
	return s.documentView(ctx, session, documentID)
}

func (s *Service) ShareDocument(ctx context.Context, session Session, documentID string, input ShareDocumentInput) error {
	if session.UserID == "" {
		return errUnauthenticated()
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("document")
	}
	if err != nil {
		return err
	}
	if doc.OwnerID != session.UserID {
		return errNotAuthorized("only the owner can share this document")
	}
	if _, ok := allowedSharePermissions[input.Permission]; !ok {
		return errValidation("invalid permission")
	}

	target, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(input.UserEmail))
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("user")
	}
	if err != nil {
		return err
	}

	return s.store.UpsertShare(ctx, store.DocumentShare{
		ID:         util.NewID("shr"),
		DocumentID: documentID,
		SharedBy:   session.UserID,
		SharedWith: target.ID,
		Permission: input.Permission,
	})
}

func (s *Service) GetDocumentShares(ctx context.Context, session Session, documentID string) ([]store.DocumentShare, error) {
	if session.UserID == "" {
		return nil, errUnauthenticated()
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("document")
	}
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != session.UserID {
		return []store.DocumentShare{}, nil
	}
	shares, err := s.store.ListShares(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if shares == nil {
		shares = []store.DocumentShare{}
	}
	return shares, nil
}

func (s *Service) DocumentHistory(ctx context.Context, session Session, documentID string) ([]store.DocumentRevision, error) {
	if _, err := s.documentView(ctx, session, documentID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []store.DocumentRevision{}, nil
	}
	revisions, err := s.history.Revisions(documentID, 50)
	if err != nil {
		return nil, err
	}
	if revisions == nil {
		revisions = []store.DocumentRevision{}
	}
	return revisions, nil
}

// ---- highlights ----

// CreateHighlightWithComment creates a highlight and its initiating root
// comment as a single transaction: both rows persist or neither does.
func (s *Service) CreateHighlightWithComment(ctx context.Context, session Session, documentID string, input CreateHighlightInput) (string, error) {
	if session.UserID == "" {
		return "", errUnauthenticated()
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errNotFound("document")
	}
	if err != nil {
		return "", err
	}

	permission, err := s.resolvePermission(ctx, doc, session.UserID)
	if err != nil {
		return "", err
	}
	if !access.Can(permission, access.ActionComment) {
		return "", errNotAuthorized("not authorized to comment on this document")
	}

	if input.StartOffset < 0 || input.StartOffset >= input.EndOffset || input.EndOffset > len(doc.Text) {
		return "", errValidation("highlight offsets out of range")
	}
	content := strings.TrimSpace(input.CommentContent)
	if content == "" {
		return "", errValidation("comment content is required")
	}
	color := strings.TrimSpace(input.Color)
	if color == "" {
		color = "#ffeb3b"
	}

	highlight := store.Highlight{
		ID:           util.NewID("hl"),
		DocumentID:   documentID,
		AuthorID:     session.UserID,
		StartOffset:  input.StartOffset,
		EndOffset:    input.EndOffset,
		SelectedText: input.SelectedText,
		Color:        color,
	}
	comment := store.Comment{
		ID:         util.NewID("cmt"),
		DocumentID: documentID,
		AuthorID:   session.UserID,
		Content:    content,
		Mentions:   []string{},
	}
	if err := s.store.CreateHighlightWithComment(ctx, highlight, comment); err != nil {
		return "", domainError(500, "ATOMICITY_VIOLATION", "highlight and comment could not both be created", nil)
	}

	if s.search != nil {
		s.search.IndexComment(search.CommentRecord{
			ID:         comment.ID,
			DocumentID: documentID,
			Author:     session.UserName,
			Content:    content,
		})
	}
	return highlight.ID, nil
}

func (s *Service) GetDocumentHighlights(ctx context.Context, session Session, documentID string) ([]HighlightView, error) {
	if _, err := s.documentView(ctx, session, documentID); err != nil {
		return nil, err
	}
	highlights, err := s.store.ListHighlightsByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	views := make([]HighlightView, 0, len(highlights))
	for _, h := range highlights {
		views = append(views, HighlightView{
			ID:           h.ID,
			DocumentID:   h.DocumentID,
			AuthorID:     h.AuthorID,
			AuthorName:   h.AuthorName,
			StartOffset:  h.StartOffset,
			EndOffset:    h.EndOffset,
			SelectedText: h.SelectedText,
			Color:        h.Color,
			CreatedAt:    h.CreatedAt,
			CanDelete:    h.AuthorID == session.UserID,
		})
	}
	return views, nil
}

// DeleteHighlight removes the highlight and its whole comment subtree.
// Replies carry their root's highlight id, so one flat filter covers the
// tree. Author-only.
func (s *Service) DeleteHighlight(ctx context.Context, session Session, highlightID string) error {
	if session.UserID == "" {
		return errUnauthenticated()
	}
	highlight, err := s.store.GetHighlight(ctx, highlightID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("highlight")
	}
	if err != nil {
		return err
	}
	if highlight.AuthorID != session.UserID {
		return errNotAuthorized("not authorized to delete this highlight")
	}

	commentIDs, err := s.store.DeleteHighlightCascade(ctx, highlightID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("highlight")
	}
	if err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteComments(commentIDs)
	}
	return nil
}

// ---- comments ----

// deriveMentions makes content-token extraction authoritative: whenever the
// content carries mention tokens, the decoded ids win. A caller-supplied
// list is honored only when the content has no tokens at all, which keeps
// the historical silent-mention path alive.
func deriveMentions(content string, explicit []string) []string {
	derived := mention.ExtractIDs(content)
	if len(derived) > 0 {
		return derived
	}
	if explicit == nil {
		return []string{}
	}
	return explicit
}

func (s *Service) CreateComment(ctx context.Context, session Session, documentID string, input CreateCommentInput) (string, error) {
	if session.UserID == "" {
		return "", errUnauthenticated()
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errNotFound("document")
	}
	if err != nil {
		return "", err
	}

	permission, err := s.resolvePermission(ctx, doc, session.UserID)
	if err != nil {
		return "", err
	}
	if !access.Can(permission, access.ActionComment) {
		return "", errNotAuthorized("not authorized to comment on this document")
	}

	content := strings.TrimSpace(input.Content)
	if content == "" {
		return "", errValidation("content is required")
	}

	highlightID := input.HighlightID
	if input.ParentCommentID != nil {
		parent, err := s.store.GetComment(ctx, *input.ParentCommentID)
		if errors.Is(err, sql.ErrNoRows) {
			return "", errNotFound("parent comment")
		}
		if err != nil {
			return "", err
		}
		if parent.DocumentID != documentID {
			return "", errValidation("parent comment belongs to another document")
		}
		// Replies inherit the anchor of their root; a conflicting caller
		// value is a bug on the caller side.
		if highlightID != nil && (parent.HighlightID == nil || *parent.HighlightID != *highlightID) {
			return "", errValidation("reply highlight must match parent")
		}
		highlightID = parent.HighlightID
	} else if highlightID != nil {
		highlight, err := s.store.GetHighlight(ctx, *highlightID)
		if errors.Is(err, sql.ErrNoRows) {
			return "", errNotFound("highlight")
		}
		if err != nil {
			return "", err
		}
		if highlight.DocumentID != documentID {
			return "", errValidation("highlight belongs to another document")
		}
	}

	comment := store.Comment{
		ID:              util.NewID("cmt"),
		DocumentID:      documentID,
		HighlightID:     highlightID,
		ParentCommentID: input.ParentCommentID,
		AuthorID:        session.UserID,
		Content:         content,
		Mentions:        deriveMentions(content, input.Mentions),
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return "", err
	}

	s.notifyMentions(ctx, session, doc, comment)
	if s.search != nil {
		s.search.IndexComment(search.CommentRecord{
			ID:         comment.ID,
			DocumentID: documentID,
			Author:     session.UserName,
			Content:    content,
		})
	}
	return comment.ID, nil
}

func (s *Service) UpdateComment(ctx context.Context, session Session, commentID string, input UpdateCommentInput) error {
	if session.UserID == "" {
		return errUnauthenticated()
	}
	comment, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("comment")
	}
	if err != nil {
		return err
	}
	if comment.AuthorID != session.UserID {
		return errNotAuthorized("not authorized to edit this comment")
	}

	content := strings.TrimSpace(input.Content)
	if content == "" {
		return errValidation("content is required")
	}

	if err := s.store.UpdateCommentContent(ctx, commentID, content, deriveMentions(content, input.Mentions)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("comment")
		}
		return err
	}
	if s.search != nil {
		s.search.IndexComment(search.CommentRecord{
			ID:         commentID,
			DocumentID: comment.DocumentID,
			Author:     session.UserName,
			Content:    content,
		})
	}
	return nil
}

// DeleteComment removes the comment and every descendant. Authorization is
// checked on the target only: the root author takes the whole subtree with
// them, including replies written by others. That is the intended model, not
// an oversight.
func (s *Service) DeleteComment(ctx context.Context, session Session, commentID string) error {
	if session.UserID == "" {
		return errUnauthenticated()
	}
	comment, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("comment")
	}
	if err != nil {
		return err
	}
	if comment.AuthorID != session.UserID {
		return errNotAuthorized("not authorized to delete this comment")
	}

	// Collect the subtree with an explicit work list, then delete everything
	// in one transaction. No recursion: threads can be arbitrarily deep.
	collected := []string{}
	work := []string{commentID}
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		collected = append(collected, id)
		children, err := s.store.ListChildCommentIDs(ctx, id)
		if err != nil {
			return err
		}
		work = append(work, children...)
	}

	if err := s.store.DeleteCommentsByIDs(ctx, collected); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteComments(collected)
	}
	return nil
}

func (s *Service) GetDocumentComments(ctx context.Context, session Session, documentID string) ([]CommentView, error) {
	if _, err := s.documentView(ctx, session, documentID); err != nil {
		return nil, err
	}
	comments, err := s.store.ListCommentsByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	graph := BuildGraph(comments)

	// Resolve display names for every mentioned user in one pass.
	var mentionIDs []string
	for _, c := range comments {
		mentionIDs = append(mentionIDs, c.Mentions...)
	}
	users, err := s.store.GetUsersByIDs(ctx, mentionIDs)
	if err != nil {
		return nil, err
	}

	views := make([]CommentView, 0, len(comments))
	for _, c := range comments {
		mentions := c.Mentions
		if mentions == nil {
			mentions = []string{}
		}
		mentioned := make([]UserRef, 0, len(mentions))
		for _, id := range mentions {
			name := "Unknown"
			if user, ok := users[id]; ok {
				name = user.DisplayName
			}
			mentioned = append(mentioned, UserRef{ID: id, Name: name})
		}
		views = append(views, CommentView{
			ID:              c.ID,
			DocumentID:      c.DocumentID,
			HighlightID:     c.HighlightID,
			ParentCommentID: c.ParentCommentID,
			AuthorID:        c.AuthorID,
			AuthorName:      c.AuthorName,
			Content:         c.Content,
			Mentions:        mentions,
			MentionedUsers:  mentioned,
			CreatedAt:       c.CreatedAt,
			LastEditedAt:    c.LastEditedAt,
			ReplyCount:      graph.ReplyCount(c.ID),
			IsEdited:        c.LastEditedAt != nil,
			CanEdit:         c.AuthorID == session.UserID,
			CanDelete:       c.AuthorID == session.UserID,
		})
	}
	return views, nil
}

// notifyMentions emails every mentioned user, best effort.
func (s *Service) notifyMentions(ctx context.Context, session Session, doc store.Document, comment store.Comment) {
	if s.email == nil || !s.email.IsConfigured() || len(comment.Mentions) == 0 {
		return
	}
	users, err := s.store.GetUsersByIDs(ctx, comment.Mentions)
	if err != nil {
		log.Printf("mention notify: resolve users: %v", err)
		return
	}
	seen := map[string]bool{}
	for _, id := range comment.Mentions {
		user, ok := users[id]
		if !ok || user.Email == "" || user.ID == session.UserID || seen[user.ID] {
			continue
		}
		seen[user.ID] = true
		if err := s.email.SendMentionNotification(user.Email, session.UserName, doc.Title, comment.Content); err != nil {
			log.Printf("mention notify: send to %s: %v", user.Email, err)
		}
	}
}

// ---- notes ----

func (s *Service) CreateNote(ctx context.Context, session Session, documentID string, input CreateNoteInput) (string, error) {
	if session.UserID == "" {
		return "", errUnauthenticated()
	}
	if _, err := s.documentView(ctx, session, documentID); err != nil {
		return "", err
	}
	if strings.TrimSpace(input.Title) == "" && strings.TrimSpace(input.Content) == "" {
		return "", errValidation("note needs a title or content")
	}

	note := store.Note{
		ID:          util.NewID("note"),
		DocumentID:  documentID,
		HighlightID: input.HighlightID,
		AuthorID:    session.UserID,
		Title:       input.Title,
		Content:     input.Content,
		IsPrivate:   input.IsPrivate,
	}
	if err := s.store.InsertNote(ctx, note); err != nil {
		return "", err
	}
	return note.ID, nil
}

func (s *Service) GetDocumentNotes(ctx context.Context, session Session, documentID string) ([]store.Note, error) {
	if _, err := s.documentView(ctx, session, documentID); err != nil {
		return nil, err
	}
	notes, err := s.store.ListNotesByDocument(ctx, documentID, session.UserID)
	if err != nil {
		return nil, err
	}
	if notes == nil {
		notes = []store.Note{}
	}
	return notes, nil
}

func (s *Service) UpdateNote(ctx context.Context, session Session, noteID string, input UpdateNoteInput) error {
	if session.UserID == "" {
		return errUnauthenticated()
	}
	note, err := s.store.GetNote(ctx, noteID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("note")
	}
	if err != nil {
		return err
	}
	if note.AuthorID != session.UserID {
		return errNotAuthorized("not authorized to edit this note")
	}
	if err := s.store.UpdateNote(ctx, noteID, input.Title, input.Content, input.IsPrivate); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("note")
		}
		return err
	}
	return nil
}

func (s *Service) DeleteNote(ctx context.Context, session Session, noteID string) error {
	if session.UserID == "" {
		return errUnauthenticated()
	}
	note, err := s.store.GetNote(ctx, noteID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("note")
	}
	if err != nil {
		return err
	}
	if note.AuthorID != session.UserID {
		return errNotAuthorized("not authorized to delete this note")
	}
	if err := s.store.DeleteNote(ctx, noteID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("note")
		}
		return err
	}
	return nil
}

// ---- search ----

func (s *Service) Search(session Session, query string, limit int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: query}
	}
	return s.search.Search(search.Query{Text: query, Limit: limit})
}
