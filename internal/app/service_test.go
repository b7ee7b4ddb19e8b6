package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"marginalia/api/internal/authpw"
	"marginalia/api/internal/config"
	"marginalia/api/internal/store"
)

const fixtureText = "The quick brown fox jumps over the lazy dog."

type fakeStore struct {
	getUserByIDFn                func(context.Context, string) (store.User, error)
	getUserByEmailFn             func(context.Context, string) (store.User, error)
	getUsersByIDsFn              func(context.Context, []string) (map[string]store.User, error)
	insertDocumentFn             func(context.Context, store.Document) error
	getDocumentFn                func(context.Context, string) (store.Document, error)
	listDocumentsForUserFn       func(context.Context, string) ([]store.Document, error)
	updateDocumentFn             func(context.Context, string, *string, *string) error
	upsertShareFn                func(context.Context, store.DocumentShare) error
	getShareForUserFn            func(context.Context, string, string) (store.DocumentShare, error)
	createHighlightWithCommentFn func(context.Context, store.Highlight, store.Comment) error
	getHighlightFn               func(context.Context, string) (store.Highlight, error)
	deleteHighlightCascadeFn     func(context.Context, string) ([]string, error)
	insertCommentFn              func(context.Context, store.Comment) error
	getCommentFn                 func(context.Context, string) (store.Comment, error)
	updateCommentContentFn       func(context.Context, string, string, []string) error
	listCommentsByDocumentFn     func(context.Context, string) ([]store.Comment, error)
	listChildCommentIDsFn        func(context.Context, string) ([]string, error)
	deleteCommentsByIDsFn        func(context.Context, []string) error
}

func (f *fakeStore) CreateUser(context.Context, store.User) error { return nil }
func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, DisplayName: "Alice", Email: "alice@example.com"}, nil
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) GetUsersByIDs(ctx context.Context, ids []string) (map[string]store.User, error) {
	if f.getUsersByIDsFn != nil {
		return f.getUsersByIDsFn(ctx, ids)
	}
	return map[string]store.User{}, nil
}
func (f *fakeStore) UpdateUserVerificationToken(context.Context, string, string, time.Time) error {
	return nil
}
func (f *fakeStore) VerifyUserEmail(context.Context, string) error              { return nil }
func (f *fakeStore) UpdateUserPassword(context.Context, string, string) error   { return nil }
func (f *fakeStore) CreatePasswordReset(context.Context, string, string, time.Time) error {
	return nil
}
func (f *fakeStore) GetPasswordReset(context.Context, string) (string, error) { return "", sql.ErrNoRows }
func (f *fakeStore) MarkPasswordResetUsed(context.Context, string) error      { return nil }
func (f *fakeStore) SaveRefreshSession(context.Context, string, string, time.Time) error {
	return nil
}
func (f *fakeStore) LookupRefreshSession(context.Context, string) (store.User, error) {
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(context.Context, string) error { return nil }
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error {
	return nil
}
func (f *fakeStore) IsAccessTokenRevoked(context.Context, string) (bool, error) { return false, nil }
func (f *fakeStore) InsertDocument(ctx context.Context, doc store.Document) error {
	if f.insertDocumentFn != nil {
		return f.insertDocumentFn(ctx, doc)
	}
	return nil
}
func (f *fakeStore) GetDocument(ctx context.Context, documentID string) (store.Document, error) {
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, documentID)
	}
	return store.Document{
		ID:            documentID,
		Title:         "Field Notes",
		Text:          fixtureText,
		OwnerID:       "u1",
		OwnerName:     "Alice",
		Collaborators: []string{"u1"},
	}, nil
}
func (f *fakeStore) ListDocumentsForUser(ctx context.Context, userID string) ([]store.Document, error) {
	if f.listDocumentsForUserFn != nil {
		return f.listDocumentsForUserFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateDocument(ctx context.Context, documentID string, title, text *string) error {
	if f.updateDocumentFn != nil {
		return f.updateDocumentFn(ctx, documentID, title, text)
	}
	return nil
}
func (f *fakeStore) UpsertShare(ctx context.Context, share store.DocumentShare) error {
	if f.upsertShareFn != nil {
		return f.upsertShareFn(ctx, share)
	}
	return nil
}
func (f *fakeStore) ListShares(context.Context, string) ([]store.DocumentShare, error) {
	return nil, nil
}
func (f *fakeStore) GetShareForUser(ctx context.Context, documentID, userID string) (store.DocumentShare, error) {
	if f.getShareForUserFn != nil {
		return f.getShareForUserFn(ctx, documentID, userID)
	}
	return store.DocumentShare{}, sql.ErrNoRows
}
func (f *fakeStore) CreateHighlightWithComment(ctx context.Context, highlight store.Highlight, comment store.Comment) error {
	if f.createHighlightWithCommentFn != nil {
		return f.createHighlightWithCommentFn(ctx, highlight, comment)
	}
	return nil
}
func (f *fakeStore) GetHighlight(ctx context.Context, highlightID string) (store.Highlight, error) {
	if f.getHighlightFn != nil {
		return f.getHighlightFn(ctx, highlightID)
	}
	return store.Highlight{}, sql.ErrNoRows
}
func (f *fakeStore) ListHighlightsByDocument(context.Context, string) ([]store.Highlight, error) {
	return nil, nil
}
func (f *fakeStore) DeleteHighlightCascade(ctx context.Context, highlightID string) ([]string, error) {
	if f.deleteHighlightCascadeFn != nil {
		return f.deleteHighlightCascadeFn(ctx, highlightID)
	}
	return nil, nil
}
func (f *fakeStore) InsertComment(ctx context.Context, comment store.Comment) error {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, comment)
	}
	return nil
}
func (f *fakeStore) GetComment(ctx context.Context, commentID string) (store.Comment, error) {
	if f.getCommentFn != nil {
		return f.getCommentFn(ctx, commentID)
	}
	return store.Comment{}, sql.ErrNoRows
}
func (f *fakeStore) UpdateCommentContent(ctx context.Context, commentID, content string, mentions []string) error {
	if f.updateCommentContentFn != nil {
		return f.updateCommentContentFn(ctx, commentID, content, mentions)
	}
	return nil
}
func (f *fakeStore) ListCommentsByDocument(ctx context.Context, documentID string) ([]store.Comment, error) {
	if f.listCommentsByDocumentFn != nil {
		return f.listCommentsByDocumentFn(ctx, documentID)
	}
	return nil, nil
}
func (f *fakeStore) ListChildCommentIDs(ctx context.Context, parentCommentID string) ([]string, error) {
	if f.listChildCommentIDsFn != nil {
		return f.listChildCommentIDsFn(ctx, parentCommentID)
	}
	return nil, nil
}
func (f *fakeStore) DeleteCommentsByIDs(ctx context.Context, ids []string) error {
	if f.deleteCommentsByIDsFn != nil {
		return f.deleteCommentsByIDsFn(ctx, ids)
	}
	return nil
}
func (f *fakeStore) InsertNote(context.Context, store.Note) error { return nil }
func (f *fakeStore) GetNote(context.Context, string) (store.Note, error) {
	return store.Note{}, sql.ErrNoRows
}
func (f *fakeStore) ListNotesByDocument(context.Context, string, string) ([]store.Note, error) {
	return nil, nil
}
func (f *fakeStore) UpdateNote(context.Context, string, *string, *string, *bool) error { return nil }
func (f *fakeStore) DeleteNote(context.Context, string) error                          { return nil }
func (f *fakeStore) Ping(context.Context) error                                        { return nil }

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			TokenSecret: "test-secret",
			AccessTTL:   15 * time.Minute,
			RefreshTTL:  24 * time.Hour,
		},
		store:    fs,
		sessions: fs,
		authpw:   authpw.NewService(fs),
	}
}

func testSession(userID, name string) Session {
	return Session{UserID: userID, UserName: name}
}

func assertDomainCode(t *testing.T, err error, code string) *DomainError {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != code {
		t.Fatalf("expected code %s, got %s", code, domainErr.Code)
	}
	return domainErr
}

func TestCreateHighlightWithCommentPersistsBothTogether(t *testing.T) {
	var gotHighlight store.Highlight
	var gotComment store.Comment
	calls := 0
	fs := &fakeStore{
		createHighlightWithCommentFn: func(_ context.Context, highlight store.Highlight, comment store.Comment) error {
			calls++
			gotHighlight = highlight
			gotComment = comment
			return nil
		},
	}
	svc := newTestService(fs)

	highlightID, err := svc.CreateHighlightWithComment(context.Background(), testSession("u1", "Alice"), "doc-1", CreateHighlightInput{
		StartOffset:    10,
		EndOffset:      25,
		SelectedText:   fixtureText[10:25],
		CommentContent: "  worth revisiting  ",
	})
	if err != nil {
		t.Fatalf("CreateHighlightWithComment() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single store call, got %d", calls)
	}
	if highlightID != gotHighlight.ID {
		t.Fatalf("returned id %q does not match persisted highlight %q", highlightID, gotHighlight.ID)
	}
	if gotHighlight.StartOffset != 10 || gotHighlight.EndOffset != 25 {
		t.Fatalf("unexpected offsets [%d,%d)", gotHighlight.StartOffset, gotHighlight.EndOffset)
	}
	if gotHighlight.Color != "#ffeb3b" {
		t.Fatalf("expected default color, got %q", gotHighlight.Color)
	}
	if gotHighlight.DocumentID != "doc-1" || gotComment.DocumentID != "doc-1" {
		t.Fatalf("both rows must target doc-1, got %q and %q", gotHighlight.DocumentID, gotComment.DocumentID)
	}
	if gotComment.Content != "worth revisiting" {
		t.Fatalf("expected trimmed content, got %q", gotComment.Content)
	}
	if gotComment.AuthorID != "u1" {
		t.Fatalf("expected comment author u1, got %q", gotComment.AuthorID)
	}
}

func TestCreateHighlightRejectsBadOffsets(t *testing.T) {
	cases := []struct {
		name  string
		start int
		end   int
	}{
		{"negative start", -1, 5},
		{"empty range", 5, 5},
		{"inverted range", 9, 4},
		{"end beyond text", 10, len(fixtureText) + 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fs := &fakeStore{
				createHighlightWithCommentFn: func(context.Context, store.Highlight, store.Comment) error {
					t.Fatal("store must not be reached for invalid offsets")
					return nil
				},
			}
			svc := newTestService(fs)
			_, err := svc.CreateHighlightWithComment(context.Background(), testSession("u1", "Alice"), "doc-1", CreateHighlightInput{
				StartOffset:    tc.start,
				EndOffset:      tc.end,
				CommentContent: "note",
			})
			assertDomainCode(t, err, "VALIDATION_ERROR")
		})
	}
}

func TestCreateHighlightStoreFailureIsAtomicityViolation(t *testing.T) {
	fs := &fakeStore{
		createHighlightWithCommentFn: func(context.Context, store.Highlight, store.Comment) error {
			return errors.New("tx aborted")
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateHighlightWithComment(context.Background(), testSession("u1", "Alice"), "doc-1", CreateHighlightInput{
		StartOffset:    0,
		EndOffset:      3,
		CommentContent: "note",
	})
	domainErr := assertDomainCode(t, err, "ATOMICITY_VIOLATION")
	if domainErr.Status != 500 {
		t.Fatalf("expected status 500, got %d", domainErr.Status)
	}
}

func TestCreateHighlightRequiresCommentPermission(t *testing.T) {
	fs := &fakeStore{
		getShareForUserFn: func(_ context.Context, _, userID string) (store.DocumentShare, error) {
			return store.DocumentShare{SharedWith: userID, Permission: "read"}, nil
		},
		createHighlightWithCommentFn: func(context.Context, store.Highlight, store.Comment) error {
			t.Fatal("store must not be reached without comment permission")
			return nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateHighlightWithComment(context.Background(), testSession("u2", "Bob"), "doc-1", CreateHighlightInput{
		StartOffset:    0,
		EndOffset:      3,
		CommentContent: "note",
	})
	assertDomainCode(t, err, "NOT_AUTHORIZED")
}

func TestDeriveMentions(t *testing.T) {
	cases := []struct {
		name     string
		content  string
		explicit []string
		want     []string
	}{
		{"tokens win over explicit list", "@[Bob](u2) agreed", []string{"u9"}, []string{"u2"}},
		{"explicit honored without tokens", "plain text", []string{"u2", "u3"}, []string{"u2", "u3"}},
		{"duplicates preserved", "@[Bob](u2) and @[Bob](u2)", nil, []string{"u2", "u2"}},
		{"nothing yields empty slice", "plain text", nil, []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := deriveMentions(tc.content, tc.explicit)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("expected %v, got %v", tc.want, got)
				}
			}
		})
	}
}

func TestCreateCommentDerivesMentionsFromContent(t *testing.T) {
	var inserted store.Comment
	fs := &fakeStore{
		insertCommentFn: func(_ context.Context, comment store.Comment) error {
			inserted = comment
			return nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateComment(context.Background(), testSession("u1", "Alice"), "doc-1", CreateCommentInput{
		Content:  "@[Bob](u2) agreed",
		Mentions: []string{"u9"},
	})
	if err != nil {
		t.Fatalf("CreateComment() error = %v", err)
	}
	if len(inserted.Mentions) != 1 || inserted.Mentions[0] != "u2" {
		t.Fatalf("content tokens must override the caller list, got %v", inserted.Mentions)
	}
}

func TestCreateCommentReplyInheritsParentHighlight(t *testing.T) {
	hl := "hl-1"
	var inserted store.Comment
	fs := &fakeStore{
		getCommentFn: func(_ context.Context, commentID string) (store.Comment, error) {
			return store.Comment{ID: commentID, DocumentID: "doc-1", HighlightID: &hl, AuthorID: "u1"}, nil
		},
		insertCommentFn: func(_ context.Context, comment store.Comment) error {
			inserted = comment
			return nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateComment(context.Background(), testSession("u1", "Alice"), "doc-1", CreateCommentInput{
		ParentCommentID: strPtr("c-root"),
		Content:         "agreed",
	})
	if err != nil {
		t.Fatalf("CreateComment() error = %v", err)
	}
	if inserted.HighlightID == nil || *inserted.HighlightID != "hl-1" {
		t.Fatalf("reply must inherit the parent's highlight, got %v", inserted.HighlightID)
	}
	if inserted.ParentCommentID == nil || *inserted.ParentCommentID != "c-root" {
		t.Fatalf("reply must keep its parent link, got %v", inserted.ParentCommentID)
	}
}

func TestCreateCommentRejectsMismatchedReplyHighlight(t *testing.T) {
	hl := "hl-1"
	fs := &fakeStore{
		getCommentFn: func(_ context.Context, commentID string) (store.Comment, error) {
			return store.Comment{ID: commentID, DocumentID: "doc-1", HighlightID: &hl, AuthorID: "u1"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateComment(context.Background(), testSession("u1", "Alice"), "doc-1", CreateCommentInput{
		ParentCommentID: strPtr("c-root"),
		HighlightID:     strPtr("hl-other"),
		Content:         "agreed",
	})
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestCreateCommentRejectsCrossDocumentParent(t *testing.T) {
	fs := &fakeStore{
		getCommentFn: func(_ context.Context, commentID string) (store.Comment, error) {
			return store.Comment{ID: commentID, DocumentID: "doc-other", AuthorID: "u1"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateComment(context.Background(), testSession("u1", "Alice"), "doc-1", CreateCommentInput{
		ParentCommentID: strPtr("c-root"),
		Content:         "agreed",
	})
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestUpdateCommentAuthorOnly(t *testing.T) {
	fs := &fakeStore{
		getCommentFn: func(_ context.Context, commentID string) (store.Comment, error) {
			return store.Comment{ID: commentID, DocumentID: "doc-1", AuthorID: "u1", Content: "original"}, nil
		},
		updateCommentContentFn: func(context.Context, string, string, []string) error {
			t.Fatal("update must not be reached for a non-author")
			return nil
		},
	}
	svc := newTestService(fs)

	err := svc.UpdateComment(context.Background(), testSession("u2", "Bob"), "c1", UpdateCommentInput{Content: "edited"})
	assertDomainCode(t, err, "NOT_AUTHORIZED")
}

func TestUpdateCommentRederivesMentions(t *testing.T) {
	var gotMentions []string
	fs := &fakeStore{
		getCommentFn: func(_ context.Context, commentID string) (store.Comment, error) {
			return store.Comment{ID: commentID, DocumentID: "doc-1", AuthorID: "u1", Mentions: []string{"u2"}}, nil
		},
		updateCommentContentFn: func(_ context.Context, _, _ string, mentions []string) error {
			gotMentions = mentions
			return nil
		},
	}
	svc := newTestService(fs)

	if err := svc.UpdateComment(context.Background(), testSession("u1", "Alice"), "c1", UpdateCommentInput{
		Content: "now pinging @[Carol](u3)",
	}); err != nil {
		t.Fatalf("UpdateComment() error = %v", err)
	}
	if len(gotMentions) != 1 || gotMentions[0] != "u3" {
		t.Fatalf("expected mentions re-derived from new content, got %v", gotMentions)
	}
}

func TestDeleteCommentCascadesWholeSubtree(t *testing.T) {
	children := map[string][]string{
		"c1": {"r1", "r2"},
		"r1": {"r1a"},
	}
	deleteCalls := 0
	var deleted []string
	fs := &fakeStore{
		getCommentFn: func(_ context.Context, commentID string) (store.Comment, error) {
			return store.Comment{ID: commentID, DocumentID: "doc-1", AuthorID: "u1"}, nil
		},
		listChildCommentIDsFn: func(_ context.Context, parentID string) ([]string, error) {
			return children[parentID], nil
		},
		deleteCommentsByIDsFn: func(_ context.Context, ids []string) error {
			deleteCalls++
			deleted = ids
			return nil
		},
	}
	svc := newTestService(fs)

	if err := svc.DeleteComment(context.Background(), testSession("u1", "Alice"), "c1"); err != nil {
		t.Fatalf("DeleteComment() error = %v", err)
	}
	if deleteCalls != 1 {
		t.Fatalf("expected a single delete call, got %d", deleteCalls)
	}
	if len(deleted) != 4 {
		t.Fatalf("expected 4 deleted comments, got %v", deleted)
	}
	want := map[string]bool{"c1": true, "r1": true, "r2": true, "r1a": true}
	for _, id := range deleted {
		if !want[id] {
			t.Fatalf("unexpected id %q in %v", id, deleted)
		}
	}
}

func TestDeleteCommentNotAuthorLeavesStateUnchanged(t *testing.T) {
	fs := &fakeStore{
		getCommentFn: func(_ context.Context, commentID string) (store.Comment, error) {
			return store.Comment{ID: commentID, DocumentID: "doc-1", AuthorID: "u1"}, nil
		},
		deleteCommentsByIDsFn: func(context.Context, []string) error {
			t.Fatal("delete must not be reached for a non-author")
			return nil
		},
	}
	svc := newTestService(fs)

	err := svc.DeleteComment(context.Background(), testSession("u2", "Bob"), "c1")
	assertDomainCode(t, err, "NOT_AUTHORIZED")
}

func TestDeleteHighlightAuthorOnly(t *testing.T) {
	fs := &fakeStore{
		getHighlightFn: func(_ context.Context, highlightID string) (store.Highlight, error) {
			return store.Highlight{ID: highlightID, DocumentID: "doc-1", AuthorID: "u1"}, nil
		},
		deleteHighlightCascadeFn: func(context.Context, string) ([]string, error) {
			t.Fatal("cascade must not be reached for a non-author")
			return nil, nil
		},
	}
	svc := newTestService(fs)

	err := svc.DeleteHighlight(context.Background(), testSession("u2", "Bob"), "hl-1")
	assertDomainCode(t, err, "NOT_AUTHORIZED")
}

func TestDeleteHighlightCascades(t *testing.T) {
	cascaded := false
	fs := &fakeStore{
		getHighlightFn: func(_ context.Context, highlightID string) (store.Highlight, error) {
			return store.Highlight{ID: highlightID, DocumentID: "doc-1", AuthorID: "u1"}, nil
		},
		deleteHighlightCascadeFn: func(_ context.Context, highlightID string) ([]string, error) {
			cascaded = true
			if highlightID != "hl-1" {
				t.Fatalf("expected hl-1, got %q", highlightID)
			}
			return []string{"c1", "r1"}, nil
		},
	}
	svc := newTestService(fs)

	if err := svc.DeleteHighlight(context.Background(), testSession("u1", "Alice"), "hl-1"); err != nil {
		t.Fatalf("DeleteHighlight() error = %v", err)
	}
	if !cascaded {
		t.Fatal("expected cascade delete to run")
	}
}

func TestGetDocumentPrivateWithoutAccessIsNotFound(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.GetDocument(context.Background(), testSession("u2", "Bob"), "doc-1")
	assertDomainCode(t, err, "NOT_FOUND")
}

func TestGetDocumentPublicReadableWithoutSession(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: func(_ context.Context, documentID string) (store.Document, error) {
			return store.Document{ID: documentID, Title: "Open Notes", OwnerID: "u1", IsPublic: true}, nil
		},
	}
	svc := newTestService(fs)

	view, err := svc.GetDocument(context.Background(), Session{}, "doc-1")
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if view.Permission != "read" {
		t.Fatalf("expected read permission for anonymous viewer, got %q", view.Permission)
	}
}

func TestGetDocumentCommentsDerivedFields(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	edited := base.Add(time.Hour)
	fs := &fakeStore{
		listCommentsByDocumentFn: func(context.Context, string) ([]store.Comment, error) {
			return []store.Comment{
				{ID: "c1", DocumentID: "doc-1", AuthorID: "u1", AuthorName: "Alice", Content: "root", Mentions: []string{"u2", "u-gone"}, CreatedAt: base, LastEditedAt: &edited},
				{ID: "r1", DocumentID: "doc-1", ParentCommentID: strPtr("c1"), AuthorID: "u2", AuthorName: "Bob", Content: "reply", CreatedAt: base.Add(time.Minute)},
			}, nil
		},
		getUsersByIDsFn: func(_ context.Context, ids []string) (map[string]store.User, error) {
			return map[string]store.User{"u2": {ID: "u2", DisplayName: "Bob"}}, nil
		},
	}
	svc := newTestService(fs)

	views, err := svc.GetDocumentComments(context.Background(), testSession("u1", "Alice"), "doc-1")
	if err != nil {
		t.Fatalf("GetDocumentComments() error = %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(views))
	}

	root := views[0]
	if root.ReplyCount != 1 {
		t.Fatalf("expected reply count 1, got %d", root.ReplyCount)
	}
	if !root.IsEdited {
		t.Fatal("expected root to be marked edited")
	}
	if !root.CanEdit || !root.CanDelete {
		t.Fatal("author must be allowed to edit and delete their own comment")
	}
	if len(root.MentionedUsers) != 2 {
		t.Fatalf("expected 2 mentioned users, got %v", root.MentionedUsers)
	}
	if root.MentionedUsers[0].Name != "Bob" {
		t.Fatalf("expected resolved name Bob, got %q", root.MentionedUsers[0].Name)
	}
	if root.MentionedUsers[1].Name != "Unknown" {
		t.Fatalf("expected deleted user to resolve to Unknown, got %q", root.MentionedUsers[1].Name)
	}

	reply := views[1]
	if reply.CanEdit || reply.CanDelete {
		t.Fatal("viewer must not be allowed to edit another author's reply")
	}
	if reply.IsEdited {
		t.Fatal("reply was never edited")
	}
}

func TestShareDocumentOwnerOnly(t *testing.T) {
	fs := &fakeStore{
		upsertShareFn: func(context.Context, store.DocumentShare) error {
			t.Fatal("share must not be written by a non-owner")
			return nil
		},
	}
	svc := newTestService(fs)

	err := svc.ShareDocument(context.Background(), testSession("u2", "Bob"), "doc-1", ShareDocumentInput{
		UserEmail:  "carol@example.com",
		Permission: "read",
	})
	assertDomainCode(t, err, "NOT_AUTHORIZED")
}

func TestShareDocumentRejectsUnknownPermission(t *testing.T) {
	svc := newTestService(&fakeStore{})

	err := svc.ShareDocument(context.Background(), testSession("u1", "Alice"), "doc-1", ShareDocumentInput{
		UserEmail:  "carol@example.com",
		Permission: "admin",
	})
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestCreateDocumentRequiresTitle(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.CreateDocument(context.Background(), testSession("u1", "Alice"), CreateDocumentInput{Title: "   "})
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestUpdateDocumentRequiresEditPermission(t *testing.T) {
	fs := &fakeStore{
		getShareForUserFn: func(_ context.Context, _, userID string) (store.DocumentShare, error) {
			return store.DocumentShare{SharedWith: userID, Permission: "comment"}, nil
		},
		updateDocumentFn: func(context.Context, string, *string, *string) error {
			t.Fatal("update must not be reached without edit permission")
			return nil
		},
	}
	svc := newTestService(fs)

	title := "New Title"
	_, err := svc.UpdateDocument(context.Background(), testSession("u2", "Bob"), "doc-1", UpdateDocumentInput{Title: &title})
	assertDomainCode(t, err, "NOT_AUTHORIZED")
}

func TestUnauthenticatedWritesRejected(t *testing.T) {
	svc := newTestService(&fakeStore{})
	anon := Session{}

	if _, err := svc.CreateDocument(context.Background(), anon, CreateDocumentInput{Title: "x"}); err == nil {
		t.Fatal("expected error")
	} else {
		assertDomainCode(t, err, "UNAUTHENTICATED")
	}
	if _, err := svc.CreateComment(context.Background(), anon, "doc-1", CreateCommentInput{Content: "x"}); err == nil {
		t.Fatal("expected error")
	} else {
		assertDomainCode(t, err, "UNAUTHENTICATED")
	}
	if err := svc.DeleteComment(context.Background(), anon, "c1"); err == nil {
		t.Fatal("expected error")
	} else {
		assertDomainCode(t, err, "UNAUTHENTICATED")
	}
	if err := svc.DeleteHighlight(context.Background(), anon, "hl-1"); err == nil {
		t.Fatal("expected error")
	} else {
		assertDomainCode(t, err, "UNAUTHENTICATED")
	}
}
