package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, is_email_verified FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified
		FROM users WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// GetUsersByIDs resolves display info for a set of user ids. Missing ids are
// simply absent from the result.
func (s *PostgresStore) GetUsersByIDs(ctx context.Context, ids []string) (map[string]User, error) {
	users := make(map[string]User, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		user, err := s.GetUserByID(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup user %s: %w", id, err)
		}
		users[id] = user
	}
	return users, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_email_verified=TRUE, verification_token='', updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark reset used: %w", err)
	}
	return nil
}

// ---- refresh sessions (Postgres fallback when Redis is not configured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.display_name, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1 AND rs.revoked_at IS NULL AND rs.expires_at > NOW()
	`, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at) VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti=$1 AND expires_at > NOW())
	`, jti).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return exists, nil
}

// ---- documents ----

func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) error {
	collaborators, err := json.Marshal(nonNilStrings(doc.Collaborators))
	if err != nil {
		return fmt.Errorf("marshal collaborators: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, text, owner_id, collaborators, is_public)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
	`, doc.ID, doc.Title, doc.Text, doc.OwnerID, string(collaborators), doc.IsPublic)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var doc Document
	var collaboratorsRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT d.id, d.title, d.text, d.owner_id, d.collaborators, d.is_public, d.created_at, d.updated_at,
			COALESCE(u.display_name, 'Unknown')
		FROM documents d
		LEFT JOIN users u ON u.id = d.owner_id
		WHERE d.id=$1
	`, documentID).Scan(&doc.ID, &doc.Title, &doc.Text, &doc.OwnerID, &collaboratorsRaw,
		&doc.IsPublic, &doc.CreatedAt, &doc.UpdatedAt, &doc.OwnerName)
	if err != nil {
		return Document{}, err
	}
	_ = json.Unmarshal(collaboratorsRaw, &doc.Collaborators)
	return doc, nil
}

// ListDocumentsForUser returns documents the user owns plus documents shared
// with them, newest first.
func (s *PostgresStore) ListDocumentsForUser(ctx context.Context, userID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT d.id, d.title, d.text, d.owner_id, d.collaborators, d.is_public, d.created_at, d.updated_at,
			COALESCE(u.display_name, 'Unknown')
		FROM documents d
		LEFT JOIN users u ON u.id = d.owner_id
		LEFT JOIN document_shares ds ON ds.document_id = d.id AND ds.shared_with = $1
		WHERE d.owner_id = $1 OR ds.id IS NOT NULL
		ORDER BY d.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var collaboratorsRaw []byte
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Text, &doc.OwnerID, &collaboratorsRaw,
			&doc.IsPublic, &doc.CreatedAt, &doc.UpdatedAt, &doc.OwnerName); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		_ = json.Unmarshal(collaboratorsRaw, &doc.Collaborators)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// UpdateDocument patches title and/or text. Nil means leave unchanged.
func (s *PostgresStore) UpdateDocument(ctx context.Context, documentID string, title, text *string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET title = COALESCE($2, title), text = COALESCE($3, text), updated_at = NOW()
		WHERE id = $1
	`, documentID, title, text)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---- document shares ----

func (s *PostgresStore) UpsertShare(ctx context.Context, share DocumentShare) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_shares (id, document_id, shared_by, shared_with, permission)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (document_id, shared_with) DO UPDATE SET permission=EXCLUDED.permission
	`, share.ID, share.DocumentID, share.SharedBy, share.SharedWith, share.Permission)
	if err != nil {
		return fmt.Errorf("upsert share: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListShares(ctx context.Context, documentID string) ([]DocumentShare, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ds.id, ds.document_id, ds.shared_by, ds.shared_with, ds.permission, ds.created_at,
			COALESCE(u.display_name, 'Unknown'), COALESCE(u.email, '')
		FROM document_shares ds
		LEFT JOIN users u ON u.id = ds.shared_with
		WHERE ds.document_id=$1
		ORDER BY ds.created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	var shares []DocumentShare
	for rows.Next() {
		var share DocumentShare
		if err := rows.Scan(&share.ID, &share.DocumentID, &share.SharedBy, &share.SharedWith,
			&share.Permission, &share.CreatedAt, &share.UserName, &share.UserEmail); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		shares = append(shares, share)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shares: %w", err)
	}
	return shares, nil
}

// GetShareForUser returns the share row granting userID access to the
// document, or sql.ErrNoRows.
func (s *PostgresStore) GetShareForUser(ctx context.Context, documentID, userID string) (DocumentShare, error) {
	var share DocumentShare
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, shared_by, shared_with, permission, created_at
		FROM document_shares
		WHERE document_id=$1 AND shared_with=$2
	`, documentID, userID).Scan(&share.ID, &share.DocumentID, &share.SharedBy,
		&share.SharedWith, &share.Permission, &share.CreatedAt)
	if err != nil {
		return DocumentShare{}, err
	}
	return share, nil
}

// ---- highlights ----

// CreateHighlightWithComment inserts a highlight and its initiating root
// comment in one transaction. Either both rows land or neither does.
func (s *PostgresStore) CreateHighlightWithComment(ctx context.Context, highlight Highlight, comment Comment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin highlight tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO highlights (id, document_id, author_id, start_offset, end_offset, selected_text, color)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, highlight.ID, highlight.DocumentID, highlight.AuthorID, highlight.StartOffset,
		highlight.EndOffset, highlight.SelectedText, highlight.Color); err != nil {
		return fmt.Errorf("insert highlight: %w", err)
	}

	mentions, err := json.Marshal(nonNilStrings(comment.Mentions))
	if err != nil {
		return fmt.Errorf("marshal mentions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO comments (id, document_id, highlight_id, parent_comment_id, author_id, content, mentions)
		VALUES ($1, $2, $3, NULL, $4, $5, $6::jsonb)
	`, comment.ID, comment.DocumentID, highlight.ID, comment.AuthorID, comment.Content, string(mentions)); err != nil {
		return fmt.Errorf("insert initial comment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit highlight tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetHighlight(ctx context.Context, highlightID string) (Highlight, error) {
	var h Highlight
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, author_id, start_offset, end_offset, selected_text, color, created_at
		FROM highlights WHERE id=$1
	`, highlightID).Scan(&h.ID, &h.DocumentID, &h.AuthorID, &h.StartOffset, &h.EndOffset,
		&h.SelectedText, &h.Color, &h.CreatedAt)
	if err != nil {
		return Highlight{}, err
	}
	return h, nil
}

func (s *PostgresStore) ListHighlightsByDocument(ctx context.Context, documentID string) ([]Highlight, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.id, h.document_id, h.author_id, h.start_offset, h.end_offset, h.selected_text, h.color, h.created_at,
			COALESCE(u.display_name, 'Unknown')
		FROM highlights h
		LEFT JOIN users u ON u.id = h.author_id
		WHERE h.document_id=$1
		ORDER BY h.created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list highlights: %w", err)
	}
	defer rows.Close()

	var highlights []Highlight
	for rows.Next() {
		var h Highlight
		if err := rows.Scan(&h.ID, &h.DocumentID, &h.AuthorID, &h.StartOffset, &h.EndOffset,
			&h.SelectedText, &h.Color, &h.CreatedAt, &h.AuthorName); err != nil {
			return nil, fmt.Errorf("scan highlight: %w", err)
		}
		highlights = append(highlights, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate highlights: %w", err)
	}
	return highlights, nil
}

// DeleteHighlightCascade removes the highlight and every comment carrying
// its highlight_id in one transaction. Replies inherit their root's
// highlight_id, so the flat filter covers the full subtree. Returns the ids
// of the deleted comments.
func (s *PostgresStore) DeleteHighlightCascade(ctx context.Context, highlightID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin highlight delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `DELETE FROM comments WHERE highlight_id=$1 RETURNING id`, highlightID)
	if err != nil {
		return nil, fmt.Errorf("delete highlight comments: %w", err)
	}
	var commentIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan deleted comment id: %w", err)
		}
		commentIDs = append(commentIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted comments: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM highlights WHERE id=$1`, highlightID)
	if err != nil {
		return nil, fmt.Errorf("delete highlight: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return nil, sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit highlight delete: %w", err)
	}
	return commentIDs, nil
}

// ---- comments ----

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	mentions, err := json.Marshal(nonNilStrings(comment.Mentions))
	if err != nil {
		return fmt.Errorf("marshal mentions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO comments (id, document_id, highlight_id, parent_comment_id, author_id, content, mentions)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
	`, comment.ID, comment.DocumentID, comment.HighlightID, comment.ParentCommentID,
		comment.AuthorID, comment.Content, string(mentions))
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	var c Comment
	var mentionsRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, highlight_id, parent_comment_id, author_id, content, mentions, created_at, last_edited_at
		FROM comments WHERE id=$1
	`, commentID).Scan(&c.ID, &c.DocumentID, &c.HighlightID, &c.ParentCommentID,
		&c.AuthorID, &c.Content, &mentionsRaw, &c.CreatedAt, &c.LastEditedAt)
	if err != nil {
		return Comment{}, err
	}
	_ = json.Unmarshal(mentionsRaw, &c.Mentions)
	return c, nil
}

func (s *PostgresStore) UpdateCommentContent(ctx context.Context, commentID, content string, mentions []string) error {
	encoded, err := json.Marshal(nonNilStrings(mentions))
	if err != nil {
		return fmt.Errorf("marshal mentions: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE comments SET content=$2, mentions=$3::jsonb, last_edited_at=NOW() WHERE id=$1
	`, commentID, content, string(encoded))
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListCommentsByDocument(ctx context.Context, documentID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.highlight_id, c.parent_comment_id, c.author_id, c.content, c.mentions,
			c.created_at, c.last_edited_at, COALESCE(u.display_name, 'Unknown')
		FROM comments c
		LEFT JOIN users u ON u.id = c.author_id
		WHERE c.document_id=$1
		ORDER BY c.created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var comments []Comment
	for rows.Next() {
		var c Comment
		var mentionsRaw []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.HighlightID, &c.ParentCommentID, &c.AuthorID,
			&c.Content, &mentionsRaw, &c.CreatedAt, &c.LastEditedAt, &c.AuthorName); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		_ = json.Unmarshal(mentionsRaw, &c.Mentions)
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return comments, nil
}

// ListChildCommentIDs returns the direct children of a comment, for the
// cascade-delete work list.
func (s *PostgresStore) ListChildCommentIDs(ctx context.Context, parentCommentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM comments WHERE parent_comment_id=$1`, parentCommentID)
	if err != nil {
		return nil, fmt.Errorf("list child comments: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan child comment id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate child comments: %w", err)
	}
	return ids, nil
}

// DeleteCommentsByIDs removes the given comments in one transaction. The
// caller has already collected the full subtree; partial deletion is not an
// acceptable outcome, so all rows go or none do.
func (s *PostgresStore) DeleteCommentsByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin comment delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, id); err != nil {
			return fmt.Errorf("delete comment %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit comment delete: %w", err)
	}
	return nil
}

// ---- notes ----

func (s *PostgresStore) InsertNote(ctx context.Context, note Note) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, document_id, highlight_id, author_id, title, content, is_private)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, note.ID, note.DocumentID, note.HighlightID, note.AuthorID, note.Title, note.Content, note.IsPrivate)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetNote(ctx context.Context, noteID string) (Note, error) {
	var n Note
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, highlight_id, author_id, title, content, is_private, created_at, updated_at
		FROM notes WHERE id=$1
	`, noteID).Scan(&n.ID, &n.DocumentID, &n.HighlightID, &n.AuthorID, &n.Title, &n.Content,
		&n.IsPrivate, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return Note{}, err
	}
	return n, nil
}

// ListNotesByDocument returns the viewer's own notes plus everyone's public
// notes for the document.
func (s *PostgresStore) ListNotesByDocument(ctx context.Context, documentID, viewerID string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.document_id, n.highlight_id, n.author_id, n.title, n.content, n.is_private,
			n.created_at, n.updated_at, COALESCE(u.display_name, 'Unknown')
		FROM notes n
		LEFT JOIN users u ON u.id = n.author_id
		WHERE n.document_id=$1 AND (n.author_id=$2 OR n.is_private=FALSE)
		ORDER BY n.created_at ASC
	`, documentID, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.DocumentID, &n.HighlightID, &n.AuthorID, &n.Title, &n.Content,
			&n.IsPrivate, &n.CreatedAt, &n.UpdatedAt, &n.AuthorName); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return notes, nil
}

// UpdateNote patches the given fields; nil leaves a field unchanged.
func (s *PostgresStore) UpdateNote(ctx context.Context, noteID string, title, content *string, isPrivate *bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notes
		SET title = COALESCE($2, title),
			content = COALESCE($3, content),
			is_private = COALESCE($4, is_private),
			updated_at = NOW()
		WHERE id = $1
	`, noteID, title, content, isPrivate)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteNote(ctx context.Context, noteID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=$1`, noteID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
