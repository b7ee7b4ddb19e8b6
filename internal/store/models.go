package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Document struct {
	ID            string
	Title         string
	Text          string
	OwnerID       string
	Collaborators []string
	IsPublic      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	// Joined fields for API responses
	OwnerName string
}

// Highlight anchors a colored span to a half-open character interval
// [StartOffset,EndOffset) over the owning document's text. SelectedText is a
// snapshot taken at creation time, kept for integrity checks and diagnostics
// once the underlying text drifts.
type Highlight struct {
	ID           string
	DocumentID   string
	AuthorID     string
	StartOffset  int
	EndOffset    int
	SelectedText string
	Color        string
	CreatedAt    time.Time
	// Joined fields for API responses
	AuthorName string
}

// Comment is one node of a document's comment forest. HighlightID is nil for
// document-level comments; ParentCommentID is nil for roots. Replies always
// carry their root's HighlightID.
type Comment struct {
	ID              string
	DocumentID      string
	HighlightID     *string
	ParentCommentID *string
	AuthorID        string
	Content         string
	Mentions        []string
	CreatedAt       time.Time
	LastEditedAt    *time.Time
	// Joined fields for API responses
	AuthorName string
}

type DocumentShare struct {
	ID         string
	DocumentID string
	SharedBy   string
	SharedWith string
	Permission string // read, comment, edit
	CreatedAt  time.Time
	// Joined fields for API responses
	UserName  string
	UserEmail string
}

// Note is a per-user annotation, optionally pinned to a highlight. Private
// notes are visible only to their author.
type Note struct {
	ID          string
	DocumentID  string
	HighlightID *string
	AuthorID    string
	Title       string
	Content     string
	IsPrivate   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// Joined fields for API responses
	AuthorName string
}

type DocumentRevision struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
