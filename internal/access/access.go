// Package access resolves a user's effective permission on a document from
// ownership, the collaborator list, share grants, and public visibility.
package access

import "marginalia/api/internal/store"

type Permission string
type Action string

const (
	PermissionNone    Permission = ""
	PermissionRead    Permission = "read"
	PermissionComment Permission = "comment"
	PermissionEdit    Permission = "edit"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionEdit    Action = "edit"
)

// Can reports whether a permission level authorizes an action.
func Can(permission Permission, action Action) bool {
	switch permission {
	case PermissionEdit:
		return true
	case PermissionComment:
		return action == ActionRead || action == ActionComment
	case PermissionRead:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize coerces an arbitrary string to a known permission; anything
// unrecognized degrades to read.
func Normalize(permission string) Permission {
	switch Permission(permission) {
	case PermissionRead, PermissionComment, PermissionEdit:
		return Permission(permission)
	default:
		return PermissionRead
	}
}

// Resolve computes userID's effective permission on the document. share is
// the user's share grant if one exists, nil otherwise. The owner and every
// collaborator hold edit; a share grant carries its own level; public
// documents grant read to everyone else.
func Resolve(doc store.Document, share *store.DocumentShare, userID string) Permission {
	if userID != "" {
		if doc.OwnerID == userID {
			return PermissionEdit
		}
		for _, collaborator := range doc.Collaborators {
			if collaborator == userID {
				return PermissionEdit
			}
		}
		if share != nil {
			return Normalize(share.Permission)
		}
	}
	if doc.IsPublic {
		return PermissionRead
	}
	return PermissionNone
}
