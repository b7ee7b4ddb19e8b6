package access

import (
	"testing"

	"marginalia/api/internal/store"
)

func TestCan(t *testing.T) {
	cases := []struct {
		permission Permission
		action     Action
		want       bool
	}{
		{PermissionEdit, ActionEdit, true},
		{PermissionEdit, ActionComment, true},
		{PermissionComment, ActionComment, true},
		{PermissionComment, ActionEdit, false},
		{PermissionRead, ActionRead, true},
		{PermissionRead, ActionComment, false},
		{PermissionNone, ActionRead, false},
	}
	for _, tc := range cases {
		if got := Can(tc.permission, tc.action); got != tc.want {
			t.Errorf("Can(%q, %q) = %v, want %v", tc.permission, tc.action, got, tc.want)
		}
	}
}

func TestResolve(t *testing.T) {
	doc := store.Document{ID: "d1", OwnerID: "owner", Collaborators: []string{"collab"}}

	if got := Resolve(doc, nil, "owner"); got != PermissionEdit {
		t.Errorf("owner = %q, want edit", got)
	}
	if got := Resolve(doc, nil, "collab"); got != PermissionEdit {
		t.Errorf("collaborator = %q, want edit", got)
	}
	share := &store.DocumentShare{Permission: "comment"}
	if got := Resolve(doc, share, "guest"); got != PermissionComment {
		t.Errorf("shared = %q, want comment", got)
	}
	if got := Resolve(doc, nil, "stranger"); got != PermissionNone {
		t.Errorf("stranger on private doc = %q, want none", got)
	}

	doc.IsPublic = true
	if got := Resolve(doc, nil, "stranger"); got != PermissionRead {
		t.Errorf("stranger on public doc = %q, want read", got)
	}
	if got := Resolve(doc, nil, ""); got != PermissionRead {
		t.Errorf("anonymous on public doc = %q, want read", got)
	}
}
