package authz

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/notes-collab-server/internal/store"
)

func TestNewCedarAuthorizer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		policy  []byte
		wantErr bool
	}{
		{name: "default policies", policy: nil},
		{
			name:   "custom policy",
			policy: []byte(`permit(principal, action == Notes::Action::"read", resource);`),
		},
		{name: "invalid policy", policy: []byte(`permit(principal, action, resource`), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, err := NewCedarAuthorizer(tt.policy)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "failed to parse Cedar policies")
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, a)
		})
	}
}

func TestCedarAuthorizer_DefaultPolicies(t *testing.T) {
	t.Parallel()

	a, err := NewCedarAuthorizer(nil)
	require.NoError(t, err)

	tests := []struct {
		name       string
		userID     string
		permission store.Permission
		action     string
		want       bool
	}{
		{name: "owner reads", userID: "alice", action: ActionRead, want: true},
		{name: "owner writes", userID: "alice", action: ActionWrite, want: true},
		{name: "reader reads", userID: "bob", permission: store.PermissionRead, action: ActionRead, want: true},
		{name: "reader cannot write", userID: "bob", permission: store.PermissionRead, action: ActionWrite, want: false},
		{name: "writer reads", userID: "carol", permission: store.PermissionWrite, action: ActionRead, want: true},
		{name: "writer writes", userID: "carol", permission: store.PermissionWrite, action: ActionWrite, want: true},
		{name: "stranger cannot read", userID: "mallory", action: ActionRead, want: false},
		{name: "stranger cannot write", userID: "mallory", action: ActionWrite, want: false},
		{name: "unknown action", userID: "alice", action: "delete", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			decision, err := a.Authorize(context.Background(), Request{
				UserID: tt.userID,
				Action: tt.action,
				Note: store.NoteAccess{
					NoteID:     "note-1",
					OwnerID:    "alice",
					Found:      true,
					Permission: tt.permission,
				},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, decision.Allowed)
			if tt.want {
				assert.NotEmpty(t, decision.Reasons)
			}
		})
	}
}

func TestCedarAuthorizer_ForbidOverridesPermit(t *testing.T) {
	t.Parallel()

	policy := defaultPolicies + `
forbid(principal == Notes::User::"carol", action == Notes::Action::"write", resource);
`
	a, err := NewCedarAuthorizer([]byte(policy))
	require.NoError(t, err)

	note := store.NoteAccess{NoteID: "note-1", OwnerID: "alice", Found: true, Permission: store.PermissionWrite}

	decision, err := a.Authorize(context.Background(), Request{UserID: "carol", Action: ActionWrite, Note: note})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	decision, err = a.Authorize(context.Background(), Request{UserID: "carol", Action: ActionRead, Note: note})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestNewCedarAuthorizerFromFile(t *testing.T) {
	t.Parallel()

	t.Run("empty path uses defaults", func(t *testing.T) {
		t.Parallel()
		a, err := NewCedarAuthorizerFromFile("")
		require.NoError(t, err)
		assert.NotNil(t, a)
	})

	t.Run("reads policy file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "policies.cedar")
		require.NoError(t, os.WriteFile(path, []byte(`permit(principal, action, resource);`), 0o600))

		a, err := NewCedarAuthorizerFromFile(path)
		require.NoError(t, err)

		decision, err := a.Authorize(context.Background(), Request{
			UserID: "anyone",
			Action: ActionWrite,
			Note:   store.NoteAccess{NoteID: "n", OwnerID: "alice", Found: true},
		})
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := NewCedarAuthorizerFromFile(filepath.Join(t.TempDir(), "nope.cedar"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read policy file")
	})
}
