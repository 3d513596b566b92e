package validators

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateNoteID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		id          string
		want        string
		expectError string
	}{
		{name: "uuid", id: "5f0c1c9e-3c1b-4d43-9a4e-1f1f5d3b2a10", want: "5f0c1c9e-3c1b-4d43-9a4e-1f1f5d3b2a10"},
		{name: "slug", id: "roadmap-2026", want: "roadmap-2026"},
		{name: "colon and dot", id: "team:standup.notes", want: "team:standup.notes"},
		{name: "single character", id: "a", want: "a"},
		{name: "surrounding whitespace trimmed", id: "  roadmap  ", want: "roadmap"},
		{name: "empty", id: "", expectError: "cannot be empty"},
		{name: "whitespace only", id: "   ", expectError: "cannot be empty"},
		{name: "too long", id: strings.Repeat("a", 129), expectError: "exceeds 128"},
		{name: "slash", id: "notes/1", expectError: "invalid characters"},
		{name: "leading dash", id: "-notes", expectError: "invalid characters"},
		{name: "trailing dot", id: "notes.", expectError: "invalid characters"},
		{name: "sql meta", id: "1;drop", expectError: "invalid characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ValidateNoteID(tt.id)
			if tt.expectError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateUserID(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateUserID("auth0|5f7c8ec7c33c6c004bbafe82"))
	assert.NoError(t, ValidateUserID("alice@example.com"))
	assert.ErrorContains(t, ValidateUserID(""), "cannot be empty")
	assert.ErrorContains(t, ValidateUserID(" \t"), "cannot be empty")
	assert.ErrorContains(t, ValidateUserID(strings.Repeat("u", 256)), "exceeds 255")
	assert.ErrorContains(t, ValidateUserID("alice\nbob"), "control characters")
}
