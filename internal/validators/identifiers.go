// Package validators checks identifiers that arrive from clients before they
// reach the access checker or the room registry.
package validators

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxNoteIDLength = 128
	maxUserIDLength = 255
)

// Note ids are opaque: UUIDs in the database store, slugs in seed files.
var noteIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._:-]*[a-zA-Z0-9])?$`)

// ValidateNoteID trims and validates a note identifier.
// Returns the trimmed id, or an error describing why it was rejected.
//
// Valid ids:
//   - 5f0c1c9e-3c1b-4d43-9a4e-1f1f5d3b2a10
//   - roadmap-2026
//   - team:standup.notes
func ValidateNoteID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("note id cannot be empty")
	}
	if len(id) > maxNoteIDLength {
		return "", fmt.Errorf("note id exceeds %d characters", maxNoteIDLength)
	}
	if !noteIDPattern.MatchString(id) {
		return "", fmt.Errorf("note id %q contains invalid characters", id)
	}
	return id, nil
}

// ValidateUserID checks a user id taken from a verified token subject.
// Subjects are issuer-defined, so only emptiness, length and control
// characters are rejected.
func ValidateUserID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	if len(id) > maxUserIDLength {
		return fmt.Errorf("user id exceeds %d characters", maxUserIDLength)
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("user id contains control characters")
		}
	}
	return nil
}
