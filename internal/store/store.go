// Package store answers note ownership and sharing queries for access checks.
// The collaboration server never writes to the note tables; they belong to
// the notes API.
package store

import (
	"context"
	"errors"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store

// ErrUnavailable wraps every failure to reach the backing store.
var ErrUnavailable = errors.New("note store unavailable")

// Permission is a share grant level.
type Permission string

const (
	// PermissionRead allows viewing a note.
	PermissionRead Permission = "read"

	// PermissionWrite allows viewing and editing a note.
	PermissionWrite Permission = "write"
)

// Valid reports whether p is a known grant level.
func (p Permission) Valid() bool {
	return p == PermissionRead || p == PermissionWrite
}

// NoteAccess is the result of one access lookup.
type NoteAccess struct {
	NoteID  string
	OwnerID string

	// Found is false when the note does not exist.
	Found bool

	// Permission is the caller's share grant, empty when there is none.
	Permission Permission
}

// Store is the read-only query surface over notes and shares.
type Store interface {
	// NoteAccess returns the owner of noteID and userID's grant on it in one
	// round trip. A missing note is not an error.
	NoteAccess(ctx context.Context, noteID, userID string) (NoteAccess, error)

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close()
}
