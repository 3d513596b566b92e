// Package authz decides whether a user may read or write a note. Ownership
// and share grants come from the note store; the decision itself is a Cedar
// policy evaluation so operators can tighten it without a rebuild.
package authz

import (
	"context"

	"github.com/stacklok/notes-collab-server/internal/store"
)

//go:generate mockgen -destination=mocks/mock_authorizer.go -package=mocks -source=authorizer.go Authorizer

// Actions evaluated against the policy set.
const (
	ActionRead  = "read"
	ActionWrite = "write"
)

// Authorizer evaluates authorization decisions using Cedar policies.
type Authorizer interface {
	Authorize(ctx context.Context, req Request) (Decision, error)
}

// Request represents an authorization request.
type Request struct {
	// UserID is the authenticated principal.
	UserID string

	// Action is ActionRead or ActionWrite.
	Action string

	// Note carries the owner and the principal's grant on the note.
	Note store.NoteAccess
}

// Decision represents the result of an authorization check.
type Decision struct {
	Allowed bool

	// Reasons lists the policy IDs that contributed to the decision.
	Reasons []string
}
