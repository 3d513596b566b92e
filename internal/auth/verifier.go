package auth

//go:generate mockgen -destination=mocks/mock_verifier.go -package=mocks -source=verifier.go Verifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/stacklok/notes-collab-server/internal/collab"
)

var (
	// ErrMissingCredential means the request carried no bearer token.
	ErrMissingCredential = errors.New("missing credential")

	// ErrInvalidCredential means a token was presented but could not be verified.
	ErrInvalidCredential = errors.New("invalid credential")
)

// Identity is the verified subject of a token.
type Identity struct {
	Subject  string
	Name     string
	Email    string
	Provider string
}

// Participant converts the identity into the presence record shown to other users.
func (i Identity) Participant() collab.Participant {
	return collab.Participant{
		UserID:      i.Subject,
		DisplayName: i.Name,
		Email:       i.Email,
	}
}

// Verifier validates a bearer token and returns the identity it carries.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// ClaimNames names the claims that carry the display fields.
type ClaimNames struct {
	Name  string
	Email string
}

func (c ClaimNames) name() string {
	if c.Name == "" {
		return "name"
	}
	return c.Name
}

func (c ClaimNames) email() string {
	if c.Email == "" {
		return "email"
	}
	return c.Email
}

// identityFromClaims builds an Identity from a verified claim set.
// The display name falls back to the email, then to the subject.
func identityFromClaims(provider string, sub string, lookup func(name string) string, names ClaimNames) (Identity, error) {
	if sub == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrInvalidCredential)
	}
	id := Identity{
		Subject:  sub,
		Name:     lookup(names.name()),
		Email:    lookup(names.email()),
		Provider: provider,
	}
	if id.Name == "" {
		id.Name = id.Email
	}
	if id.Name == "" {
		id.Name = id.Subject
	}
	return id, nil
}

// NewParticipantVerifier adapts v to the coordinator's identity interface.
func NewParticipantVerifier(v Verifier) collab.IdentityVerifier {
	return collab.IdentityVerifierFunc(func(ctx context.Context, credential string) (collab.Participant, error) {
		id, err := v.Verify(ctx, credential)
		if err != nil {
			return collab.Participant{}, err
		}
		return id.Participant(), nil
	})
}

type identityKey struct{}

// WithIdentity stores the authenticated identity in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by the auth middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
