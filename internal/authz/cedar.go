package authz

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	cedar "github.com/cedar-policy/cedar-go"

	"github.com/stacklok/notes-collab-server/internal/store"
)

const cedarNamespace = "Notes"

type cedarAuthorizer struct {
	policySet *cedar.PolicySet
}

// NewCedarAuthorizer creates a new Cedar-based authorizer.
// If policyBytes is nil, built-in default policies are used.
func NewCedarAuthorizer(policyBytes []byte) (Authorizer, error) {
	if policyBytes == nil {
		policyBytes = []byte(defaultPolicies)
	}

	ps, err := cedar.NewPolicySetFromBytes("policies.cedar", policyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Cedar policies: %w", err)
	}

	return &cedarAuthorizer{policySet: ps}, nil
}

// NewCedarAuthorizerFromFile loads policies from path, or the defaults when path is empty.
func NewCedarAuthorizerFromFile(path string) (Authorizer, error) {
	if path == "" {
		return NewCedarAuthorizer(nil)
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewCedarAuthorizer(data)
}

func userUID(id string) cedar.EntityUID {
	return cedar.NewEntityUID(cedar.EntityType(cedarNamespace+"::User"), cedar.String(id))
}

// Authorize evaluates the policy set for one principal, action and note.
// The note entity carries its owner and the principal's own grant only, which
// is all a single access query returns.
func (a *cedarAuthorizer) Authorize(ctx context.Context, req Request) (Decision, error) {
	principalUID := userUID(req.UserID)
	noteUID := cedar.NewEntityUID(cedar.EntityType(cedarNamespace+"::Note"), cedar.String(req.Note.NoteID))

	var readers, writers []cedar.Value
	switch req.Note.Permission {
	case store.PermissionRead:
		readers = append(readers, principalUID)
	case store.PermissionWrite:
		writers = append(writers, principalUID)
	}

	entities := cedar.EntityMap{
		principalUID: cedar.Entity{
			UID:        principalUID,
			Attributes: cedar.NewRecord(cedar.RecordMap{}),
		},
		noteUID: cedar.Entity{
			UID: noteUID,
			Attributes: cedar.NewRecord(cedar.RecordMap{
				"owner":   userUID(req.Note.OwnerID),
				"readers": cedar.NewSet(readers...),
				"writers": cedar.NewSet(writers...),
			}),
		},
	}

	cedarReq := cedar.Request{
		Principal: principalUID,
		Action:    cedar.NewEntityUID(cedar.EntityType(cedarNamespace+"::Action"), cedar.String(req.Action)),
		Resource:  noteUID,
		Context:   cedar.NewRecord(cedar.RecordMap{}),
	}

	decision, diagnostic := cedar.Authorize(a.policySet, entities, cedarReq)

	var reasons []string
	for _, r := range diagnostic.Reasons {
		reasons = append(reasons, string(r.PolicyID))
	}
	if len(diagnostic.Errors) > 0 {
		slog.WarnContext(ctx, "Policy evaluation errors", "count", len(diagnostic.Errors), "action", req.Action)
	}

	slog.DebugContext(ctx, "Authorization decision",
		"action", req.Action,
		"decision", decision,
		"user_id", req.UserID,
		"note_id", req.Note.NoteID,
	)

	return Decision{
		Allowed: decision == cedar.Allow,
		Reasons: reasons,
	}, nil
}
