package authz

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/notes-collab-server/internal/otel"
	"github.com/stacklok/notes-collab-server/internal/store"
)

// Checker answers read and write access for the coordinator. Every call
// queries the store; nothing is cached, so revoked grants apply on the next
// event.
type Checker struct {
	store      store.Store
	authorizer Authorizer
	tracer     trace.Tracer
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithTracer traces every access check.
func WithTracer(t trace.Tracer) CheckerOption {
	return func(c *Checker) {
		c.tracer = t
	}
}

// NewChecker creates a Checker over s, deciding with authorizer.
func NewChecker(s store.Store, authorizer Authorizer, opts ...CheckerOption) *Checker {
	c := &Checker{store: s, authorizer: authorizer}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CanRead reports whether userID owns noteID or holds any grant on it.
func (c *Checker) CanRead(ctx context.Context, userID, noteID string) (bool, error) {
	return c.check(ctx, ActionRead, userID, noteID)
}

// CanWrite reports whether userID owns noteID or holds a write grant on it.
func (c *Checker) CanWrite(ctx context.Context, userID, noteID string) (bool, error) {
	return c.check(ctx, ActionWrite, userID, noteID)
}

func (c *Checker) check(ctx context.Context, action, userID, noteID string) (bool, error) {
	ctx, span := otel.StartSpan(ctx, c.tracer, "authz.Check",
		trace.WithAttributes(
			otel.AttrAccessAction.String(action),
			otel.AttrUserID.String(userID),
			otel.AttrNoteID.String(noteID),
		))
	defer span.End()

	access, err := c.store.NoteAccess(ctx, noteID, userID)
	if err != nil {
		otel.RecordError(span, err)
		return false, err
	}
	if !access.Found {
		span.SetAttributes(otel.AttrAllowed.Bool(false))
		slog.DebugContext(ctx, "Access check on unknown note", "note_id", noteID, "user_id", userID)
		return false, nil
	}

	decision, err := c.authorizer.Authorize(ctx, Request{UserID: userID, Action: action, Note: access})
	if err != nil {
		otel.RecordError(span, err)
		return false, fmt.Errorf("authorization evaluation failed: %w", err)
	}
	span.SetAttributes(otel.AttrAllowed.Bool(decision.Allowed))
	return decision.Allowed, nil
}
