// Package otel holds the tracing helpers shared by the collaboration server.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Attribute keys attached to collaboration spans.
const (
	AttrNoteID       = attribute.Key("note.id")
	AttrUserID       = attribute.Key("user.id")
	AttrConnectionID = attribute.Key("connection.id")
	AttrEventName    = attribute.Key("collab.event")
	AttrRecipients   = attribute.Key("collab.recipients")
	AttrAccessAction = attribute.Key("access.action")
	AttrAllowed      = attribute.Key("access.allowed")
	AttrAuthProvider = attribute.Key("auth.provider")
)

// StartSpan starts a new span if the tracer is non-nil. With a nil tracer it
// returns a no-op span so the caller's deferred End never ends a parent span.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, noop.Span{}
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks the span as failed.
// The status description stays generic so connection strings and SQL never
// end up in the span status; the full error is kept on the exception event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
