// Package collab coordinates realtime collaboration on notes: who is present
// in which note, and relaying content and cursor updates between them.
//
// The Coordinator owns two registries. ConnectionRegistry knows every live
// connection per user; RoomRegistry knows every note with present users.
// Transports authenticate a connection once, receive a Session, and pass
// that Session to every subsequent handler call.
package collab

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/notes-collab-server/internal/otel"
	"github.com/stacklok/notes-collab-server/internal/telemetry"
	"github.com/stacklok/notes-collab-server/internal/validators"
)

//go:generate mockgen -destination=mocks/mock_collab.go -package=mocks -source=coordinator.go IdentityVerifier,AccessChecker

// IdentityVerifier turns an opaque credential into a participant identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, credential string) (Participant, error)
}

// IdentityVerifierFunc adapts a function to IdentityVerifier.
type IdentityVerifierFunc func(ctx context.Context, credential string) (Participant, error)

// Verify calls f.
func (f IdentityVerifierFunc) Verify(ctx context.Context, credential string) (Participant, error) {
	return f(ctx, credential)
}

// AccessChecker answers whether a user may read or write a note.
// An error means the answer is unknown; callers must refuse the request.
type AccessChecker interface {
	CanRead(ctx context.Context, userID, noteID string) (bool, error)
	CanWrite(ctx context.Context, userID, noteID string) (bool, error)
}

// Session is the authenticated identity bound to one connection.
type Session struct {
	ConnectionID string
	Participant  Participant
	ConnectedAt  time.Time
}

// Coordinator dispatches collaboration events against the registries.
// All methods are safe for concurrent use; events from a single connection
// must be dispatched sequentially to keep their order.
type Coordinator struct {
	verifier    IdentityVerifier
	access      AccessChecker
	connections *ConnectionRegistry
	rooms       *RoomRegistry
	metrics     *telemetry.CollabMetrics
	tracer      trace.Tracer
	now         func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetrics records coordinator metrics.
func WithMetrics(m *telemetry.CollabMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithTracer wraps every handler in a span.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = t
	}
}

// WithClock overrides the time source used for missing timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// NewCoordinator builds a Coordinator over the given registries.
func NewCoordinator(
	verifier IdentityVerifier,
	access AccessChecker,
	connections *ConnectionRegistry,
	rooms *RoomRegistry,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		verifier:    verifier,
		access:      access,
		connections: connections,
		rooms:       rooms,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate verifies a credential without registering anything.
// Transports call it before upgrading so a bad credential can be refused
// at the HTTP layer.
func (c *Coordinator) Authenticate(ctx context.Context, credential string) (Participant, error) {
	ctx, span := otel.StartSpan(ctx, c.tracer, "collab.Authenticate")
	defer span.End()

	if credential == "" {
		return Participant{}, fmt.Errorf("%w: missing credential", ErrAuthentication)
	}
	p, err := c.verifier.Verify(ctx, credential)
	if err != nil {
		otel.RecordError(span, err)
		return Participant{}, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	if err := validators.ValidateUserID(p.UserID); err != nil {
		otel.RecordError(span, err)
		return Participant{}, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	span.SetAttributes(otel.AttrUserID.String(p.UserID))
	return p, nil
}

// Attach registers an already authenticated connection and returns its Session.
func (c *Coordinator) Attach(ctx context.Context, p Participant, conn Conn) Session {
	c.connections.AddConnection(p.UserID, conn)
	c.metrics.ConnectionOpened(ctx)

	slog.DebugContext(ctx, "Connection attached",
		"connection_id", conn.ID(),
		"user_id", p.UserID,
	)
	return Session{ConnectionID: conn.ID(), Participant: p, ConnectedAt: c.now()}
}

// Connect authenticates credential and registers conn. A failed
// authentication leaves no trace in the registries.
func (c *Coordinator) Connect(ctx context.Context, credential string, conn Conn) (Session, error) {
	p, err := c.Authenticate(ctx, credential)
	if err != nil {
		slog.WarnContext(ctx, "Connection rejected", "connection_id", conn.ID(), "error", err)
		return Session{}, err
	}
	return c.Attach(ctx, p, conn), nil
}

// Dispatch routes one inbound event to its handler.
func (c *Coordinator) Dispatch(ctx context.Context, s Session, ev InboundEvent) error {
	if ev == nil {
		err := fmt.Errorf("%w: empty event", ErrMalformedEvent)
		c.Reject(ctx, s, "", err)
		return err
	}
	c.metrics.RecordEvent(ctx, ev.EventName())

	switch e := ev.(type) {
	case JoinNote:
		return c.Join(ctx, s, e.NoteID)
	case LeaveNote:
		c.Leave(ctx, s, e.NoteID)
		return nil
	case NoteChange:
		return c.ChangeContent(ctx, s, e)
	case CursorPosition:
		c.MoveCursor(ctx, s, e)
		return nil
	default:
		err := fmt.Errorf("%w: unsupported event %q", ErrMalformedEvent, ev.EventName())
		c.Reject(ctx, s, ev.EventName(), err)
		return err
	}
}

// Join makes the session's user present in noteID. The user needs read access.
// Others in the room get user-joined unless the user was already present;
// the joining connection gets active-users.
func (c *Coordinator) Join(ctx context.Context, s Session, noteID string) error {
	ctx, span := c.startSpan(ctx, "collab.Join", s, noteID)
	defer span.End()

	if err := c.authorize(ctx, s, noteID, false); err != nil {
		otel.RecordError(span, err)
		c.Reject(ctx, s, EventJoinNote, err)
		return err
	}

	res := c.rooms.Join(noteID, s.Participant, s.ConnectionID)
	if res.CreatedRoom {
		c.metrics.RoomsChanged(ctx, 1)
	}
	if !res.AlreadyPresent {
		c.broadcast(ctx, res.Recipients, UserJoined{Participant: s.Participant})
	}
	c.send(ctx, s.ConnectionID, ActiveUsers{Participants: res.CurrentParticipants})

	slog.DebugContext(ctx, "User joined note",
		"note_id", noteID,
		"user_id", s.Participant.UserID,
		"created_room", res.CreatedRoom,
		"already_present", res.AlreadyPresent,
	)
	return nil
}

// Leave withdraws the session's user from noteID. No access check applies.
func (c *Coordinator) Leave(ctx context.Context, s Session, noteID string) {
	ctx, span := c.startSpan(ctx, "collab.Leave", s, noteID)
	defer span.End()

	res := c.rooms.Leave(noteID, s.Participant.UserID)
	if !res.WasPresent {
		return
	}
	c.afterLeave(ctx, noteID, res)
}

// ChangeContent records a content snapshot and relays it to every other
// subscribed connection. The sender needs read and write access, both
// checked on every change.
func (c *Coordinator) ChangeContent(ctx context.Context, s Session, e NoteChange) error {
	ctx, span := c.startSpan(ctx, "collab.ChangeContent", s, e.NoteID)
	defer span.End()

	if err := c.authorize(ctx, s, e.NoteID, false); err != nil {
		otel.RecordError(span, err)
		c.Reject(ctx, s, EventNoteChange, err)
		return err
	}
	if err := c.authorize(ctx, s, e.NoteID, true); err != nil {
		otel.RecordError(span, err)
		c.Reject(ctx, s, EventNoteChange, err)
		return err
	}

	at := e.Timestamp
	if at.IsZero() {
		at = c.now()
	}
	recipients, ok := c.rooms.RecordContent(e.NoteID, e.Content, at, s.ConnectionID)
	if !ok {
		slog.DebugContext(ctx, "Content change for note nobody is present in",
			"note_id", e.NoteID,
			"user_id", s.Participant.UserID,
		)
		return nil
	}

	c.broadcast(ctx, recipients, NoteChanged{
		Content:     e.Content,
		UserID:      s.Participant.UserID,
		DisplayName: s.Participant.DisplayName,
		Timestamp:   at,
	})
	return nil
}

// MoveCursor relays the sender's caret to every other subscribed connection.
// Cursor updates are not access checked and not stored.
func (c *Coordinator) MoveCursor(ctx context.Context, s Session, e CursorPosition) {
	c.broadcast(ctx, c.rooms.Recipients(e.NoteID, s.ConnectionID), CursorMoved{
		UserID:      s.Participant.UserID,
		DisplayName: s.Participant.DisplayName,
		Position:    e.Position,
	})
}

// Disconnect unregisters the session's connection. When it was the user's
// last connection the user leaves every room, each announced once.
func (c *Coordinator) Disconnect(ctx context.Context, s Session) {
	ctx, span := otel.StartSpan(ctx, c.tracer, "collab.Disconnect",
		trace.WithAttributes(
			otel.AttrConnectionID.String(s.ConnectionID),
			otel.AttrUserID.String(s.Participant.UserID),
		),
	)
	defer span.End()

	removal := c.connections.RemoveConnection(s.ConnectionID)
	if !removal.Found {
		return
	}
	c.metrics.ConnectionClosed(ctx)
	c.rooms.Unsubscribe(s.ConnectionID)

	if !removal.WasLastConnection {
		slog.DebugContext(ctx, "Connection closed, user still connected elsewhere",
			"connection_id", s.ConnectionID,
			"user_id", removal.UserID,
		)
		return
	}

	departures := c.rooms.LeaveAllRoomsFor(removal.UserID)
	for _, d := range departures {
		c.afterLeave(ctx, d.NoteID, d.LeaveResult)
	}
	slog.DebugContext(ctx, "User disconnected",
		"user_id", removal.UserID,
		"rooms_left", len(departures),
	)
}

// Presence returns who is present in noteID, provided userID may read it.
func (c *Coordinator) Presence(ctx context.Context, userID, noteID string) ([]Participant, error) {
	s := Session{Participant: Participant{UserID: userID}}
	ctx, span := c.startSpan(ctx, "collab.Presence", s, noteID)
	defer span.End()

	if err := c.authorize(ctx, s, noteID, false); err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	return c.rooms.Participants(noteID), nil
}

// Reject sends an error event for err to the session's connection only.
func (c *Coordinator) Reject(ctx context.Context, s Session, event string, err error) {
	c.metrics.RecordDenied(ctx, event, denialReason(err))
	c.send(ctx, s.ConnectionID, ErrorEvent{Message: ClientMessage(err)})
}

func (c *Coordinator) afterLeave(ctx context.Context, noteID string, res LeaveResult) {
	if res.RoomDeleted {
		c.metrics.RoomsChanged(ctx, -1)
	}
	c.broadcast(ctx, res.Recipients, UserLeft{
		UserID:      res.Participant.UserID,
		DisplayName: res.Participant.DisplayName,
	})
	slog.DebugContext(ctx, "User left note",
		"note_id", noteID,
		"user_id", res.Participant.UserID,
		"room_deleted", res.RoomDeleted,
	)
}

// authorize runs the read or write check and maps its outcome onto the
// error taxonomy. Store failures refuse the request.
func (c *Coordinator) authorize(ctx context.Context, s Session, noteID string, write bool) error {
	check, denied, action := c.access.CanRead, ErrReadDenied, "read"
	if write {
		check, denied, action = c.access.CanWrite, ErrWriteDenied, "write"
	}

	allowed, err := check(ctx, s.Participant.UserID, noteID)
	if err != nil {
		slog.ErrorContext(ctx, "Access check failed",
			"action", action,
			"note_id", noteID,
			"user_id", s.Participant.UserID,
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	if !allowed {
		slog.WarnContext(ctx, "Access denied",
			"action", action,
			"note_id", noteID,
			"user_id", s.Participant.UserID,
		)
		return denied
	}
	return nil
}

func (c *Coordinator) broadcast(ctx context.Context, recipients []string, ev OutboundEvent) {
	for _, id := range recipients {
		c.send(ctx, id, ev)
	}
	c.metrics.RecordBroadcast(ctx, ev.EventName(), len(recipients))
}

func (c *Coordinator) send(ctx context.Context, connID string, ev OutboundEvent) {
	conn, ok := c.connections.Lookup(connID)
	if !ok {
		return
	}
	if err := conn.Send(ev); err != nil {
		slog.DebugContext(ctx, "Dropped outbound event",
			"connection_id", connID,
			"event", ev.EventName(),
			"error", err,
		)
	}
}

func (c *Coordinator) startSpan(ctx context.Context, name string, s Session, noteID string) (context.Context, trace.Span) {
	return otel.StartSpan(ctx, c.tracer, name, trace.WithAttributes(
		otel.AttrNoteID.String(noteID),
		otel.AttrUserID.String(s.Participant.UserID),
		otel.AttrConnectionID.String(s.ConnectionID),
	))
}
