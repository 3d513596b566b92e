package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/notes-collab-server/internal/otel"
)

const noteAccessQuery = `
SELECT n.owner_id, s.permission::text
FROM notes n
LEFT JOIN note_shares s ON s.note_id = n.id AND s.user_id = $2
WHERE n.id = $1`

// options holds configuration options for the postgres store
type options struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// Option is a functional option for configuring the postgres store
type Option func(*options) error

// WithConnectionPool sets the pgx pool. The store closes it on Close.
func WithConnectionPool(pool *pgxpool.Pool) Option {
	return func(o *options) error {
		if pool == nil {
			return fmt.Errorf("pgx pool is required")
		}
		o.pool = pool
		return nil
	}
}

// WithTracer sets the OpenTelemetry tracer for store queries.
// If not set, tracing will be disabled (no-op).
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) error {
		o.tracer = tracer
		return nil
	}
}

// PostgresStore reads notes and note_shares with pgx.
type PostgresStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres creates a postgres-backed store.
func NewPostgres(opts ...Option) (*PostgresStore, error) {
	o := &options{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	return &PostgresStore{pool: o.pool, tracer: o.tracer}, nil
}

// NoteAccess implements Store.
func (s *PostgresStore) NoteAccess(ctx context.Context, noteID, userID string) (NoteAccess, error) {
	ctx, span := otel.StartSpan(ctx, s.tracer, "store.NoteAccess",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			otel.AttrNoteID.String(noteID),
			attribute.String("db.system", "postgresql"),
		))
	defer span.End()

	access := NoteAccess{NoteID: noteID}

	// notes.id is a uuid column; anything else cannot exist.
	if _, err := uuid.Parse(noteID); err != nil {
		return access, nil
	}

	var permission *string
	err := s.pool.QueryRow(ctx, noteAccessQuery, noteID, userID).Scan(&access.OwnerID, &permission)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return access, nil
	case err != nil:
		otel.RecordError(span, err)
		slog.ErrorContext(ctx, "Note access query failed", "note_id", noteID, "error", err)
		return access, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	access.Found = true
	if permission != nil {
		access.Permission = Permission(*permission)
	}
	return access, nil
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close() {
	slog.Info("Closing database connection pool")
	s.pool.Close()
}
