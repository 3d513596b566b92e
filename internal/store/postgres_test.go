package store_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/stacklok/notes-collab-server/database/dbtest"
	"github.com/stacklok/notes-collab-server/internal/store"
)

func TestPostgresStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbtest.SetupTestDB(t))
	require.NoError(t, err)

	noteID := uuid.NewString()
	_, err = pool.Exec(ctx, `INSERT INTO notes (id, owner_id, title) VALUES ($1, 'alice', 'groceries')`, noteID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO note_shares (note_id, user_id, permission) VALUES
		($1, 'bob', 'write'), ($1, 'carol', 'read')`, noteID)
	require.NoError(t, err)

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	s, err := store.NewPostgres(store.WithConnectionPool(pool), store.WithTracer(tp.Tracer("test")))
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Ping(ctx))

	tests := []struct {
		name   string
		noteID string
		userID string
		want   store.NoteAccess
	}{
		{name: "owner", noteID: noteID, userID: "alice",
			want: store.NoteAccess{NoteID: noteID, OwnerID: "alice", Found: true}},
		{name: "writer", noteID: noteID, userID: "bob",
			want: store.NoteAccess{NoteID: noteID, OwnerID: "alice", Found: true, Permission: store.PermissionWrite}},
		{name: "reader", noteID: noteID, userID: "carol",
			want: store.NoteAccess{NoteID: noteID, OwnerID: "alice", Found: true, Permission: store.PermissionRead}},
		{name: "no grant", noteID: noteID, userID: "mallory",
			want: store.NoteAccess{NoteID: noteID, OwnerID: "alice", Found: true}},
		{name: "unknown uuid", noteID: "00000000-0000-0000-0000-000000000000", userID: "alice",
			want: store.NoteAccess{NoteID: "00000000-0000-0000-0000-000000000000"}},
		{name: "non uuid id", noteID: "shopping-list", userID: "alice",
			want: store.NoteAccess{NoteID: "shopping-list"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.NoteAccess(ctx, tt.noteID, tt.userID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.NotEmpty(t, exporter.GetSpans())
}

func TestPostgresStoreUnavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	// Nothing listens on port 1; pgxpool connects lazily.
	pool, err := pgxpool.New(ctx, "postgres://u:p@127.0.0.1:1/notes?sslmode=disable&connect_timeout=1")
	require.NoError(t, err)

	s, err := store.NewPostgres(store.WithConnectionPool(pool))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.NoteAccess(ctx, uuid.NewString(), "alice")
	require.ErrorIs(t, err, store.ErrUnavailable)
	require.ErrorIs(t, s.Ping(ctx), store.ErrUnavailable)
}

func TestNewPostgresRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := store.NewPostgres()
	require.ErrorContains(t, err, "pgx pool is required")

	_, err = store.NewPostgres(store.WithConnectionPool(nil))
	require.ErrorContains(t, err, "pgx pool is required")
}
