package authz_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/notes-collab-server/internal/authz"
	authzmocks "github.com/stacklok/notes-collab-server/internal/authz/mocks"
	"github.com/stacklok/notes-collab-server/internal/collab"
	"github.com/stacklok/notes-collab-server/internal/store"
	storemocks "github.com/stacklok/notes-collab-server/internal/store/mocks"
)

var _ collab.AccessChecker = (*authz.Checker)(nil)

func newDefaultAuthorizer(t *testing.T) authz.Authorizer {
	t.Helper()
	a, err := authz.NewCedarAuthorizer(nil)
	require.NoError(t, err)
	return a
}

func TestChecker(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	mem.PutNote("note-1", "alice")
	require.NoError(t, mem.Share("note-1", "bob", store.PermissionRead))
	require.NoError(t, mem.Share("note-1", "carol", store.PermissionWrite))

	checker := authz.NewChecker(mem, newDefaultAuthorizer(t))

	tests := []struct {
		name      string
		userID    string
		noteID    string
		wantRead  bool
		wantWrite bool
	}{
		{name: "owner", userID: "alice", noteID: "note-1", wantRead: true, wantWrite: true},
		{name: "read share", userID: "bob", noteID: "note-1", wantRead: true, wantWrite: false},
		{name: "write share", userID: "carol", noteID: "note-1", wantRead: true, wantWrite: true},
		{name: "no grant", userID: "dave", noteID: "note-1"},
		{name: "missing note", userID: "alice", noteID: "note-2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			canRead, err := checker.CanRead(ctx, tt.userID, tt.noteID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRead, canRead)

			canWrite, err := checker.CanWrite(ctx, tt.userID, tt.noteID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantWrite, canWrite)
		})
	}
}

func TestChecker_RevocationAppliesImmediately(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	mem.PutNote("note-1", "alice")
	require.NoError(t, mem.Share("note-1", "bob", store.PermissionWrite))
	checker := authz.NewChecker(mem, newDefaultAuthorizer(t))

	ok, err := checker.CanWrite(context.Background(), "bob", "note-1")
	require.NoError(t, err)
	assert.True(t, ok)

	mem.Revoke("note-1", "bob")

	ok, err = checker.CanWrite(context.Background(), "bob", "note-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChecker_StoreFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	st := storemocks.NewMockStore(ctrl)
	authorizer := authzmocks.NewMockAuthorizer(ctrl)

	storeErr := fmt.Errorf("%w: connection refused", store.ErrUnavailable)
	st.EXPECT().NoteAccess(gomock.Any(), "note-1", "alice").Return(store.NoteAccess{}, storeErr)

	checker := authz.NewChecker(st, authorizer)
	ok, err := checker.CanRead(context.Background(), "alice", "note-1")
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, store.ErrUnavailable))
}

func TestChecker_SkipsPolicyForMissingNote(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	st := storemocks.NewMockStore(ctrl)
	authorizer := authzmocks.NewMockAuthorizer(ctrl)

	st.EXPECT().NoteAccess(gomock.Any(), "note-1", "alice").Return(store.NoteAccess{NoteID: "note-1"}, nil)

	ok, err := authz.NewChecker(st, authorizer).CanWrite(context.Background(), "alice", "note-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChecker_AuthorizerError(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	st := storemocks.NewMockStore(ctrl)
	authorizer := authzmocks.NewMockAuthorizer(ctrl)

	access := store.NoteAccess{NoteID: "note-1", OwnerID: "alice", Found: true}
	st.EXPECT().NoteAccess(gomock.Any(), "note-1", "alice").Return(access, nil)
	authorizer.EXPECT().
		Authorize(gomock.Any(), authz.Request{UserID: "alice", Action: authz.ActionWrite, Note: access}).
		Return(authz.Decision{}, errors.New("boom"))

	ok, err := authz.NewChecker(st, authorizer).CanWrite(context.Background(), "alice", "note-1")
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "authorization evaluation failed")
}

func TestChecker_Tracing(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	mem := store.NewMemory()
	mem.PutNote("note-1", "alice")
	checker := authz.NewChecker(mem, newDefaultAuthorizer(t), authz.WithTracer(tp.Tracer("test")))

	ok, err := checker.CanRead(context.Background(), "alice", "note-1")
	require.NoError(t, err)
	assert.True(t, ok)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "authz.Check", spans[0].Name)

	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "read", attrs["access.action"])
	assert.Equal(t, true, attrs["access.allowed"])
}
