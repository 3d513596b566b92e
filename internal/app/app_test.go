package app

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/stacklok/notes-collab-server/internal/api/v1"
	"github.com/stacklok/notes-collab-server/internal/collab"
)

func signToken(t *testing.T, subject, name string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"name": name,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

// startTestApp builds and starts the app, returning its base address.
func startTestApp(t *testing.T) (*NotesCollabApp, string, <-chan error) {
	t.Helper()

	app, err := NewNotesCollabApp(context.Background(), WithConfig(createValidTestConfig(t)))
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- app.Start() }()

	select {
	case <-app.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start listening")
	}
	require.NotNil(t, app.Addr())
	return app, app.Addr().String(), errCh
}

func waitStart(t *testing.T, errCh <-chan error) {
	t.Helper()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
}

func TestNotesCollabApp_HealthAndStop(t *testing.T) {
	t.Parallel()

	app, addr, errCh := startTestApp(t)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + addr + "/readiness")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, app.Stop(5*time.Second))
	waitStart(t, errCh)

	// Stop is idempotent
	require.NoError(t, app.Stop(time.Second))
}

func TestNotesCollabApp_EndToEnd(t *testing.T) {
	t.Parallel()

	app, addr, errCh := startTestApp(t)
	aliceToken := signToken(t, "alice", "Alice")

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws?token="+aliceToken, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	frame, err := json.Marshal(map[string]any{
		"event": collab.EventJoinNote,
		"data":  map[string]string{"noteId": "note-1"},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env collab.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, collab.EventActiveUsers, env.Event)

	// Presence over REST with the same verifier
	req, err := http.NewRequest(http.MethodGet, "http://"+addr+"/api/v1/notes/note-1/participants", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "bob", "Bob"))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var participants v1.ParticipantsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&participants))
	require.Len(t, participants.Participants, 1)
	assert.Equal(t, "alice", participants.Participants[0].UserID)

	// Anonymous REST calls are challenged
	resp2, err := http.Get("http://" + addr + "/api/v1/notes/note-1/participants")
	require.NoError(t, err)
	_ = resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
	assert.Contains(t, resp2.Header.Get("WWW-Authenticate"), "Bearer")

	// Shutdown closes the live socket with going-away
	require.NoError(t, app.Stop(5*time.Second))
	waitStart(t, errCh)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestNotesCollabApp_StartError_InvalidAddress(t *testing.T) {
	t.Parallel()

	cfg := createValidTestConfig(t)
	cfg.Server.Address = "256.256.256.256:0"

	app, err := NewNotesCollabApp(context.Background(), WithConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Stop(time.Second) })

	err = app.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}
