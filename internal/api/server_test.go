package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/notes-collab-server/internal/api"
	"github.com/stacklok/notes-collab-server/internal/api/v1/mocks"
	"github.com/stacklok/notes-collab-server/internal/auth"
	authmocks "github.com/stacklok/notes-collab-server/internal/auth/mocks"
	"github.com/stacklok/notes-collab-server/internal/collab"
)

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	server := api.NewServer(mocks.NewMockPresenceService(ctrl))

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var response map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response["status"])
}

func TestReadinessEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		check          func(context.Context) error
		expectedStatus int
		expectedKey    string
		expectedValue  string
	}{
		{
			name:           "no check configured",
			expectedStatus: http.StatusOK,
			expectedKey:    "status",
			expectedValue:  "ready",
		},
		{
			name:           "store reachable",
			check:          func(context.Context) error { return nil },
			expectedStatus: http.StatusOK,
			expectedKey:    "status",
			expectedValue:  "ready",
		},
		{
			name:           "store unreachable",
			check:          func(context.Context) error { return fmt.Errorf("connection refused") },
			expectedStatus: http.StatusServiceUnavailable,
			expectedKey:    "error",
			expectedValue:  "note store not ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)

			server := api.NewServer(mocks.NewMockPresenceService(ctrl), api.WithReadinessCheck(tt.check))

			rr := httptest.NewRecorder()
			server.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readiness", nil))

			assert.Equal(t, tt.expectedStatus, rr.Code)
			var response map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
			assert.Equal(t, tt.expectedValue, response[tt.expectedKey])
		})
	}
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	server := api.NewServer(mocks.NewMockPresenceService(ctrl))

	rr := httptest.NewRecorder()
	server.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var response map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	for _, key := range []string{"version", "commit", "build_date", "go_version", "platform"} {
		assert.Contains(t, response, key)
	}
}

func TestOptionalRoutes(t *testing.T) {
	t.Parallel()

	marker := func(name string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(name))
		})
	}

	tests := []struct {
		name string
		path string
		opt  api.ServerOption
	}{
		{name: "metrics", path: "/metrics", opt: api.WithMetricsHandler(marker("metrics"))},
		{name: "websocket", path: api.WebsocketPath, opt: api.WithWebsocket(marker("websocket"))},
		{name: "resource metadata", path: auth.WellKnownProtectedResourcePath, opt: api.WithProtectedResourceMetadata(marker("resource metadata"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)

			without := api.NewServer(mocks.NewMockPresenceService(ctrl))
			rr := httptest.NewRecorder()
			without.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, http.StatusNotFound, rr.Code)

			with := api.NewServer(mocks.NewMockPresenceService(ctrl), tt.opt)
			rr = httptest.NewRecorder()
			with.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tt.name, rr.Body.String())
		})
	}
}

func TestPresenceRequiresAuthentication(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	verifier := authmocks.NewMockVerifier(ctrl)
	verifier.EXPECT().Verify(gomock.Any(), "good-token").Return(auth.Identity{Subject: "alice", Provider: "hmac"}, nil)
	verifier.EXPECT().Verify(gomock.Any(), "bad-token").Return(auth.Identity{}, auth.ErrInvalidCredential)

	presence := mocks.NewMockPresenceService(ctrl)
	presence.EXPECT().Presence(gomock.Any(), "alice", "note-1").
		Return([]collab.Participant{{UserID: "bob", DisplayName: "Bob"}}, nil)

	mw := auth.NewMiddleware(verifier, "notes-collab", "")
	server := api.NewServer(presence, api.WithAuthMiddleware(mw.Handler))

	tests := []struct {
		name           string
		header         string
		expectedStatus int
	}{
		{name: "no token", expectedStatus: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer bad-token", expectedStatus: http.StatusUnauthorized},
		{name: "good token", header: "Bearer good-token", expectedStatus: http.StatusOK},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/notes/note-1/participants", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rr := httptest.NewRecorder()
		server.ServeHTTP(rr, req)
		assert.Equal(t, tt.expectedStatus, rr.Code, tt.name)
	}
}
