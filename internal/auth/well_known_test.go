package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/notes-collab-server/internal/auth"
)

func TestNewProtectedResourceHandler(t *testing.T) {
	t.Parallel()

	t.Run("serves metadata", func(t *testing.T) {
		t.Parallel()

		h, err := auth.NewProtectedResourceHandler("https://collab.example.com",
			[]string{"https://id1.example.com", "https://id2.example.com"})
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, auth.WellKnownProtectedResourcePath, nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var got map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "https://collab.example.com", got["resource"])
		assert.Equal(t, []any{"https://id1.example.com", "https://id2.example.com"}, got["authorization_servers"])
		assert.Equal(t, []any{"header", "query"}, got["bearer_methods_supported"])
	})

	t.Run("requires resource", func(t *testing.T) {
		t.Parallel()

		_, err := auth.NewProtectedResourceHandler("", []string{"https://id.example.com"})
		require.ErrorContains(t, err, "resourceURL is required")
	})

	t.Run("requires authorization server", func(t *testing.T) {
		t.Parallel()

		_, err := auth.NewProtectedResourceHandler("https://collab.example.com", nil)
		require.ErrorContains(t, err, "at least one authorization server is required")
	})
}
