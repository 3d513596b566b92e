package httpclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/notes-collab-server/internal/httpclient"
	"github.com/stacklok/notes-collab-server/internal/httpclient/mocks"
)

// newTestServer disables keep-alives so closing one server does not disturb
// parallel tests sharing the default transport.
func newTestServer(handler http.Handler) *httptest.Server {
	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	return server
}

func TestDefaultClientGet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantBody   string
		wantStatus int
		wantErr    string
	}{
		{
			name: "returns body and sends headers",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("User-Agent") != httpclient.UserAgent || r.Header.Get("Accept") != "application/json" {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				_, _ = w.Write([]byte(`{"issuer":"https://id.example.com"}`))
			},
			wantBody: `{"issuer":"https://id.example.com"}`,
		},
		{
			name: "non 200 becomes HTTPError",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "oversized body rejected",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(strings.Repeat("a", httpclient.MaxResponseSize+10)))
			},
			wantErr: "exceeds maximum allowed size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := newTestServer(tt.handler)
			defer server.Close()

			body, err := httpclient.NewDefaultClient(0).Get(context.Background(), server.URL)
			switch {
			case tt.wantStatus != 0:
				var httpErr *httpclient.HTTPError
				require.ErrorAs(t, err, &httpErr)
				assert.Equal(t, tt.wantStatus, httpErr.StatusCode)
				assert.Equal(t, server.URL, httpErr.URL)
			case tt.wantErr != "":
				require.ErrorContains(t, err, tt.wantErr)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantBody, string(body))
			}
		})
	}
}

func TestDefaultClientGetCancelled(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := httpclient.NewDefaultClient(0).Get(ctx, server.URL)
	require.ErrorIs(t, err, context.Canceled)
}

func TestGetJSON(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)

	client.EXPECT().Get(gomock.Any(), "https://ok").Return([]byte(`{"jwks_uri":"https://ok/keys"}`), nil)
	client.EXPECT().Get(gomock.Any(), "https://garbage").Return([]byte(`not json`), nil)
	client.EXPECT().Get(gomock.Any(), "https://down").Return(nil, errors.New("dial tcp: refused"))

	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	require.NoError(t, httpclient.GetJSON(context.Background(), client, "https://ok", &doc))
	assert.Equal(t, "https://ok/keys", doc.JWKSURI)

	err := httpclient.GetJSON(context.Background(), client, "https://garbage", &doc)
	require.ErrorContains(t, err, "failed to decode response from https://garbage")

	err = httpclient.GetJSON(context.Background(), client, "https://down", &doc)
	require.ErrorContains(t, err, "refused")
}

func TestHTTPError(t *testing.T) {
	t.Parallel()

	err := httpclient.NewHTTPError(503, "http://api.example.com/v1", "Service Unavailable")
	assert.Equal(t, "HTTP 503 for URL http://api.example.com/v1: Service Unavailable", err.Error())
	assert.Equal(t, "HTTP 404 for URL http://example.com: ", httpclient.NewHTTPError(404, "http://example.com", "").Error())
}
