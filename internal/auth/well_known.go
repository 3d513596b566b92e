package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// WellKnownProtectedResourcePath is the RFC 9728 metadata location.
const WellKnownProtectedResourcePath = "/.well-known/oauth-protected-resource"

// protectedResourceMetadata represents RFC 9728 OAuth 2.0 Protected Resource Metadata
type protectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
}

// NewProtectedResourceHandler serves RFC 9728 metadata listing the OIDC
// issuers that may mint tokens for this server.
func NewProtectedResourceHandler(resourceURL string, authorizationServers []string) (http.Handler, error) {
	if resourceURL == "" {
		return nil, errors.New("resourceURL is required")
	}
	if len(authorizationServers) == 0 {
		return nil, errors.New("at least one authorization server is required")
	}

	data, err := json.Marshal(protectedResourceMetadata{
		Resource:               resourceURL,
		AuthorizationServers:   authorizationServers,
		BearerMethodsSupported: []string{"header", "query"},
	})
	if err != nil {
		return nil, err
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(data); err != nil {
			slog.DebugContext(r.Context(), "Failed to write protected resource metadata", "error", err)
		}
	}), nil
}
