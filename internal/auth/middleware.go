// Package auth verifies bearer tokens for the collaboration server: shared
// secret tokens issued by the notes API, OIDC tokens validated against the
// issuer's key set, and a sequential fallback across several of them.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// TokenQueryParam carries the token for clients that cannot set headers on
// a websocket handshake.
const TokenQueryParam = "token"

// RFC 6750 Section 3 error codes
const (
	// errorCodeInvalidRequest indicates the request is missing a required parameter,
	// includes an unsupported parameter or parameter value, or is otherwise malformed.
	errorCodeInvalidRequest = "invalid_request"

	// errorCodeInvalidToken indicates the access token provided is expired, revoked,
	// malformed, or invalid for other reasons.
	errorCodeInvalidToken = "invalid_token"
)

var errMalformedHeader = fmt.Errorf("%w: malformed authorization header", ErrMissingCredential)

// CredentialFromRequest returns the bearer token from the Authorization
// header, or from the token query parameter when no header is present.
func CredentialFromRequest(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", errMalformedHeader
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return "", errMalformedHeader
		}
		return token, nil
	}
	if token := r.URL.Query().Get(TokenQueryParam); token != "" {
		return token, nil
	}
	return "", ErrMissingCredential
}

// Middleware authenticates requests and answers failures with RFC 6750 errors.
type Middleware struct {
	verifier    Verifier
	realm       string
	resourceURL string
}

// NewMiddleware creates the bearer token middleware.
func NewMiddleware(verifier Verifier, realm, resourceURL string) *Middleware {
	return &Middleware{verifier: verifier, realm: realm, resourceURL: resourceURL}
}

// Handler verifies the request's token and stores the Identity in its context.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := CredentialFromRequest(r)
		if err != nil {
			m.Unauthorized(w, r, err)
			return
		}

		id, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			m.Unauthorized(w, r, err)
			return
		}

		slog.DebugContext(r.Context(), "Authentication successful",
			"provider", id.Provider,
			"user_id", id.Subject,
			"path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// Unauthorized logs err and writes a 401 with a WWW-Authenticate challenge.
// Missing or malformed credentials map to invalid_request, everything else
// to invalid_token.
func (m *Middleware) Unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	slog.WarnContext(r.Context(), "Authentication failed",
		"error", err,
		"remote_addr", r.RemoteAddr,
		"path", r.URL.Path)

	if errors.Is(err, ErrMissingCredential) {
		m.writeError(w, http.StatusUnauthorized, errorCodeInvalidRequest, "missing or malformed credential")
		return
	}
	m.writeError(w, http.StatusUnauthorized, errorCodeInvalidToken, "token validation failed")
}

// sanitizeHeaderValue removes characters that could enable header injection attacks.
// This includes newlines, carriage returns, and unescaped quotes.
func sanitizeHeaderValue(s string) string {
	if !strings.ContainsAny(s, "\r\n\"") {
		return s
	}
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	// Escape quotes for use in quoted-string (RFC 7230)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// writeError writes a JSON error response with RFC 6750 compliant WWW-Authenticate header.
func (m *Middleware) writeError(w http.ResponseWriter, status int, errCode, description string) {
	w.Header().Set("Content-Type", "application/json")

	wwwAuth := fmt.Sprintf(`Bearer realm="%s", error="%s", error_description="%s"`,
		sanitizeHeaderValue(m.realm), errCode, sanitizeHeaderValue(description))
	if m.resourceURL != "" {
		wwwAuth += fmt.Sprintf(`, resource_metadata="%s%s"`,
			sanitizeHeaderValue(strings.TrimSuffix(m.resourceURL, "/")), WellKnownProtectedResourcePath)
	}
	w.Header().Set("WWW-Authenticate", wwwAuth)
	w.WriteHeader(status)

	resp := struct {
		Error string `json:"error"`
	}{
		Error: description,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}
