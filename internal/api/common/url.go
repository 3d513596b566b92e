// Package common provides shared HTTP utility functions for API handlers.
package common

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/notes-collab-server/internal/validators"
)

// GetAndValidateURLParam extracts, decodes, and validates a URL parameter from the request.
// Returns the decoded value or an error if invalid.
// Validation rules:
// - Must not be empty after trimming whitespace
// - Must not contain any whitespace characters
func GetAndValidateURLParam(r *http.Request, paramName string) (string, error) {
	encodedValue := chi.URLParam(r, paramName)

	decoded, err := url.PathUnescape(encodedValue)
	if err != nil {
		return "", fmt.Errorf("invalid URL encoding in %s", paramName)
	}

	if strings.TrimSpace(decoded) == "" {
		return "", fmt.Errorf("%s cannot be empty", paramName)
	}

	if strings.ContainsAny(decoded, " \t\n\r") {
		return "", fmt.Errorf("%s cannot contain whitespace", paramName)
	}

	return decoded, nil
}

// GetNoteIDParam extracts a URL parameter and validates it as a note id.
func GetNoteIDParam(r *http.Request, paramName string) (string, error) {
	raw, err := GetAndValidateURLParam(r, paramName)
	if err != nil {
		return "", err
	}
	return validators.ValidateNoteID(raw)
}
