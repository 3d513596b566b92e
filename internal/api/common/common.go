package common

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse is the body of every JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSONResponse writes a JSON response with the given data
func WriteJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// WriteErrorResponse writes a standardized error response
func WriteErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	WriteJSONResponse(w, ErrorResponse{Error: message}, statusCode)
}
