package httpclient

import "fmt"

// HTTPError is returned when the remote answers with a non-200 status.
type HTTPError struct {
	StatusCode int
	URL        string
	Message    string
}

// NewHTTPError creates a new HTTPError
func NewHTTPError(statusCode int, url, message string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, URL: url, Message: message}
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}
