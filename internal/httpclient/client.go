// Package httpclient provides the outbound HTTP client used for OIDC discovery.
package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 10 * time.Second

	// MaxResponseSize caps discovery and key set documents at 1MB
	MaxResponseSize = 1024 * 1024

	// UserAgent is the user agent string for HTTP requests
	UserAgent = "notes-collab-api/1.0"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client

// Client is an interface for HTTP operations
type Client interface {
	// Get performs an HTTP GET request and returns the response body
	Get(ctx context.Context, url string) ([]byte, error)
}

// DefaultClient is the default HTTP client implementation
type DefaultClient struct {
	client *http.Client
}

// NewDefaultClient creates a new default HTTP client with the specified timeout.
// If timeout is 0, uses DefaultTimeout.
func NewDefaultClient(timeout time.Duration) *DefaultClient {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &DefaultClient{
		client: &http.Client{Timeout: timeout},
	}
}

// Get performs an HTTP GET request
func (c *DefaultClient) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, NewHTTPError(resp.StatusCode, url, resp.Status)
	}

	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("response size %d bytes exceeds maximum allowed size of %d bytes",
			resp.ContentLength, MaxResponseSize)
	}

	// +1 to detect a body that exceeds the limit without a Content-Length
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response size exceeds maximum allowed size of %d bytes", MaxResponseSize)
	}

	return body, nil
}

// GetJSON fetches url with c and decodes the body into dst.
func GetJSON(ctx context.Context, c Client, url string, dst any) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return nil
}
