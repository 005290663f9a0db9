// Package httpclient provides a thin HTTP client used to talk to the
// semantic-index backend.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 30 * time.Second

	// UserAgent identifies this client to the backend
	UserAgent = "semfind-connector/1.0"

	// MaxResponseSize is the maximum allowed response size (50MB)
	MaxResponseSize = 50 * 1024 * 1024
)

// Client defines the interface for HTTP operations against the backend
type Client interface {
	// Get fetches the URL and returns the response body
	Get(ctx context.Context, url string) ([]byte, error)

	// PostJSON sends the body as JSON and returns the response body
	PostJSON(ctx context.Context, url string, body any) ([]byte, error)
}

// defaultClient implements Client using net/http
type defaultClient struct {
	httpClient *http.Client
}

// NewDefaultClient creates a new defaultClient with the given timeout.
// A zero timeout selects DefaultTimeout.
func NewDefaultClient(timeout time.Duration) Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &defaultClient{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Get fetches the URL and returns the response body
func (c *defaultClient) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	return c.do(req, url)
}

// PostJSON sends the body as JSON and returns the response body
func (c *defaultClient) PostJSON(ctx context.Context, url string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, url)
}

func (c *defaultClient) do(req *http.Request, url string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Check Content-Length header if available
	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("response size %d bytes exceeds maximum allowed size of %d bytes (%.2f MB)",
			resp.ContentLength, MaxResponseSize, float64(MaxResponseSize)/(1024*1024))
	}

	// Use LimitReader with one extra byte to detect oversized bodies
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > MaxResponseSize {
		return nil, fmt.Errorf("response size exceeds maximum allowed size of %d bytes (%.2f MB)",
			MaxResponseSize, float64(MaxResponseSize)/(1024*1024))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewHTTPError(resp.StatusCode, url, string(data))
	}

	return data, nil
}
