package httpclient

import "fmt"

// HTTPError is a non-2xx answer from the backend. It keeps the status code
// and the response body so callers can surface the backend's own explanation
// instead of a generic transport error.
type HTTPError struct {
	StatusCode int
	URL        string
	Message    string
}

// Error renders the failure with the backend's explanation, when it gave one
func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned HTTP %d for %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("backend returned HTTP %d for %s: %s", e.StatusCode, e.URL, e.Message)
}

// NewHTTPError creates an HTTPError
func NewHTTPError(statusCode int, url, message string) error {
	return &HTTPError{
		StatusCode: statusCode,
		URL:        url,
		Message:    message,
	}
}
