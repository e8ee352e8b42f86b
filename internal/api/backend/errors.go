package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAccessToken means the refresh exchange produced no usable token
	ErrNoAccessToken = errors.New("no access token obtained")
	// ErrNotAuthenticated means a write was attempted before Authenticate
	ErrNotAuthenticated = errors.New("client is not authenticated")
)

// APIError is a non-2xx answer from the backend
type APIError struct {
	// Op names the failed operation, e.g. "create book"
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: unexpected status code %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: unexpected status code %d", e.Op, e.StatusCode)
}

// StatusCode returns the HTTP status carried by err, if any
func StatusCode(err error) (int, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}
	return 0, false
}
