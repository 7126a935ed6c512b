package client

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrBackendUnavailable marks connection-level failures: nothing answered
// on the API port. Distinct from APIError, where the backend answered with
// an error response.
var ErrBackendUnavailable = errors.New("backend unavailable")

// APIError is a well-formed non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend error (status %d)", e.StatusCode)
}
