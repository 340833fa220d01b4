// Package curator provides a Go client for the curator HTTP API.
package curator

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents an error from the curator API with the HTTP status code
// and the server's error envelope.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("curator: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func statusIs(err error, code int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == code
	}
	return false
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool { return statusIs(err, http.StatusNotFound) }

// IsInvalidInput returns true if the server rejected the request parameters.
func IsInvalidInput(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == "INVALID_INPUT"
}

// IsUnsupportedPolicy returns true if the curation metric cannot select
// examples (comment metrics).
func IsUnsupportedPolicy(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == "UNSUPPORTED_POLICY"
}

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool { return statusIs(err, http.StatusTooManyRequests) }

// IsUnavailable returns true if the error is a 503.
func IsUnavailable(err error) bool { return statusIs(err, http.StatusServiceUnavailable) }
