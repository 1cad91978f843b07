// Package romm provides an HTTP client for the RomM game-library REST API
// with automatic retry, error classification and OAuth2 token handling.
// Only the save-sync surface (saves, devices) is covered.
package romm

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, romm.ErrConflict) to check.
var (
	ErrBadRequest   = errors.New("romm: bad request")
	ErrUnauthorized = errors.New("romm: unauthorized")
	ErrForbidden    = errors.New("romm: forbidden")
	ErrNotFound     = errors.New("romm: not found")
	ErrConflict     = errors.New("romm: conflict")
	ErrTooLarge     = errors.New("romm: payload too large")
	ErrThrottled    = errors.New("romm: throttled")
	ErrServerError  = errors.New("romm: server error")
)

// ErrNotLoggedIn is returned when no saved token exists for the server.
var ErrNotLoggedIn = errors.New("romm: not logged in")

// APIError wraps a sentinel error with the HTTP status code and the response
// body for debugging.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("romm: %s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	}

	return fmt.Sprintf("romm: %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a dedicated sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		return ErrConflict
	case http.StatusRequestEntityTooLarge:
		return ErrTooLarge
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
