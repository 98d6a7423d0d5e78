package tcapi

import (
	"errors"
	"fmt"
	"net/http"
)

// TransportError wraps a failure to complete the HTTP exchange.
type TransportError struct {
	Action string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Action, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is returned for a non-2xx HTTP response.
type StatusError struct {
	Action     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: request failed with status %d: %s", e.Action, e.StatusCode, e.Body)
}

// APIError is the error object the API embeds in an otherwise successful
// HTTP response.
type APIError struct {
	Action    string
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s: %s (request id %s)", e.Action, e.Code, e.Message, e.RequestID)
}

// Retryable reports whether err is a transport failure or a 5xx response.
func Retryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= http.StatusInternalServerError
	}
	return false
}
