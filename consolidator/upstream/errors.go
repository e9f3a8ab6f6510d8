package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrCircuitOpen wraps calls rejected by an open circuit breaker
var ErrCircuitOpen = errors.New("provider circuit open")

// APIError represents a non 2xx provider response
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error [%d]: %s", e.Provider, e.StatusCode, e.Body)
}

// IsNotFound returns true if the error is a 404 not found error
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsRateLimited returns true if the error is a 429 rate limit error
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsTransient returns true for responses worth retrying
func (e *APIError) IsTransient() bool {
	return e.IsRateLimited() || e.StatusCode >= 500
}

// IsNotFound reports whether err carries a 404 provider response
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsNotFound()
}

// IsClientError reports whether err is a non retryable 4xx provider response
func IsClientError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && !apiErr.IsRateLimited()
}

// IsTransient reports whether err is worth retrying: network failures, timeouts of a
// single attempt, 429/5xx responses and open circuits. Cancellation never is.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsTransient()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
