package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error types for consistent error handling across the BFA.

// ConfigError indicates required configuration is missing.
// It is raised before any network call and is never retried.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("config error [%s]: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s is required", e.Field)
}

// AuthError indicates the OAuth2 token endpoint rejected the acquisition.
type AuthError struct {
	Status int
	Body   string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token acquisition failed: %v", e.Err)
	}
	return fmt.Sprintf("token acquisition failed: status %d: %s", e.Status, e.Body)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// APIError is a non-2xx answer from a marketplace endpoint after the
// retry policy is exhausted. Callers branch on Status.
type APIError struct {
	Status     int
	StatusText string
	Body       string
}

func (e *APIError) Error() string {
	text := e.StatusText
	if text == "" {
		text = http.StatusText(e.Status)
	}
	return fmt.Sprintf("market API returned %d %s: %s", e.Status, text, e.Body)
}

// NetworkError indicates a transport-level failure (DNS, timeout, reset).
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error on %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline or client timeout.
func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(e.Err, &te) && te.Timeout()
}

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates an operation timed out.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates invalid credentials or signature.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrRateLimited indicates the caller exhausted its request budget.
type ErrRateLimited struct {
	Key string
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s", e.Key)
}

// ErrInFlight indicates another request is already processing the same
// idempotency key.
type ErrInFlight struct {
	Key string
}

func (e *ErrInFlight) Error() string {
	return fmt.Sprintf("%s is still being processed", e.Key)
}
