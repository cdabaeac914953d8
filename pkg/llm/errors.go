package llm

import (
	"errors"
	"fmt"
)

// Sentinel errors for the completion failure taxonomy.
var (
	// ErrUnauthorized is fatal for the session: the credential is bad.
	ErrUnauthorized = errors.New("llm: unauthorized")

	// ErrRateLimited is a provider-side 429; the client backs off and
	// retries before surfacing it.
	ErrRateLimited = errors.New("llm: provider rate limited")

	// ErrTimeout is a provider timeout after the client's single retry.
	ErrTimeout = errors.New("llm: provider timeout")

	// ErrCompletionFailed covers everything else; the caller substitutes
	// a canned response.
	ErrCompletionFailed = errors.New("llm: completion failed")

	// ErrEmptyPrompt is returned for a blank prompt.
	ErrEmptyPrompt = errors.New("llm: prompt empty")
)

// APIError represents an error response from the completion API.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the error message from the API.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("llm: API error %d: %s", e.StatusCode, e.Message)
}

// IsRateLimited returns true for HTTP 429.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsUnauthorized returns true for HTTP 401 or 403.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// IsServerError returns true for HTTP 5xx.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsRetryable returns true if the request should be retried.
func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || e.IsServerError()
}
