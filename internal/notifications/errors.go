package notifications

import (
	"errors"
	"fmt"
)

// Repository errors.
var (
	ErrEntryNotFound  = errors.New("queue entry not found")
	ErrPolicyNotFound = errors.New("notification policy not found")
)

// Operation errors.
var (
	ErrEntryTerminal  = errors.New("queue entry is in a terminal state")
	ErrNoShift        = errors.New("queue entry has no associated shift")
	ErrMissingEmail   = errors.New("assignee has no email address")
	ErrRunInProgress  = errors.New("a delivery run is already in progress")
	ErrEmptySelection = errors.New("no items selected")
)

// TemplateError reports a permanently broken template: either a referenced
// placeholder that the renderer cannot resolve, or unbalanced braces.
// Template errors are attributed to policy misconfiguration and are never
// retried.
type TemplateError struct {
	Placeholder string // empty when the template itself is malformed
	Reason      string
}

func (e *TemplateError) Error() string {
	if e.Placeholder != "" {
		return fmt.Sprintf("template error: unknown placeholder {%s}", e.Placeholder)
	}
	return fmt.Sprintf("template error: %s", e.Reason)
}

// RetryableError wraps an error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewPermanentError creates a non-retryable error.
func NewPermanentError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}

// isRetryable checks if an error is retryable. Template errors are always
// permanent; unknown errors default to retryable so transient transport
// hiccups consume the retry budget instead of failing outright.
func isRetryable(err error) bool {
	var tmplErr *TemplateError
	if errors.As(err, &tmplErr) {
		return false
	}

	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	return true
}
