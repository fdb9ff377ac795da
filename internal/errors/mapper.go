package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// MapError maps external errors onto the rekur error taxonomy.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	// Propagate context cancellation as-is
	if errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timeout: %w", ErrTransient)
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return fmt.Errorf("connection closed: %w", ErrPeerDisconnect)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("network timeout: %w", ErrTransient)
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "rate limit"), strings.Contains(errStr, "quota"),
		strings.Contains(errStr, "too many requests"), strings.Contains(errStr, "overloaded"):
		return fmt.Errorf("rate limited: %w", ErrTransient)

	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return fmt.Errorf("request timeout: %w", ErrTransient)

	case strings.Contains(errStr, "connection refused"), strings.Contains(errStr, "network"),
		strings.Contains(errStr, "unreachable"):
		return fmt.Errorf("network error: %w", ErrTransient)

	case strings.Contains(errStr, "budget exceeded"):
		return fmt.Errorf("budget exhausted: %w", ErrBudgetExceeded)

	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "does not exist"):
		return fmt.Errorf("resource not found: %w", ErrNotFound)

	case strings.Contains(errStr, "invalid request"), strings.Contains(errStr, "bad request"),
		strings.Contains(errStr, "invalid input"):
		return fmt.Errorf("invalid request: %w", ErrInvalidInput)

	default:
		return fmt.Errorf("internal error: %w", ErrInternal)
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// WrapWithCategory wraps an error message under a specific category.
func WrapWithCategory(err error, message string, category error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, category)
}

// IsCategory checks if error belongs to a specific category.
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}

// Category returns the taxonomy name for an error, for logging and metrics.
func Category(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "ErrInvalidInput"
	case errors.Is(err, ErrNotFound):
		return "ErrNotFound"
	case errors.Is(err, ErrBudgetExceeded):
		return "ErrBudgetExceeded"
	case errors.Is(err, ErrValidationRejected):
		return "ErrValidationRejected"
	case errors.Is(err, ErrExecutionTimeout):
		return "ErrExecutionTimeout"
	case errors.Is(err, ErrPeerDisconnect):
		return "ErrPeerDisconnect"
	case errors.Is(err, ErrTransient):
		return "ErrTransient"
	case errors.Is(err, ErrInternal):
		return "ErrInternal"
	default:
		return "Unknown"
	}
}

// NotFound wraps a message as not found.
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// InvalidInput wraps a message as invalid input.
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// BudgetExceeded wraps a message as a budget failure.
func BudgetExceeded(message string) error {
	return fmt.Errorf("%s: %w", message, ErrBudgetExceeded)
}

// ValidationRejected wraps a message as a static validation failure.
func ValidationRejected(message string) error {
	return fmt.Errorf("%s: %w", message, ErrValidationRejected)
}

// ExecutionTimeout wraps a message as a watchdog timeout.
func ExecutionTimeout(message string) error {
	return fmt.Errorf("%s: %w", message, ErrExecutionTimeout)
}

// Transient wraps a message as transient.
func Transient(message string) error {
	return fmt.Errorf("%s: %w", message, ErrTransient)
}

// Internal wraps a message as internal.
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}

// IsRetryable reports whether an error is safe to retry with backoff.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransient)
}
