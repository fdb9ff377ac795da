package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrInvalidInput - malformed request (bad/missing wire fields, invalid config)
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - no backend client registered for the requested model
	ErrNotFound = errors.New("not found")

	// ErrBudgetExceeded - a root or sub token ceiling was crossed
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrValidationRejected - static sandbox validation refused the snippet before execution
	ErrValidationRejected = errors.New("validation rejected")

	// ErrExecutionTimeout - the execution watchdog fired and the worker was abandoned
	ErrExecutionTimeout = errors.New("execution timeout")

	// ErrPeerDisconnect - peer closed the connection mid-request; expected under concurrent teardown
	ErrPeerDisconnect = errors.New("peer disconnect")

	// ErrTransient - transient backend/network failure, safe to retry with backoff
	ErrTransient = errors.New("transient error")

	// ErrInternal - everything else
	ErrInternal = errors.New("internal error")
)
