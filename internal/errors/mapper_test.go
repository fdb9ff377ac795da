package errors

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category error
	}{
		{"rate limit", fmt.Errorf("429: rate limit reached"), ErrTransient},
		{"timeout", fmt.Errorf("request timeout while waiting"), ErrTransient},
		{"connection refused", fmt.Errorf("dial tcp: connection refused"), ErrTransient},
		{"eof", io.EOF, ErrPeerDisconnect},
		{"unexpected eof", io.ErrUnexpectedEOF, ErrPeerDisconnect},
		{"not found", fmt.Errorf("model does not exist"), ErrNotFound},
		{"bad request", fmt.Errorf("provider: bad request"), ErrInvalidInput},
		{"unknown", fmt.Errorf("something odd"), ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := MapError(tt.err)
			assert.True(t, IsCategory(mapped, tt.category), "expected %v for %v, got %v", tt.category, tt.err, mapped)
		})
	}
}

func TestMapErrorNil(t *testing.T) {
	assert.NoError(t, MapError(nil))
}

func TestMapErrorContextCanceled(t *testing.T) {
	err := MapError(context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsRetryable(err))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Transient("backend flapping")))
	assert.False(t, IsRetryable(BudgetExceeded("root scope")))
	assert.False(t, IsRetryable(ValidationRejected("import os")))
	assert.False(t, IsRetryable(nil))
}

func TestCategoryNames(t *testing.T) {
	assert.Equal(t, "ErrBudgetExceeded", Category(BudgetExceeded("sub scope")))
	assert.Equal(t, "ErrExecutionTimeout", Category(ExecutionTimeout("50ms limit")))
	assert.Equal(t, "Unknown", Category(fmt.Errorf("bare")))
	assert.Equal(t, "", Category(nil))
}
