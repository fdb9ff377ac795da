package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rekurlabs/rekur/internal/errors"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), "test", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), "test", func() error {
		calls++
		if calls < 3 {
			return errors.Transient("flaky backend")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), "test", func() error {
		calls++
		return errors.BudgetExceeded("root scope")
	})
	assert.True(t, errors.IsCategory(err, errors.ErrBudgetExceeded))
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), "test", func() error {
		calls++
		return errors.Transient("never recovers")
	})
	assert.True(t, errors.IsCategory(err, errors.ErrTransient))
	assert.Equal(t, 3, calls)
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, fastPolicy(), "test", func() error {
		return errors.Transient("unreachable")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
