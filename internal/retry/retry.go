package retry

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/rekurlabs/rekur/internal/errors"
)

// Policy controls exponential backoff between attempts.
type Policy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultPolicy matches the configured retry defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseBackoff: 250 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = 250 * time.Millisecond
	}
	if p.MaxBackoff < p.BaseBackoff {
		p.MaxBackoff = p.BaseBackoff
	}
	return p
}

// Do invokes fn until it succeeds, returns a non-retryable error, or the
// attempt budget runs out. Backoff doubles per attempt with jitter, capped
// at MaxBackoff. Retryability is decided by the error taxonomy.
func Do(ctx context.Context, p Policy, op string, fn func() error) error {
	p = p.normalized()

	var lastErr error
	backoff := p.BaseBackoff

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !errors.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		sleep := backoff + time.Duration(rand.Int63n(int64(backoff)/2+1))
		slog.Warn("Retrying after transient failure", "op", op, "attempt", attempt, "backoff", sleep, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		backoff *= 2
		if backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}

	return lastErr
}
