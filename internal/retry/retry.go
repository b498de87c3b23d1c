package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/amishk599/jobflow/internal/model"
)

// Policy bounds how a fallible operation is retried.
type Policy struct {
	MaxAttempts int           // total attempts including the first; values < 1 mean 1
	BaseDelay   time.Duration // delay before the second attempt, doubled on each subsequent one
	MaxDelay    time.Duration // cap on a single backoff delay, zero means uncapped
	Timeout     time.Duration // per-attempt bound, zero means no bound
}

// Attempts returns the effective attempt budget.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay computes the backoff before attempt+1 with ±30% jitter.
// If the error includes a Retry-After duration (HTTP 429), that takes precedence.
func (p Policy) Delay(attempt int, err error) time.Duration {
	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}

	// Exponential: BaseDelay * 2^(attempt-1)
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}

	jitter := float64(delay) * 0.3
	delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// ErrAttemptTimeout is reported when a single attempt exceeds Policy.Timeout.
var ErrAttemptTimeout = errors.New("attempt timed out")

// IsRetryable returns true if the error represents a transient failure worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// A deadline raised by a collaborator's own bound is transient. Deadlines of
	// the caller's ctx never get here: Do checks ctx.Err() first.
	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, model.ErrPermanent) {
		return false
	}

	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == 429 {
			return true
		}
		if httpErr.StatusCode >= 500 {
			return true
		}
		// 4xx (not 429) are not retryable.
		return false
	}

	// Network errors, attempt timeouts, malformed provider output are retryable.
	return true
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry cancelled: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

// Op is one attempt of a retried operation. attempt starts at 1.
type Op func(ctx context.Context, attempt int) error

// Do runs op until it succeeds, returns a non-retryable error, or the policy's
// attempt budget is spent. Each attempt runs under the policy timeout. It returns
// the number of attempts made and the last error.
func Do(ctx context.Context, p Policy, logger *slog.Logger, op Op) (int, error) {
	max := p.Attempts()
	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		err := runAttempt(ctx, p.Timeout, attempt, op)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return attempt, fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		}
		if !IsRetryable(err) || attempt == max {
			return attempt, err
		}

		delay := p.Delay(attempt, err)
		logger.Warn("retrying after transient error",
			"attempt", attempt,
			"max_attempts", max,
			"delay", delay,
			"error", err,
		)
		if err := Sleep(ctx, delay); err != nil {
			return attempt, err
		}
	}
	return max, lastErr
}

func runAttempt(ctx context.Context, timeout time.Duration, attempt int, op Op) error {
	if timeout <= 0 {
		return op(ctx, attempt)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := op(attemptCtx, attempt)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", ErrAttemptTimeout, timeout, err)
	}
	return err
}
