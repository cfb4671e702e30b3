package retry

import (
	"context"
	"fmt"
	"time"

	"sre_assistant/pkg/logger"

	"github.com/cenkalti/backoff/v4"
)

// Runner wraps a single tool invocation with bounded retries, exponential
// backoff, and a hard per-attempt timeout. It is a reusable combinator:
// the retry decision is delegated to the Retryable predicate, so every
// adapter shares one implementation of the backoff math.
type Runner struct {
	// MaxRetries is the number of retries after the first attempt.
	// A value of 2 means at most 3 invocations.
	MaxRetries uint64
	// BaseDelay is the backoff before the first retry; it doubles on
	// each subsequent retry.
	BaseDelay time.Duration
	// Timeout bounds each individual attempt. Zero means no per-attempt
	// timeout beyond the caller's context.
	Timeout time.Duration
	// Retryable classifies an error as worth retrying. When nil every
	// error is treated as terminal.
	Retryable func(error) bool
	// Logger receives one line per retry. Optional.
	Logger *logger.Logger
}

// Run invokes op until it succeeds, the retry budget is exhausted, or the
// error is classified terminal. The last error is returned unwrapped so the
// caller can convert it into a tool failure.
func (r *Runner) Run(ctx context.Context, name string, op func(context.Context) error) error {
	operation := func() error {
		attemptCtx := ctx
		if r.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, r.Timeout)
			defer cancel()
		}

		err := op(attemptCtx)
		if err == nil {
			return nil
		}
		if r.Retryable == nil || !r.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.BaseDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0

	attempt := 0
	notify := func(err error, delay time.Duration) {
		attempt++
		if r.Logger != nil {
			r.Logger.WithPayload(map[string]interface{}{
				"task":    name,
				"attempt": attempt,
				"delay":   delay.String(),
				"reason":  err.Error(),
			}).Warn(fmt.Sprintf("Retrying %s after failure", name))
		}
	}

	return backoff.RetryNotify(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, r.MaxRetries), ctx),
		notify,
	)
}
