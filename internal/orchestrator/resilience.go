package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aristath/autopilot/internal/executor"
	"github.com/aristath/autopilot/internal/scheduler"
)

// RetryConfig configures task retries.
type RetryConfig struct {
	Enabled    bool          // false runs every task exactly once
	MaxRetries int           // per-task budget handed to the default builder
	BaseDelay  time.Duration // retry n waits n × BaseDelay (default 1s)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:    true,
		MaxRetries: scheduler.DefaultMaxRetries,
		BaseDelay:  time.Second,
	}
}

// linearBackOff waits attempt × base before each retry. start offsets the
// attempt counter for tasks that already consumed retries before a pause.
type linearBackOff struct {
	base    time.Duration
	start   int
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.base
}

func (b *linearBackOff) Reset() {
	b.attempt = b.start
}

// retryHook is told about each failed attempt that will be retried.
type retryHook func(err error, wait time.Duration)

// executeWithRetry runs task through exec until it succeeds, fails
// permanently or exhausts its remaining retries. Permanent executor errors
// and cancellation end the loop at once.
func executeWithRetry(ctx context.Context, exec executor.Executor, task func() scheduler.AgentTask, retries int, cfg RetryConfig, onRetry retryHook) (executor.Result, error) {
	var result executor.Result

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		res, err := exec.Execute(ctx, task())
		if err != nil {
			if ctx.Err() != nil || executor.IsPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = res
		return nil
	}

	if !cfg.Enabled || retries < 0 {
		retries = 0
	}
	base := cfg.BaseDelay
	if base <= 0 {
		base = DefaultRetryConfig().BaseDelay
	}
	t := task()
	policy := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{base: base, start: t.RetryCount}, uint64(retries)),
		ctx,
	)

	err := backoff.RetryNotify(operation, policy, backoff.Notify(onRetry))
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		return nil, err
	}
	return result, nil
}
