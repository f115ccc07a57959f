package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agroflow-systems/agroflow/pkg/types"
)

// RetryTransient runs a warehouse write until it succeeds or the retry budget
// is spent, backing off exponentially between attempts. The writes routed
// through here are idempotent upserts, so repeating a half-failed attempt is
// safe. Per-record conditions and cancellation are returned immediately; only
// infrastructure-looking failures consume the budget.
func RetryTransient(ctx context.Context, policy types.RetryPolicy, log *slog.Logger, op string, fn func() error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	if log == nil {
		log = slog.Default()
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(policy.BackoffSeconds) * time.Second << (attempt - 1)
			log.Warn("retrying warehouse write",
				"op", op, "attempt", attempt+1, "backoff", backoff, "error", lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", types.ErrBatchCancelled, ctx.Err())
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, types.ErrValidationFailure) ||
			errors.Is(lastErr, types.ErrLowConfidence) ||
			errors.Is(lastErr, types.ErrFatalInfra) ||
			errors.Is(lastErr, types.ErrBatchCancelled) {
			return lastErr
		}
	}
	return lastErr
}
