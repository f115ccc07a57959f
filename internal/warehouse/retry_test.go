package warehouse

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agroflow-systems/agroflow/pkg/types"
)

func TestRetryTransient_SucceedsWithinBudget(t *testing.T) {
	calls := 0
	err := RetryTransient(context.Background(), types.RetryPolicy{MaxAttempts: 3}, nil, "write", func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryTransient_ExhaustsBudget(t *testing.T) {
	calls := 0
	err := RetryTransient(context.Background(), types.RetryPolicy{MaxAttempts: 2}, nil, "write", func() error {
		calls++
		return errors.New("connection reset")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryTransient_DoesNotRetryTerminalErrors(t *testing.T) {
	for _, sentinel := range []error{
		types.ErrValidationFailure,
		types.ErrLowConfidence,
		types.ErrFatalInfra,
		types.ErrBatchCancelled,
	} {
		calls := 0
		err := RetryTransient(context.Background(), types.RetryPolicy{MaxAttempts: 5}, nil, "write", func() error {
			calls++
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, calls, "terminal error must not burn the budget")
	}
}

func TestRetryTransient_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := RetryTransient(ctx, types.RetryPolicy{MaxAttempts: 3, BackoffSeconds: 1}, nil, "write", func() error {
		calls++
		return errors.New("connection reset")
	})
	assert.ErrorIs(t, err, types.ErrBatchCancelled)
	assert.Equal(t, 1, calls)
}

func TestRetryTransient_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	require.NoError(t, RetryTransient(context.Background(), types.RetryPolicy{}, nil, "write", func() error {
		calls++
		return nil
	}))
	assert.Equal(t, 1, calls)
}
