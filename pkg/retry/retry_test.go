package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"sre_assistant/internal/models"

	"github.com/stretchr/testify/require"
)

func retryablePredicate(err error) bool {
	var te *models.ToolError
	return errors.As(err, &te) && te.Retryable()
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	runner := &Runner{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		Retryable:  retryablePredicate,
	}

	attempts := 0
	err := runner.Run(context.Background(), "flaky", func(ctx context.Context) error {
		attempts++
		if attempts <= 2 {
			return &models.ToolError{Code: models.ErrCodeTimeout, Message: "slow backend"}
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRunStopsOnTerminalError(t *testing.T) {
	runner := &Runner{
		MaxRetries: 5,
		BaseDelay:  time.Millisecond,
		Retryable:  retryablePredicate,
	}

	attempts := 0
	terminal := &models.ToolError{
		Code:    models.ErrCodeHTTPStatus,
		Message: "bad request",
		Details: map[string]interface{}{"status_code": 400},
	}
	err := runner.Run(context.Background(), "terminal", func(ctx context.Context) error {
		attempts++
		return terminal
	})

	require.Error(t, err)
	require.Equal(t, 1, attempts)

	var te *models.ToolError
	require.True(t, errors.As(err, &te))
	require.Equal(t, models.ErrCodeHTTPStatus, te.Code)
}

func TestRunExhaustsRetryBudget(t *testing.T) {
	runner := &Runner{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		Retryable:  retryablePredicate,
	}

	attempts := 0
	err := runner.Run(context.Background(), "down", func(ctx context.Context) error {
		attempts++
		return &models.ToolError{Code: models.ErrCodeConnection, Message: "connection refused"}
	})

	require.Error(t, err)
	require.Equal(t, 3, attempts)
}

func TestRunTreatsEveryErrorAsTerminalWithoutPredicate(t *testing.T) {
	runner := &Runner{MaxRetries: 5, BaseDelay: time.Millisecond}

	attempts := 0
	err := runner.Run(context.Background(), "no-predicate", func(ctx context.Context) error {
		attempts++
		return errors.New("boom")
	})

	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestRunAppliesPerAttemptTimeout(t *testing.T) {
	runner := &Runner{
		MaxRetries: 0,
		BaseDelay:  time.Millisecond,
		Timeout:    10 * time.Millisecond,
	}

	err := runner.Run(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}
