package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRetryWithBackoff_SucceedsFirstAttempt verifies that a successful
// op runs exactly once.
func TestRetryWithBackoff_SucceedsFirstAttempt(t *testing.T) {
	calls := 0

	err := RetryWithBackoff(context.Background(), 3, time.Millisecond, func(attempt int) (bool, error) {
		calls++
		return false, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

// TestRetryWithBackoff_RetriesThenSucceeds verifies that transient
// failures are retried until the op succeeds.
func TestRetryWithBackoff_RetriesThenSucceeds(t *testing.T) {
	calls := 0

	err := RetryWithBackoff(context.Background(), 5, time.Millisecond, func(attempt int) (bool, error) {
		calls++
		if attempt < 2 {
			return true, errors.New("transient")
		}
		return false, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

// TestRetryWithBackoff_ExhaustsRetries verifies that the last error is
// returned when every attempt fails.
func TestRetryWithBackoff_ExhaustsRetries(t *testing.T) {
	calls := 0

	err := RetryWithBackoff(context.Background(), 3, time.Millisecond, func(attempt int) (bool, error) {
		calls++
		return true, errors.New("always transient")
	})

	require.EqualError(t, err, "always transient")
	assert.Equal(t, 3, calls)
}

// TestRetryWithBackoff_PermanentErrorStopsImmediately verifies that a
// non-retryable error short-circuits the remaining attempts.
func TestRetryWithBackoff_PermanentErrorStopsImmediately(t *testing.T) {
	calls := 0
	permanent := errors.New("permanent")

	err := RetryWithBackoff(context.Background(), 5, time.Millisecond, func(attempt int) (bool, error) {
		calls++
		return false, permanent
	})

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

// TestRetryWithBackoff_ContextCanceledBetweenRetries verifies that
// cancellation is honored before the next attempt starts.
func TestRetryWithBackoff_ContextCanceledBetweenRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := RetryWithBackoff(ctx, 5, time.Millisecond, func(attempt int) (bool, error) {
		calls++
		cancel()
		return true, errors.New("transient")
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

// TestRetryWithBackoff_AtLeastOneAttempt verifies that maxAttempts
// below 1 still runs the op once.
func TestRetryWithBackoff_AtLeastOneAttempt(t *testing.T) {
	calls := 0

	err := RetryWithBackoff(context.Background(), 0, time.Millisecond, func(attempt int) (bool, error) {
		calls++
		return false, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

// TestRetryWithBackoff_BackoffGrows verifies the exponential spacing
// between attempts. The bound is deliberately loose to stay stable on
// slow CI machines.
func TestRetryWithBackoff_BackoffGrows(t *testing.T) {
	start := time.Now()

	_ = RetryWithBackoff(context.Background(), 3, 20*time.Millisecond, func(attempt int) (bool, error) {
		return true, errors.New("retry")
	})

	// Expected sleeps: 20ms before attempt 1, 40ms before attempt 2.
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

// TestIsTransient covers the retryability heuristic over publish tool
// output.
func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "registry 503",
			err:  errors.New("cargo publish failed: the remote server responded with an error (status 503 Service Unavailable)"),
			want: true,
		},
		{
			name: "rate limited",
			err:  errors.New("error: failed to publish: status 429 Too Many Requests"),
			want: true,
		},
		{
			name: "connection reset",
			err:  errors.New("error: connection reset by peer"),
			want: true,
		},
		{
			name: "spurious network error",
			err:  errors.New("warning: spurious network error (2 tries remaining)"),
			want: true,
		},
		{
			name: "bad credentials",
			err:  errors.New("error: failed to publish: token rejected (status 401 Unauthorized)"),
			want: false,
		},
		{
			name: "malformed package",
			err:  errors.New("error: failed to verify package tarball"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
