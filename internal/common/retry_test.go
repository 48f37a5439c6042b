package common

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryOptions {
	return RetryOptions{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestWithRetry(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name      string
		failures  int
		err       error
		attempts  int
		wantCalls int
		wantErr   error
	}{
		{name: "succeeds first try", failures: 0, err: errBoom, attempts: 3, wantCalls: 1},
		{name: "succeeds after transient failures", failures: 2, err: errBoom, attempts: 3, wantCalls: 3},
		{name: "exhausts attempts", failures: 5, err: errBoom, attempts: 3, wantCalls: 3, wantErr: ErrMaxRetries},
		{name: "permanent error stops immediately", failures: 5, err: Permanent(errBoom), attempts: 3, wantCalls: 1, wantErr: errBoom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := WithRetry(context.Background(), func() error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			}, fastRetry(tt.attempts))

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestWithRetry_WrapsLastError(t *testing.T) {
	err := WithRetry(context.Background(), func() error {
		return ErrStoreUnavailable
	}, fastRetry(2))

	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestWithRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, func() error {
		return errors.New("transient")
	}, RetryOptions{MaxAttempts: 3, InitialDelay: time.Second})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(&RetryableError{Err: errors.New("x"), Retryable: true}))
	assert.False(t, IsRetryable(Permanent(errors.New("x"))))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(Permanent(errors.New("x"))))
	assert.True(t, IsPermanent(fmt.Errorf("wrapped: %w", Permanent(errors.New("x")))))
	assert.False(t, IsPermanent(errors.New("plain")))
	assert.False(t, IsPermanent(nil))
}

func TestWithRetry_RateLimitUsesMaxDelay(t *testing.T) {
	b := &backoff{opts: fastRetry(3).withDefaults(), next: time.Millisecond}
	assert.Equal(t, 5*time.Millisecond, b.wait(fmt.Errorf("%w: slow down", ErrRateLimit)))
	assert.Equal(t, 5*time.Millisecond, b.wait(errors.New("other")))
}

func TestBackoff_Grows(t *testing.T) {
	b := &backoff{opts: RetryOptions{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 3 * time.Millisecond, Multiplier: 2}, next: time.Millisecond}
	err := errors.New("x")
	assert.Equal(t, time.Millisecond, b.wait(err))
	assert.Equal(t, 2*time.Millisecond, b.wait(err))
	assert.Equal(t, 3*time.Millisecond, b.wait(err))
}

func TestUserError(t *testing.T) {
	err := NewUserError("could not start the run", ErrRunInProgress)
	assert.Equal(t, "could not start the run: run in progress", err.Error())
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, "plain", NewUserError("plain", nil).Error())
}
