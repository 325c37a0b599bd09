package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pscheid92/marketpulse/internal/platform/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quick = retry.Policy{
	MaxAttempts:      3,
	InitialBackoff:   time.Millisecond,
	RateLimitBackoff: 3 * time.Millisecond,
}

func transient(error) retry.Action { return retry.Retry }
func permanent(error) retry.Action { return retry.Stop }

func failingTimes(n int) (*int, retry.Operation[string]) {
	calls := 0
	return &calls, func() (string, error) {
		calls++
		if calls <= n {
			return "", errors.New("connection refused")
		}
		return "subscribed", nil
	}
}

func TestDo_RecoversFromTransientErrors(t *testing.T) {
	calls, op := failingTimes(2)

	val, err := retry.Do(context.Background(), quick, transient, op)
	require.NoError(t, err)
	assert.Equal(t, "subscribed", val)
	assert.Equal(t, 3, *calls)
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	calls, op := failingTimes(10)

	_, err := retry.Do(context.Background(), quick, transient, op)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, *calls)
}

func TestDo_StopReturnsPermanentError(t *testing.T) {
	calls, op := failingTimes(10)

	_, err := retry.Do(context.Background(), quick, permanent, op)
	var permErr *retry.PermanentError
	require.ErrorAs(t, err, &permErr)
	assert.Equal(t, 1, *calls)
}

func TestDo_UnlimitedAttempts(t *testing.T) {
	p := quick
	p.MaxAttempts = 0
	calls, op := failingTimes(7)

	val, err := retry.Do(context.Background(), p, transient, op)
	require.NoError(t, err)
	assert.Equal(t, "subscribed", val)
	assert.Equal(t, 8, *calls)
}

func TestDo_BackoffDoublesUpToMax(t *testing.T) {
	var backoffs []time.Duration
	p := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     3 * time.Millisecond,
		OnRetry: func(_ int, _ error, backoff time.Duration) {
			backoffs = append(backoffs, backoff)
		},
	}
	_, op := failingTimes(10)

	_, _ = retry.Do(context.Background(), p, transient, op)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond, 3 * time.Millisecond}, backoffs)
}

func TestDo_RateLimitedUsesLongerBackoff(t *testing.T) {
	var got time.Duration
	p := quick
	p.MaxAttempts = 2
	p.OnRetry = func(_ int, _ error, backoff time.Duration) { got = backoff }
	_, op := failingTimes(10)

	_, _ = retry.Do(context.Background(), p, func(error) retry.Action { return retry.After }, op)
	assert.Equal(t, quick.RateLimitBackoff, got)
}

func TestDo_ContextCancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := retry.Policy{InitialBackoff: time.Hour}

	calls := 0
	_, err := retry.Do(ctx, p, transient, func() (string, error) {
		calls++
		cancel()
		return "", errors.New("connection reset")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoVoid(t *testing.T) {
	calls := 0
	err := retry.DoVoid(context.Background(), quick, transient, func() error {
		calls++
		if calls == 1 {
			return errors.New("busy")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
