package retry_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/oapimcp/internal/retry"
)

var errFlaky = errors.New("flaky")

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 4,
		BaseDelay:   time.Millisecond,
		MaxDelay:    20 * time.Millisecond,
	}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	n, err := retry.Do(context.Background(), fastPolicy(), func(ctx context.Context, attempt int) (retry.Verdict, error) {
		calls++
		return retry.Verdict{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUntilMaxAttempts(t *testing.T) {
	var delays []time.Duration
	p := fastPolicy()
	p.Notify = func(err error, d time.Duration) { delays = append(delays, d) }

	n, err := retry.Do(context.Background(), p, func(ctx context.Context, attempt int) (retry.Verdict, error) {
		return retry.Verdict{Retry: true}, errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 4, n)
	require.Len(t, delays, 3)
	for i := 1; i < len(delays); i++ {
		assert.Greater(t, delays[i], delays[i-1], "delays must grow without jitter")
	}
}

func TestDo_JitteredDelaysNeverShrink(t *testing.T) {
	for _, jitter := range []float64{0.2, 0.5, 0.8, 1} {
		p := retry.Policy{
			MaxAttempts: 4,
			BaseDelay:   100 * time.Microsecond,
			MaxDelay:    10 * time.Millisecond,
			Jitter:      jitter,
		}
		for run := 0; run < 200; run++ {
			var delays []time.Duration
			p.Notify = func(err error, d time.Duration) { delays = append(delays, d) }
			_, err := retry.Do(context.Background(), p, func(ctx context.Context, attempt int) (retry.Verdict, error) {
				return retry.Verdict{Retry: true}, errFlaky
			})
			require.ErrorIs(t, err, errFlaky)
			require.Len(t, delays, 3)
			for i := 1; i < len(delays); i++ {
				require.GreaterOrEqual(t, delays[i], delays[i-1], "jitter %.1f run %d: %v", jitter, run, delays)
			}
		}
	}
}

func TestDo_StopsOnNonRetryableVerdict(t *testing.T) {
	n, err := retry.Do(context.Background(), fastPolicy(), func(ctx context.Context, attempt int) (retry.Verdict, error) {
		return retry.Verdict{Retry: false}, errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, n)
}

func TestDo_RecoversAfterTransientFailures(t *testing.T) {
	n, err := retry.Do(context.Background(), fastPolicy(), func(ctx context.Context, attempt int) (retry.Verdict, error) {
		if attempt < 3 {
			return retry.Verdict{Retry: true}, errFlaky
		}
		return retry.Verdict{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDo_AfterOverrideIsCapped(t *testing.T) {
	var delays []time.Duration
	p := fastPolicy()
	p.MaxAttempts = 2
	p.Notify = func(err error, d time.Duration) { delays = append(delays, d) }

	_, _ = retry.Do(context.Background(), p, func(ctx context.Context, attempt int) (retry.Verdict, error) {
		return retry.Verdict{Retry: true, After: time.Hour}, errFlaky
	})
	assert.Equal(t, []time.Duration{20 * time.Millisecond}, delays)
}

func TestDo_CancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := fastPolicy()
	p.BaseDelay = time.Hour
	p.MaxDelay = time.Hour

	var once sync.Once
	n, err := retry.Do(ctx, p, func(ctx context.Context, attempt int) (retry.Verdict, error) {
		once.Do(cancel)
		return retry.Verdict{Retry: true}, errFlaky
	})
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errFlaky, "the last attempt error stays inspectable")
}

func TestDo_PerAttemptTimeout(t *testing.T) {
	p := fastPolicy()
	p.MaxAttempts = 1
	p.PerAttemptTimeout = 5 * time.Millisecond

	_, err := retry.Do(context.Background(), p, func(ctx context.Context, attempt int) (retry.Verdict, error) {
		<-ctx.Done()
		return retry.Verdict{Retry: true}, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPolicy_AllowsMethod(t *testing.T) {
	p := retry.DefaultPolicy()
	assert.True(t, p.AllowsMethod("GET"))
	assert.True(t, p.AllowsMethod("DELETE"))
	assert.False(t, p.AllowsMethod("POST"))
	assert.False(t, p.AllowsMethod("PATCH"))

	p.AllowNonIdempotent = true
	assert.True(t, p.AllowsMethod("POST"))
}
