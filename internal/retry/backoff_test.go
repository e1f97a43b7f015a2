package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy(maxRetries int) *Policy {
	return &Policy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

func TestBackoffRetryer_Success(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), "delete", func(ctx context.Context) error {
		callCount++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount, "应该只调用一次")
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), "delete", func(ctx context.Context) error {
		callCount++
		if callCount < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount, "应该调用三次")
}

func TestBackoffRetryer_MaxRetriesExceeded(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(2), zap.NewNop())

	callCount := 0
	testErr := errors.New("persistent error")
	err := retryer.Do(context.Background(), "delete", func(ctx context.Context) error {
		callCount++
		return testErr
	})

	require.Error(t, err)
	assert.Equal(t, 3, callCount, "初次 + 2 次重试")
	assert.ErrorIs(t, err, testErr)

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, "delete", exhausted.Op)
}

func TestBackoffRetryer_PermanentStopsImmediately(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(5), zap.NewNop())

	notFound := errors.New("not found")
	callCount := 0
	err := retryer.Do(context.Background(), "get", func(ctx context.Context) error {
		callCount++
		return Permanent(notFound)
	})

	assert.Equal(t, 1, callCount)
	assert.Same(t, notFound, err)
}

func TestBackoffRetryer_RetryableErrorsFilter(t *testing.T) {
	transient := errors.New("throttled")
	policy := fastPolicy(3)
	policy.RetryableErrors = []error{transient}
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	other := errors.New("bad request")
	callCount := 0
	err := retryer.Do(context.Background(), "write", func(ctx context.Context) error {
		callCount++
		return other
	})
	assert.Equal(t, 1, callCount)
	assert.ErrorIs(t, err, other)
}

func TestBackoffRetryer_ContextCancelled(t *testing.T) {
	policy := fastPolicy(5)
	policy.InitialDelay = time.Second
	policy.MaxDelay = time.Second
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	callCount := 0
	err := retryer.Do(ctx, "delete", func(ctx context.Context) error {
		callCount++
		cancel()
		return errors.New("boom")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_OnRetryCallback(t *testing.T) {
	var attempts []int
	policy := fastPolicy(2)
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	_ = retryer.Do(context.Background(), "delete", func(ctx context.Context) error {
		return errors.New("fail")
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestCalculateDelay_Capped(t *testing.T) {
	r := NewBackoffRetryer(&Policy{
		MaxRetries:   10,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		Multiplier:   2.0,
	}, nil).(*backoffRetryer)

	assert.Equal(t, 10*time.Millisecond, r.calculateDelay(1))
	assert.Equal(t, 20*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, 40*time.Millisecond, r.calculateDelay(3))
	assert.Equal(t, 40*time.Millisecond, r.calculateDelay(6))
}

func TestDoWithResult(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(2), zap.NewNop())

	calls := 0
	got, err := DoWithResult(context.Background(), retryer, "batch-get", func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("blip")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 2, calls)
}
