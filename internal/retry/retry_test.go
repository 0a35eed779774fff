package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func noSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	var waits []time.Duration
	calls := 0
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 4 * time.Second, Sleep: noSleep(&waits)}

	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
}

func TestDo_FatalStopsImmediately(t *testing.T) {
	var waits []time.Duration
	calls := 0
	p := Policy{
		MaxAttempts: 5,
		Classify:    func(error) Class { return Fatal },
		Sleep:       noSleep(&waits),
	}

	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return errFlaky
	})

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits)
}

func TestDo_ExhaustedReturnsLastError(t *testing.T) {
	var waits []time.Duration
	retried := 0
	p := Policy{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		Sleep:       noSleep(&waits),
		OnRetry:     func(int, time.Duration, error) { retried++ },
	}

	err := Do(context.Background(), p, func(context.Context) error { return errFlaky })

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 2, retried)
	assert.Len(t, waits, 2)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, DefaultPolicy(), func(context.Context) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestBackoff_Capped(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 4 * time.Second}
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 4*time.Second, p.Backoff(10))
}

func TestDo_JitterBounded(t *testing.T) {
	var waits []time.Duration
	p := Policy{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: time.Second, Jitter: 50 * time.Millisecond, Sleep: noSleep(&waits)}

	_ = Do(context.Background(), p, func(context.Context) error { return errFlaky })

	require.Len(t, waits, 1)
	assert.GreaterOrEqual(t, waits[0], time.Second)
	assert.Less(t, waits[0], time.Second+50*time.Millisecond)
}
