// Package retry runs an operation under a bounded, classifier-driven retry
// policy with capped exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

type Class int

const (
	Retryable Class = iota
	Fatal
)

func (c Class) String() string {
	if c == Fatal {
		return "fatal"
	}
	return "retryable"
}

type Policy struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // delay before the second attempt
	MaxDelay    time.Duration // cap for the exponential delay
	Jitter      time.Duration // random extra in [0, Jitter)

	// Classify decides whether an error is worth another attempt.
	// Nil retries any error.
	Classify func(error) Class

	// OnRetry is called before each backoff wait.
	OnRetry func(attempt int, wait time.Duration, err error)

	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy is three attempts starting at one second.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    4 * time.Second,
		Jitter:      250 * time.Millisecond,
	}
}

// Backoff returns the un-jittered wait after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := p.BaseDelay << (attempt - 1)
	if wait <= 0 || wait > p.MaxDelay {
		wait = p.MaxDelay
	}
	return wait
}

// Do calls fn until it succeeds, returns a Fatal error, the attempts run out
// or ctx is done. The last error from fn is returned unchanged.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}

	classify := p.Classify
	if classify == nil {
		classify = func(error) Class { return Retryable }
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = timerSleep
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if classify(err) == Fatal {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := p.Backoff(attempt)
		if p.Jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(p.Jitter)))
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}

	if lastErr == nil {
		lastErr = errors.New("retry: exhausted with no error")
	}
	return lastErr
}

func timerSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
