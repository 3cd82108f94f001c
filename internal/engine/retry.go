package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"github.com/roach88/rover/internal/model"
)

// ErrRetriesExhausted is wrapped by RetryPolicy.Do when the last allowed
// attempt fails with a retryable error.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryPolicy runs a call with a per-attempt timeout and bounded exponential
// backoff between retryable failures.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration

	// AttemptTimeout bounds each attempt. Zero means no per-attempt deadline.
	AttemptTimeout time.Duration

	// Retryable classifies errors. Nil means IsTransient.
	Retryable func(error) bool

	// Sleep waits between attempts. Nil means a timer honoring ctx.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy returns 4 attempts backing off 1s, 2s, 4s, capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: time.Second,
		Multiplier:      2,
		MaxInterval:     30 * time.Second,
	}
}

// Backoff returns the wait after failed attempt n (1-based):
// min(InitialInterval * Multiplier^(n-1), MaxInterval).
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialInterval) * math.Pow(mult, float64(n-1))
	if p.MaxInterval > 0 && d > float64(p.MaxInterval) {
		return p.MaxInterval
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Do calls fn until it succeeds, fails with a non-retryable error, or
// MaxAttempts is reached. It returns the number of attempts made.
//
// A panic inside fn is recovered as a *PanicError and is not retried.
// An attempt that runs past AttemptTimeout while ctx is still live counts as
// a transient failure.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = p.attempt(ctx, fn)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, err
		}
		if IsPanic(err) || !retryable(err) {
			return attempt, err
		}
		if attempt >= maxAttempts {
			return attempt, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if serr := sleep(ctx, p.Backoff(attempt)); serr != nil {
			return attempt, err
		}
	}
}

func (p RetryPolicy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	actx := ctx
	if p.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		defer cancel()
	}
	return safeCall(actx, fn)
}

// safeCall runs fn, converting a panic into a *PanicError.
func safeCall(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// IsTransient reports whether err is worth retrying: rate limiting, an
// unavailable service, or an attempt deadline.
func IsTransient(err error) bool {
	return errors.Is(err, model.ErrRateLimited) ||
		errors.Is(err, model.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
