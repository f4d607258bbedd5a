package shared

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how long a single remote operation may take across all of its attempts.
type RetryPolicy struct {
	MaxAttempts     int           // Total attempts including the first (minimum 1)
	InitialInterval time.Duration // Delay before the first retry
	MaxInterval     time.Duration // Upper bound on any single delay
	Timeout         time.Duration // Per-attempt deadline; zero disables it
}

// DefaultRetryPolicy returns the policy used when configuration leaves retry settings unset.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     8 * time.Second,
		Timeout:         15 * time.Second,
	}
}

// IsTransient reports whether err is worth retrying: provider 429/5xx responses, per-attempt timeouts and network timeouts.
//
// Unauthorized, invalid-grant and validation errors are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout) {
		return true
	}

	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Retry runs op until it succeeds, fails with an error isTransient rejects, or the policy's attempts are exhausted.
//
// Delays grow exponentially with jitter. Each attempt gets its own deadline when [RetryPolicy.Timeout] is set;
// hitting it is reported as [ErrTimeout] and treated as transient. Cancelling ctx stops retrying immediately.
// A nil isTransient uses [IsTransient].
func Retry[T any](ctx context.Context, p RetryPolicy, isTransient func(error) bool, op func(ctx context.Context) (T, error)) (T, error) {
	if isTransient == nil {
		isTransient = IsTransient
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1)), ctx)

	return backoff.RetryWithData(func() (T, error) {
		callCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}

		v, err := op(callCtx)
		if err == nil {
			return v, nil
		}

		if ctx.Err() != nil {
			return v, backoff.Permanent(err)
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		if !isTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, policy)
}
