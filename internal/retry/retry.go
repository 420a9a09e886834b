package retry

import (
	"context"
	"errors"
	"time"
)

// Result is what a retried call ended with.
type Result struct {
	Attempts int
	// Err is nil on success, otherwise the last attempt's error (or the
	// context error if the caller gave up first).
	Err error
	// Duration covers every attempt and the backoff sleeps between them.
	Duration time.Duration
}

func (r Result) OK() bool { return r.Err == nil }

// Do runs op until it succeeds, returns a Permanent error, or the policy's
// attempts run out. Each attempt gets its own Policy.Timeout deadline.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error) (res Result) {
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	policy = policy.normalized()
	for res.Attempts < policy.MaxAttempts {
		if err := ctx.Err(); err != nil {
			if res.Err == nil {
				res.Err = err
			}
			return res
		}
		res.Attempts++
		res.Err = runAttempt(ctx, policy.Timeout, op)
		if res.Err == nil || IsPermanent(res.Err) || res.Attempts == policy.MaxAttempts {
			return res
		}
		if sleep(ctx, policy.Backoff(res.Attempts)) != nil {
			return res
		}
	}
	return res
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, Result) {
	var out T
	res := Do(ctx, policy, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, res
}

func runAttempt(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The original error stays
// reachable through errors.Is and errors.As.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// IsTimeout reports whether err came from an attempt deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
