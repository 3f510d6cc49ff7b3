package util

import (
	"context"
	"errors"
	"time"
)

// Backoff returns how long to wait after the given failed attempt (0-based).
type Backoff func(attempt int, err error) time.Duration

// Exponential doubles base after every failed attempt.
func Exponential(base time.Duration) Backoff {
	return func(attempt int, _ error) time.Duration {
		return base << attempt
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Retry returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn up to maxAttempts times, sleeping backoff(attempt, err)
// between failures. It returns nil on the first successful call, or the last
// error if all attempts fail. Errors wrapped with Permanent stop the loop
// immediately. Context cancellation is respected between attempts.
func Retry(ctx context.Context, maxAttempts int, backoff Backoff, fn func() error) error {
	var err error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 && backoff != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(attempt, err)):
			}
		}
	}

	return err
}
