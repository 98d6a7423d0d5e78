// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	Attempts int           // total attempts, including the first
	Initial  time.Duration // wait before the second attempt
	Max      time.Duration // upper bound for any single wait
}

// Default returns 3 attempts with a 200ms backoff doubling up to 2s.
func Default() Policy {
	return Policy{
		Attempts: 3,
		Initial:  200 * time.Millisecond,
		Max:      2 * time.Second,
	}
}

// None returns a policy that makes exactly one attempt.
func None() Policy {
	return Policy{Attempts: 1}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the unwrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, the attempts are
// exhausted, or ctx is done. The attempt number passed to fn starts at 1.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.Initial

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(backoff):
		}
		backoff *= 2
		if p.Max > 0 && backoff > p.Max {
			backoff = p.Max
		}
	}

	return lastErr
}
