package util

import (
	"context"
	"errors"
	"time"
)

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so Retry returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn up to max+1 times with exponential backoff. Only idempotent
// reads should be retried.
func Retry(ctx context.Context, max int, backoff time.Duration, fn func() error) error {
	var err error
	for attempt := 0; attempt <= max; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fn()
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == max {
			break
		}
		wait := backoffFor(backoff, attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}

// MaxBackoff caps the wait between two attempts.
const MaxBackoff = 30 * time.Second

func backoffFor(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	wait := base
	for i := 0; i < attempt && wait < MaxBackoff; i++ {
		wait *= 2
	}
	if wait > MaxBackoff {
		return MaxBackoff
	}
	return wait
}
