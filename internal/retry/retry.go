// Package retry provides the bounded retry combinator used by the local store
// and the offline write queue.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Backoff returns the delay before attempt n+1, given that attempt n
	// (1-based) just failed.
	Backoff func(attempt int) time.Duration
	// Retryable decides whether an error is worth another attempt. Nil means
	// every error is retryable.
	Retryable func(err error) bool
	// OnRetry, when set, is called before each delay.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// Linear returns a backoff of step × attempt.
func Linear(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return step * time.Duration(attempt)
	}
}

// Constant returns a fixed backoff.
func Constant(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration {
		return d
	}
}

// StoragePolicy is the 3 attempts / 100ms × attempt policy applied to local
// persistence writes.
func StoragePolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     Linear(100 * time.Millisecond),
		Retryable:   retryable,
	}
}

// schedule adapts a Policy's backoff function to backoff.BackOff.
type schedule struct {
	fn      func(int) time.Duration
	attempt int
}

func (s *schedule) NextBackOff() time.Duration {
	s.attempt++
	if s.fn == nil {
		return 0
	}
	return s.fn(s.attempt)
}

func (s *schedule) Reset() {
	s.attempt = 0
}

// Do runs op until it succeeds, returns a non-retryable error, exhausts
// MaxAttempts or ctx is done. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, op func() error) error {
	_, err := DoValue(ctx, p, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	sched := &schedule{fn: p.Backoff}
	tries := 0

	wrapped := func() (T, error) {
		tries++
		v, err := op()
		if err != nil && p.Retryable != nil && !p.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(sched),
		backoff.WithMaxTries(uint(attempts)),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, d time.Duration) {
			p.OnRetry(err, tries, d)
		}))
	}

	return backoff.Retry(ctx, wrapped, opts...)
}
