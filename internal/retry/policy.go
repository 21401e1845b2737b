// Package retry provides bounded exponential-backoff retries with cancellable waits.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// DefaultAttempts is the total number of tries, including the first.
	DefaultAttempts = 3
	// DefaultBaseDelay is the wait after the first failure; it doubles per attempt.
	DefaultBaseDelay = 500 * time.Millisecond
	// DefaultMaxDelay caps a single wait.
	DefaultMaxDelay = 30 * time.Second
)

// Policy implements base × 2^attempt backoff.
type Policy struct {
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option customizes a Policy.
type Option func(*Policy)

// WithAttempts sets the total number of tries.
func WithAttempts(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.attempts = n
		}
	}
}

// WithBaseDelay sets the first backoff.
func WithBaseDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d >= 0 {
			p.baseDelay = d
		}
	}
}

// WithMaxDelay caps each backoff.
func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.maxDelay = d
		}
	}
}

// WithSleeper replaces the wait function, primarily for tests.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

// New builds a Policy with defaults of 3 attempts and a 500ms base delay.
func New(opts ...Option) *Policy {
	p := &Policy{
		attempts:  DefaultAttempts,
		baseDelay: DefaultBaseDelay,
		maxDelay:  DefaultMaxDelay,
		sleep:     Sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Attempts returns the configured number of tries.
func (p *Policy) Attempts() int {
	return p.attempts
}

// Backoff returns the wait after the given zero-based failed attempt.
func (p *Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		return p.maxDelay
	}
	return time.Duration(delay)
}

// Retryable reports whether err should trigger another attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *permanentError
	return !errors.As(err, &perm)
}

// Do calls fn until it succeeds, returns a non-retryable error, or attempts run out.
// The last error is returned, wrapped with the attempt count.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	var err error
	for attempt := 0; attempt < p.attempts; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
		if attempt == p.attempts-1 {
			break
		}
		if serr := p.sleep(ctx, p.Backoff(attempt)); serr != nil {
			return serr
		}
	}
	return fmt.Errorf("after %d attempts: %w", p.attempts, err)
}

// Sleep waits for d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
