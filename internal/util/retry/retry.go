// Package retry provides bounded retry loops for transient failures.
//
// The [Do] function retries an operation a fixed number of times with a
// linearly increasing delay between attempts. Errors wrapped with [Fatal]
// stop the loop immediately. It backs the handshake attempt loop, where
// the instance's SSH daemon may not accept the just-published key yet.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int
	// Step controls the linear backoff: the delay after the n-th failed
	// attempt (zero-based) is n*Step.
	Step time.Duration
}

// Option is a functional option for retry configuration.
type Option func(*Config)

// Do executes the operation until it succeeds, returns a fatal error, the
// attempt budget is exhausted, or the context is cancelled. The delay after
// each failed attempt grows linearly: 0, Step, 2*Step, ...
func Do(ctx context.Context, operation func() error, opts ...Option) error {
	cfg := &Config{
		MaxAttempts: 6,
		Step:        1 * time.Second,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err

		if IsFatal(err) {
			return err
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := time.Duration(attempt) * cfg.Step
		if delay > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled after %d attempts: %w", attempt+1, ctx.Err())
			case <-time.After(delay):
			}
		} else if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled after %d attempts: %w", attempt+1, err)
		}
	}

	return lastErr
}

// WithMaxAttempts sets the total number of attempts.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		c.MaxAttempts = n
	}
}

// WithLinearStep sets the linear backoff step.
func WithLinearStep(d time.Duration) Option {
	return func(c *Config) {
		c.Step = d
	}
}

// FatalError wraps an error to mark it as fatal (non-retryable).
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal marks an error as fatal (non-retryable).
// Operations that return fatal errors stop the loop immediately.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal checks if an error is fatal (non-retryable).
func IsFatal(err error) bool {
	var fatalErr *FatalError
	return errors.As(err, &fatalErr)
}
