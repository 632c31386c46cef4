// Package retry runs I/O calls under an explicit backoff policy.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// JitterFunc perturbs a computed backoff before the caller sleeps on it.
type JitterFunc func(time.Duration) time.Duration

// RandomJitter adds a uniformly random extra delay in [0, d).
func RandomJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int64N(int64(d)))
}

// NoJitter returns the backoff unchanged.
func NoJitter(d time.Duration) time.Duration { return d }

// Policy configures retry behavior for one kind of operation.
type Policy struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration

	// Factor multiplies the backoff after each failed attempt.
	Factor float64

	// Jitter is applied to every computed backoff. Nil means RandomJitter.
	Jitter JitterFunc

	// Retryable reports whether an error is worth another attempt.
	// Nil treats every error as retryable.
	Retryable func(error) bool

	Logger *slog.Logger

	// sleep is replaced in tests.
	sleep func(context.Context, time.Duration) error
}

// Default is three attempts with exponential backoff from one second.
var Default = Policy{
	MaxAttempts:    3,
	InitialBackoff: time.Second,
	MaxBackoff:     30 * time.Second,
	Factor:         2.0,
}

// Option adjusts a Policy.
type Option func(*Policy)

func WithMaxAttempts(n int) Option {
	return func(p *Policy) { p.MaxAttempts = n }
}

func WithBackoff(initial, max time.Duration) Option {
	return func(p *Policy) {
		p.InitialBackoff = initial
		p.MaxBackoff = max
	}
}

func WithJitter(fn JitterFunc) Option {
	return func(p *Policy) { p.Jitter = fn }
}

func WithRetryable(fn func(error) bool) Option {
	return func(p *Policy) { p.Retryable = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Policy) { p.Logger = l }
}

// New builds a policy starting from Default.
func New(opts ...Option) Policy {
	p := Default
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsRetryable applies the policy's predicate to err.
func (p Policy) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// Backoff returns the un-jittered delay that follows the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * factor)
		if p.MaxBackoff > 0 && d > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Do calls fn until it succeeds, returns a non-retryable error, the context
// is done, or MaxAttempts is reached. Non-retryable errors are returned as is;
// running out of attempts yields an *ExhaustedError wrapping the last error.
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	jitter := p.Jitter
	if jitter == nil {
		jitter = RandomJitter
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !p.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		wait := jitter(p.Backoff(attempt))
		if p.Logger != nil {
			p.Logger.Warn("retrying after error",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", attempts),
				slog.Duration("backoff", wait),
				slog.Any("error", lastErr),
			)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}

	return &ExhaustedError{Op: op, Attempts: attempts, Err: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
