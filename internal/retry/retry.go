// Package retry classifies engine failures and retries transient ones with
// exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/infofitsoftware/athena-dashboard/internal/domain"
)

// Class partitions failures into those worth retrying and those that are not.
type Class int

const (
	// Transient failures (throttling, network, 5xx-equivalent) may be retried.
	Transient Class = iota
	// Terminal failures (rejected statement, validation, cancellation) surface
	// immediately.
	Terminal
)

// Policy holds the retry ceiling and backoff schedule.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    5 * time.Second,
	}
}

// Classify maps an error to its retry class. Unknown errors are treated as
// Terminal so that novel failure modes never loop.
func Classify(err error) Class {
	var unavailable *domain.EngineUnavailableError
	if errors.As(err, &unavailable) {
		return Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	return Terminal
}

// Delay computes the backoff before the given attempt (1-based) is retried.
// Full jitter: a uniform draw from (0, capped exponential]. A non-positive
// configured base still yields a positive delay.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	if d < 1 {
		d = 1
	}
	return time.Duration(rand.Int64N(int64(d)) + 1)
}

// Do runs fn up to MaxAttempts times. Terminal failures and context
// cancellation surface immediately; a transient failure on the final attempt
// is converted into a RetriesExhaustedError carrying the last cause.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if Classify(lastErr) == Terminal {
			return lastErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}
	return &domain.RetriesExhaustedError{Attempts: p.MaxAttempts, Cause: lastErr}
}
