// Package retry runs an operation a bounded number of times.
//
// The last error is returned unchanged so callers can match on its type with
// errors.As. Errors that report Permanent() == true stop the loop at once.
// If ctx ends while waiting between attempts, the returned error wraps both
// ctx.Err() and the last error.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Policy bounds a retried operation.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// Delay is slept between attempts.
	Delay time.Duration

	// DisplayFailures logs every non-final failure as a warning.
	DisplayFailures bool
}

// permanent is implemented by errors that must not be retried.
type permanent interface {
	Permanent() bool
}

// IsPermanent reports whether err, or anything it wraps, is marked permanent.
func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p) && p.Permanent()
}

// Run calls op until it succeeds, fails permanently, or the attempts run out.
func Run(ctx context.Context, policy Policy, logger *slog.Logger, op func(ctx context.Context) error) error {
	_, err := Do(ctx, policy, logger, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do is Run for operations that produce a value.
func Do[T any](ctx context.Context, policy Policy, logger *slog.Logger, op func(ctx context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = op(ctx)
		if err == nil {
			return result, nil
		}
		if attempt == attempts || IsPermanent(err) {
			break
		}

		if policy.DisplayFailures {
			logger.Warn("attempt failed, retrying",
				"attempt", attempt,
				"max_attempts", attempts,
				"delay", policy.Delay,
				"error", err,
			)
		}

		if !sleep(ctx, policy.Delay) {
			return result, fmt.Errorf("%w after attempt %d: %w", ctx.Err(), attempt, err)
		}
	}
	return result, err
}

// sleep waits for d, returning false if ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
