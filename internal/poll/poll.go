// Package poll waits for an externally recomputed value to settle: read a
// slot at a fixed interval, stop early once the value is good enough, and
// give up after a bounded number of attempts.
package poll

import (
	"context"
	"fmt"
	"time"

	"stockmetrics/internal/clock"
)

// Config bounds a poll loop.
type Config struct {
	Interval    time.Duration
	MaxAttempts int
}

// Result is the outcome of Until.
type Result[T any] struct {
	Value    T    // last successfully read value
	Attempts int  // reads performed
	Ready    bool // ready(Value) held before attempts ran out
}

// Until calls read up to cfg.MaxAttempts times, sleeping cfg.Interval between
// attempts, and returns as soon as ready reports true.
//
// When attempts run out it returns the last value read with Ready=false so
// that the caller can proceed with a partial result. An error is returned
// only if ctx is done or no attempt ever read successfully.
func Until[T any](ctx context.Context, clk clock.Clock, cfg Config, read func(context.Context) (T, error), ready func(T) bool) (Result[T], error) {
	var res Result[T]
	var lastErr error
	gotValue := false

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := clk.Sleep(ctx, cfg.Interval); err != nil {
				return res, err
			}
		}

		res.Attempts++
		v, err := read(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		res.Value = v
		gotValue = true
		if ready(v) {
			res.Ready = true
			return res, nil
		}
	}

	if !gotValue && lastErr != nil {
		return res, fmt.Errorf("poll: %d attempts failed: %w", res.Attempts, lastErr)
	}
	return res, nil
}
