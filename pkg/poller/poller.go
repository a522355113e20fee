package poller

import (
	"context"
	"time"

	"github.com/cuemby/replcheck/pkg/endpoint"
	"github.com/cuemby/replcheck/pkg/types"
)

// DefaultInterval is used when a Config leaves Interval unset
const DefaultInterval = 250 * time.Millisecond

// Config bounds a single poll. Both values are chosen per check: a bulk
// insert needs a longer deadline than a single row.
type Config struct {
	Interval time.Duration
	Deadline time.Duration
}

func (c Config) interval() time.Duration {
	if c.Interval <= 0 {
		return DefaultInterval
	}
	return c.Interval
}

// Result is the outcome of Until. Status is one of converged, timed_out,
// unreachable or failed.
type Result[T any] struct {
	Status types.Status

	// Value is the last successfully observed value, valid when Observed
	Value      T
	Observed   bool
	CapturedAt time.Time

	Elapsed  time.Duration
	Attempts int

	// Err is the error that ended the poll, or the last transient error on
	// timeout
	Err error
}

// Observation returns the last observed value as a types.Observation, or nil
// when every attempt errored.
func (r Result[T]) Observation(endpointName string) *types.Observation {
	if !r.Observed {
		return nil
	}
	return &types.Observation{Endpoint: endpointName, Value: r.Value, CapturedAt: r.CapturedAt}
}

// Until invokes action on a fixed interval until predicate accepts its
// result or the deadline passes.
//
// A connectivity error ends the poll as unreachable and a permanent query
// error ends it as failed, both without waiting. Any other error is recorded
// and polling continues. A new attempt is only started if it can start within
// the deadline, and each attempt runs under a context that expires with it.
// Cancelling ctx ends the poll as timed out. A zero Deadline allows exactly
// one attempt.
func Until[T any](ctx context.Context, cfg Config, action func(context.Context) (T, error), predicate func(T) bool) Result[T] {
	interval := cfg.interval()
	start := time.Now()

	pollCtx := ctx
	if cfg.Deadline > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithDeadline(ctx, start.Add(cfg.Deadline))
		defer cancel()
	}

	var res Result[T]
	finish := func(status types.Status, err error) Result[T] {
		res.Status = status
		res.Err = err
		res.Elapsed = time.Since(start)
		return res
	}

	var lastErr error
	for {
		res.Attempts++
		v, err := action(pollCtx)

		switch {
		case err == nil:
			res.Value = v
			res.Observed = true
			res.CapturedAt = time.Now()
			if predicate(v) {
				return finish(types.StatusConverged, nil)
			}
		case ctx.Err() != nil:
			return finish(types.StatusTimedOut, ctx.Err())
		case endpoint.IsConnectivity(err):
			return finish(types.StatusUnreachable, err)
		case endpoint.IsPermanent(err):
			return finish(types.StatusFailed, err)
		default:
			lastErr = err
		}

		if time.Since(start)+interval > cfg.Deadline {
			return finish(types.StatusTimedOut, lastErr)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return finish(types.StatusTimedOut, ctx.Err())
		case <-timer.C:
		}
	}
}

// Once runs action a single time and classifies it the way Until would.
// Any successful result converges. It is used for one-shot checks.
func Once[T any](ctx context.Context, action func(context.Context) (T, error)) Result[T] {
	return Until(ctx, Config{}, action, func(T) bool { return true })
}
