// Package transfer moves payloads through a transport collaborator: single-shot
// for small payloads, chunked waves for large ones, each attempt under the
// retry engine, the channel circuit breaker and a per-attempt timeout.
package transfer

import (
	"context"
	"errors"
	"loan-upload/internal/core/domain"
	"loan-upload/internal/core/port"
	"loan-upload/internal/core/service/retry"
	"time"
)

// Attempter runs an operation until it succeeds, fails for good or is cancelled
type Attempter struct {
	engine  *retry.Engine
	breaker *retry.Breaker
	clock   port.Clock
	timeout time.Duration
}

// NewAttempter creates an Attempter. breaker may be nil; timeout <= 0 disables the per-attempt bound.
func NewAttempter(engine *retry.Engine, breaker *retry.Breaker, clock port.Clock, timeout time.Duration) *Attempter {
	return &Attempter{engine: engine, breaker: breaker, clock: clock, timeout: timeout}
}

// Do runs op and returns the number of attempts issued.
// op receives the 0-based attempt index.
func (a *Attempter) Do(ctx context.Context, policy retry.Policy, op func(ctx context.Context, attempt int) error, onRetry port.RetryFunc) (int, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}
		if err := a.waitBreaker(ctx); err != nil {
			return attempt, err
		}

		err := a.run(ctx, attempt, op)
		if err == nil {
			a.breaker.RecordSuccess(a.clock.Now())
			return attempt + 1, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt + 1, ctxErr
		}

		if retry.IsRetryable(domain.Classify(err)) {
			a.breaker.RecordFailure(a.clock.Now())
		}
		if !a.engine.ShouldRetry(err, attempt, policy) {
			return attempt + 1, err
		}

		next := a.engine.Attempt(err, attempt, policy)
		if onRetry != nil {
			onRetry(next)
		}
		if err := a.clock.Sleep(ctx, next.Delay); err != nil {
			return attempt + 1, err
		}
	}
}

func (a *Attempter) run(ctx context.Context, attempt int, op func(ctx context.Context, attempt int) error) error {
	if a.timeout <= 0 {
		return op(ctx, attempt)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	err := op(attemptCtx, attempt)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return &domain.UploadError{Class: domain.ErrorClassTimeout, Op: "attempt", Err: err}
	}
	return err
}

func (a *Attempter) waitBreaker(ctx context.Context) error {
	for {
		allowed, wait := a.breaker.Allow(a.clock.Now())
		if allowed {
			return nil
		}
		if err := a.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}
