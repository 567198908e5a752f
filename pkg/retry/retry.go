// Package retry runs upstream calls under a deterministic capped exponential
// backoff policy. Each logical call is an explicit state machine:
//
//	Attempting(n) -> Succeeded
//	Attempting(n) -> Failed                  (terminal error)
//	Attempting(n) -> Exhausted               (retryable error, n == MaxRetries)
//	Attempting(n) -> Delaying(n, until)      (retryable error, n < MaxRetries)
//	Delaying(n)   -> Attempting(n+1)
//	*             -> Cancelled               (context done)
package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/google-proxy/pkg/clock"
	"github.com/pario-ai/google-proxy/pkg/errs"
)

// State is a retry state machine state.
type State string

const (
	StateAttempting State = "attempting"
	StateDelaying   State = "delaying"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateExhausted  State = "exhausted"
	StateCancelled  State = "cancelled"
)

// Transition is reported to an Observer each time the state machine moves.
type Transition struct {
	State   State
	Attempt uint
	// Delay and Until are set for StateDelaying.
	Delay time.Duration
	Until time.Time
	Err   error
}

// Observer receives state transitions in order.
type Observer func(Transition)

// Controller executes operations under a Policy.
type Controller struct {
	policy   Policy
	clock    clock.Clock
	observer Observer
	logger   *zap.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock used for delays.
func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithObserver registers a transition observer.
func WithObserver(o Observer) Option {
	return func(ctl *Controller) { ctl.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(ctl *Controller) { ctl.logger = l }
}

// New creates a Controller for policy.
func New(policy Policy, opts ...Option) *Controller {
	c := &Controller{
		policy: policy,
		clock:  clock.Real(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) emit(t Transition) {
	if c.observer != nil {
		c.observer(t)
	}
}

// Execute runs op until it succeeds, fails with a terminal error, exhausts
// the policy, or ctx is done. Attempts are strictly sequential.
//
// Returned errors are *errs.Error values: KindUpstreamTerminal for terminal
// failures (errors that already are *errs.Error keep their kind),
// KindRetryExhausted wrapping the last cause, or KindCancelled.
func Execute[T any](ctx context.Context, c *Controller, op func(context.Context) (T, error)) (T, error) {
	var zero T

	for attempt := uint(0); ; attempt++ {
		if err := ctx.Err(); err != nil {
			c.emit(Transition{State: StateCancelled, Attempt: attempt, Err: err})
			return zero, cancelled(attempt, err)
		}

		c.emit(Transition{State: StateAttempting, Attempt: attempt})
		result, err := op(ctx)
		if err == nil {
			c.emit(Transition{State: StateSucceeded, Attempt: attempt})
			return result, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			c.emit(Transition{State: StateCancelled, Attempt: attempt, Err: err})
			return zero, cancelled(attempt+1, ctxErr)
		}

		if Classify(err) == Terminal {
			c.emit(Transition{State: StateFailed, Attempt: attempt, Err: err})
			return zero, terminal(attempt+1, err)
		}

		if attempt >= c.policy.MaxRetries {
			c.emit(Transition{State: StateExhausted, Attempt: attempt, Err: err})
			c.logger.Warn("upstream retries exhausted",
				zap.Uint("attempts", attempt+1),
				zap.Error(err),
			)
			return zero, &errs.Error{
				Kind:     errs.KindRetryExhausted,
				Message:  fmt.Sprintf("gave up after %d attempts", attempt+1),
				Attempts: int(attempt + 1),
				Err:      err,
			}
		}

		delay := c.policy.Delay(attempt)
		until := c.clock.Now().Add(delay)
		c.emit(Transition{State: StateDelaying, Attempt: attempt, Delay: delay, Until: until, Err: err})
		c.logger.Debug("retrying upstream call",
			zap.Uint("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			c.emit(Transition{State: StateCancelled, Attempt: attempt, Err: ctx.Err()})
			return zero, cancelled(attempt+1, ctx.Err())
		case <-c.clock.After(delay):
		}
	}
}

func cancelled(attempts uint, cause error) error {
	return &errs.Error{
		Kind:     errs.KindCancelled,
		Message:  "request cancelled",
		Attempts: int(attempts),
		Err:      cause,
	}
}

func terminal(attempts uint, cause error) error {
	if pe, ok := cause.(*errs.Error); ok {
		out := *pe
		out.Attempts = int(attempts)
		return &out
	}
	return &errs.Error{
		Kind:     errs.KindUpstreamTerminal,
		Message:  "upstream rejected request",
		Attempts: int(attempts),
		Err:      cause,
	}
}
