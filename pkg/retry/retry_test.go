package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/google-proxy/pkg/clock"
	"github.com/pario-ai/google-proxy/pkg/errs"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("status %d", int(s)) }
func (s statusErr) HTTPStatus() int { return int(s) }

func TestDelaySchedule(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 30*time.Second, p.Delay(10))
	assert.Equal(t, 30*time.Second, p.Delay(5000))
}

func TestDelayCapped(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelay: 20 * time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}
	assert.Equal(t, 20*time.Second, p.Delay(0))
	assert.Equal(t, 30*time.Second, p.Delay(1))
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.BaseDelay = time.Minute
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.Multiplier = 0.5
	assert.Error(t, p.Validate())
}

func TestExhaustsAfterMaxRetries(t *testing.T) {
	fc := clock.Fake(epoch)
	var states []State
	c := New(DefaultPolicy(), WithClock(fc), WithObserver(func(tr Transition) {
		states = append(states, tr.State)
	}))

	calls := 0
	_, err := Execute(context.Background(), c, func(context.Context) (string, error) {
		calls++
		return "", statusErr(503)
	})

	require.Error(t, err)
	assert.True(t, errs.IsRetryExhausted(err))
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, fc.Sleeps())

	var pe *errs.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 4, pe.Attempts)
	var se statusErr
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 503, int(se))

	assert.Equal(t, []State{
		StateAttempting, StateDelaying,
		StateAttempting, StateDelaying,
		StateAttempting, StateDelaying,
		StateAttempting, StateExhausted,
	}, states)
}

func TestTerminalErrorSingleAttempt(t *testing.T) {
	fc := clock.Fake(epoch)
	p := DefaultPolicy()
	p.MaxRetries = 10
	c := New(p, WithClock(fc))

	calls := 0
	_, err := Execute(context.Background(), c, func(context.Context) (int, error) {
		calls++
		return 0, statusErr(401)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, errs.KindUpstreamTerminal, errs.KindOf(err))
	assert.Empty(t, fc.Sleeps())
}

func TestTypedTerminalErrorKeepsKind(t *testing.T) {
	c := New(DefaultPolicy(), WithClock(clock.Fake(epoch)))
	_, err := Execute(context.Background(), c, func(context.Context) (int, error) {
		return 0, errs.Validationf("bad input")
	})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestSucceedsAfterTransientFailures(t *testing.T) {
	fc := clock.Fake(epoch)
	c := New(DefaultPolicy(), WithClock(fc))

	calls := 0
	got, err := Execute(context.Background(), c, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", context.DeadlineExceeded
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, fc.Sleeps())
}

func TestZeroRetries(t *testing.T) {
	p := DefaultPolicy()
	p.MaxRetries = 0
	c := New(p, WithClock(clock.Fake(epoch)))

	calls := 0
	_, err := Execute(context.Background(), c, func(context.Context) (int, error) {
		calls++
		return 0, statusErr(429)
	})
	assert.True(t, errs.IsRetryExhausted(err))
	assert.Equal(t, 1, calls)
}

func TestCancelDuringDelay(t *testing.T) {
	mc := clock.Manual(epoch)
	c := New(DefaultPolicy(), WithClock(mc))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Execute(ctx, c, func(context.Context) (int, error) {
			calls++
			return 0, statusErr(500)
		})
		done <- err
	}()

	require.Eventually(t, func() bool { return mc.Pending() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errs.IsCancelled(err))
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("Execute did not return after cancellation")
	}
}

func TestCancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(DefaultPolicy(), WithClock(clock.Fake(epoch)))
	calls := 0
	_, err := Execute(ctx, c, func(context.Context) (int, error) {
		calls++
		return 1, nil
	})
	assert.True(t, errs.IsCancelled(err))
	assert.Zero(t, calls)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"429", statusErr(429), Retryable},
		{"500", statusErr(500), Retryable},
		{"502", statusErr(502), Retryable},
		{"503", statusErr(503), Retryable},
		{"504", statusErr(504), Retryable},
		{"400", statusErr(400), Terminal},
		{"401", statusErr(401), Terminal},
		{"403", statusErr(403), Terminal},
		{"wrapped 503", fmt.Errorf("call: %w", statusErr(503)), Retryable},
		{"deadline", context.DeadlineExceeded, Retryable},
		{"canceled", context.Canceled, Terminal},
		{"unexpected eof", io.ErrUnexpectedEOF, Retryable},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, Retryable},
		{"typed retryable", errs.New(errs.KindUpstreamRetryable, "busy", nil), Retryable},
		{"typed terminal", errs.New(errs.KindUpstreamTerminal, "blocked", nil), Terminal},
		{"plain", errors.New("boom"), Terminal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}
