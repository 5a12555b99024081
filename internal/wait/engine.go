// Package wait implements bounded polling over DOM predicates. Nothing in the
// harness sleeps for a fixed time; every "wait then act" goes through Engine.
package wait

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/scalpel-e2e/internal/locator"
)

const (
	DefaultPoll   = 100 * time.Millisecond
	DefaultBoot   = 30 * time.Second
	DefaultSettle = 5 * time.Second
)

// Options configures the polling cadence and the two timeout tiers.
type Options struct {
	Poll time.Duration
	// Boot is the long tier for the first page load.
	Boot time.Duration
	// Settle is the short tier for post-action UI transitions.
	Settle time.Duration
}

func (o Options) withDefaults() Options {
	if o.Poll <= 0 {
		o.Poll = DefaultPoll
	}
	if o.Boot <= 0 {
		o.Boot = DefaultBoot
	}
	if o.Settle <= 0 {
		o.Settle = DefaultSettle
	}
	return o
}

// Engine evaluates conditions against one page.
type Engine struct {
	ev     Evaluator
	opts   Options
	logger *zap.Logger
}

// New creates an Engine bound to ev.
func New(ev Evaluator, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{ev: ev, opts: opts.withDefaults(), logger: logger.Named("wait")}
}

// Boot returns the long timeout tier.
func (e *Engine) Boot() time.Duration { return e.opts.Boot }

// Settle returns the short timeout tier.
func (e *Engine) Settle() time.Duration { return e.opts.Settle }

// Until polls cond until it is true or timeout elapses. A non-positive timeout
// uses the settle tier. Exhausting the budget returns a *TimeoutError;
// cancellation of ctx returns ctx.Err(). The last poll runs at the deadline.
func (e *Engine) Until(ctx context.Context, cond Condition, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = e.opts.Settle
	}
	start := time.Now()
	deadline := start.Add(timeout)
	// One poll of grace so the check at the deadline can still evaluate.
	evalCtx, cancel := context.WithDeadline(ctx, deadline.Add(e.opts.Poll))
	defer cancel()

	limiter := e.newLimiter()
	attempts := 0
	var lastErr error

	for {
		attempts++
		ok, err := cond.Check(evalCtx, e.ev)
		if err != nil {
			lastErr = err
		} else if ok {
			e.logger.Debug("Condition met.", zap.Stringer("condition", cond), zap.Duration("elapsed", time.Since(start)), zap.Int("polls", attempts))
			return nil
		}
		more, err := pause(ctx, limiter, deadline)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &TimeoutError{Condition: cond.String(), Budget: timeout, Attempts: attempts, LastErr: lastErr}
}

// Visible waits for the locator's pick to be rendered.
func (e *Engine) Visible(ctx context.Context, l locator.Locator, timeout time.Duration) error {
	return e.Until(ctx, Visible(l), timeout)
}

// Count waits for the number of matches to satisfy pred.
func (e *Engine) Count(ctx context.Context, l locator.Locator, pred CountPredicate, timeout time.Duration) error {
	return e.Until(ctx, Count(l, pred), timeout)
}

// Hold verifies cond stays true on every poll for the whole window. It is the
// check for monotonic transitions, e.g. a status that must not revert.
// Polls that fail to evaluate are ignored unless none succeed.
func (e *Engine) Hold(ctx context.Context, cond Condition, window time.Duration) error {
	if window <= 0 {
		window = e.opts.Poll
	}
	start := time.Now()
	deadline := start.Add(window)
	evalCtx, cancel := context.WithDeadline(ctx, deadline.Add(e.opts.Poll))
	defer cancel()

	limiter := e.newLimiter()
	attempts, observed := 0, 0
	var lastErr error

	for {
		attempts++
		ok, err := cond.Check(evalCtx, e.ev)
		switch {
		case err != nil:
			if evalCtx.Err() == nil {
				lastErr = err
			}
		case !ok:
			return &HoldError{Condition: cond.String(), After: time.Since(start)}
		default:
			observed++
		}
		more, err := pause(ctx, limiter, deadline)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}

	if observed == 0 {
		return &TimeoutError{Condition: cond.String(), Budget: window, Attempts: attempts, LastErr: lastErr}
	}
	e.logger.Debug("Condition held.", zap.Stringer("condition", cond), zap.Duration("window", window), zap.Int("polls", observed))
	return nil
}

// newLimiter paces polls at the configured interval, measured from the first
// check.
func (e *Engine) newLimiter() *rate.Limiter {
	limiter := rate.NewLimiter(rate.Every(e.opts.Poll), 1)
	limiter.Allow()
	return limiter
}

// pause blocks until the limiter grants the next poll, clamped to deadline.
// It reports false once the deadline has passed, so the caller gets exactly
// one check at the deadline.
func pause(ctx context.Context, limiter *rate.Limiter, deadline time.Time) (bool, error) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false, nil
	}
	r := limiter.Reserve()
	delay := r.Delay()
	if delay > remaining {
		r.Cancel()
		delay = remaining
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		return true, nil
	}
}

// Probe evaluates the locator once without waiting.
func (e *Engine) Probe(ctx context.Context, l locator.Locator) (locator.Probe, error) {
	return ProbeLocator(ctx, e.ev, l)
}
