package wait

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/scalpel-e2e/internal/locator"
)

// Evaluator runs a script in the page and unmarshals its result into res.
type Evaluator interface {
	Evaluate(ctx context.Context, script string, res interface{}) error
}

// Condition is a DOM predicate checked on every poll. A non-nil error means
// the state could not be observed this time, not that the condition is false.
type Condition interface {
	fmt.Stringer
	Check(ctx context.Context, ev Evaluator) (bool, error)
}

// CountPredicate constrains a match count.
type CountPredicate struct {
	desc string
	fn   func(int) bool
}

func (p CountPredicate) String() string { return p.desc }

// Test applies the predicate.
func (p CountPredicate) Test(n int) bool { return p.fn != nil && p.fn(n) }

func AtLeast(n int) CountPredicate {
	return CountPredicate{desc: fmt.Sprintf(">= %d", n), fn: func(c int) bool { return c >= n }}
}

func Exactly(n int) CountPredicate {
	return CountPredicate{desc: fmt.Sprintf("== %d", n), fn: func(c int) bool { return c == n }}
}

func AtMost(n int) CountPredicate {
	return CountPredicate{desc: fmt.Sprintf("<= %d", n), fn: func(c int) bool { return c <= n }}
}

// ProbeLocator evaluates the locator once.
func ProbeLocator(ctx context.Context, ev Evaluator, l locator.Locator) (locator.Probe, error) {
	var p locator.Probe
	if err := ev.Evaluate(ctx, locator.ProbeScript(l), &p); err != nil {
		return locator.Probe{}, fmt.Errorf("probe %s: %w", l, err)
	}
	return p, nil
}

type visibleCond struct{ loc locator.Locator }

// Visible is true when the picked match is rendered with a non-empty box.
func Visible(l locator.Locator) Condition { return visibleCond{l} }

func (c visibleCond) String() string { return "visible(" + c.loc.String() + ")" }

func (c visibleCond) Check(ctx context.Context, ev Evaluator) (bool, error) {
	p, err := ProbeLocator(ctx, ev, c.loc)
	if err != nil {
		return false, err
	}
	return p.Visible, nil
}

type hiddenCond struct{ loc locator.Locator }

// Hidden is true when the locator has no pick or the pick is not rendered.
func Hidden(l locator.Locator) Condition { return hiddenCond{l} }

func (c hiddenCond) String() string { return "hidden(" + c.loc.String() + ")" }

func (c hiddenCond) Check(ctx context.Context, ev Evaluator) (bool, error) {
	p, err := ProbeLocator(ctx, ev, c.loc)
	if err != nil {
		return false, err
	}
	return !p.Found || !p.Visible, nil
}

type textCond struct{ text string }

// TextPresent is true when the rendered page text contains s.
func TextPresent(s string) Condition { return textCond{s} }

func (c textCond) String() string { return fmt.Sprintf("text(%q)", c.text) }

func (c textCond) Check(ctx context.Context, ev Evaluator) (bool, error) {
	var present bool
	if err := ev.Evaluate(ctx, locator.TextPresentScript(c.text), &present); err != nil {
		return false, err
	}
	return present, nil
}

type countCond struct {
	loc  locator.Locator
	pred CountPredicate
}

// Count is true when the number of matches, rendered or not, satisfies pred.
func Count(l locator.Locator, pred CountPredicate) Condition { return countCond{l, pred} }

func (c countCond) String() string {
	return fmt.Sprintf("count(%s) %s", c.loc, c.pred)
}

func (c countCond) Check(ctx context.Context, ev Evaluator) (bool, error) {
	p, err := ProbeLocator(ctx, ev, c.loc)
	if err != nil {
		return false, err
	}
	return c.pred.Test(p.Count), nil
}

type minWidthCond struct {
	loc locator.Locator
	px  float64
}

// MinWidth is true when the pick is visible and at least px CSS pixels wide.
func MinWidth(l locator.Locator, px float64) Condition { return minWidthCond{l, px} }

func (c minWidthCond) String() string {
	return fmt.Sprintf("width(%s) >= %.0fpx", c.loc, c.px)
}

func (c minWidthCond) Check(ctx context.Context, ev Evaluator) (bool, error) {
	p, err := ProbeLocator(ctx, ev, c.loc)
	if err != nil {
		return false, err
	}
	return p.Visible && p.Width >= c.px, nil
}

type notCond struct{ inner Condition }

// Not negates a condition. Evaluation errors are passed through unchanged.
func Not(c Condition) Condition { return notCond{c} }

func (c notCond) String() string { return "not(" + c.inner.String() + ")" }

func (c notCond) Check(ctx context.Context, ev Evaluator) (bool, error) {
	ok, err := c.inner.Check(ctx, ev)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

type funcCond struct {
	desc string
	fn   func(ctx context.Context, ev Evaluator) (bool, error)
}

// Func adapts a function into a Condition.
func Func(desc string, fn func(ctx context.Context, ev Evaluator) (bool, error)) Condition {
	return funcCond{desc, fn}
}

func (c funcCond) String() string { return c.desc }

func (c funcCond) Check(ctx context.Context, ev Evaluator) (bool, error) { return c.fn(ctx, ev) }
