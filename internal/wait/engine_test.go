package wait

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-e2e/internal/locator"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedEvaluator answers each Evaluate call with respond(callNumber, script).
type scriptedEvaluator struct {
	mu      sync.Mutex
	calls   int
	respond func(n int, script string) (interface{}, error)
}

func (s *scriptedEvaluator) Evaluate(ctx context.Context, script string, res interface{}) error {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := s.respond(n, script)
	if err != nil {
		return err
	}
	b, err := jsoniter.Marshal(v)
	if err != nil {
		return err
	}
	return jsoniter.Unmarshal(b, res)
}

func (s *scriptedEvaluator) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func probeAfter(threshold int, p locator.Probe) func(int, string) (interface{}, error) {
	return func(n int, _ string) (interface{}, error) {
		if n < threshold {
			return locator.Probe{}, nil
		}
		return p, nil
	}
}

func newTestEngine(t *testing.T, ev Evaluator) *Engine {
	return New(ev, Options{Poll: 5 * time.Millisecond, Settle: 250 * time.Millisecond, Boot: time.Second}, zaptest.NewLogger(t))
}

var startBtn = locator.Button("START")

func TestUntil(t *testing.T) {
	t.Run("returns as soon as the condition holds", func(t *testing.T) {
		ev := &scriptedEvaluator{respond: probeAfter(3, locator.Probe{Count: 1, Found: true, Visible: true})}
		e := newTestEngine(t, ev)

		err := e.Visible(context.Background(), startBtn, 0)
		require.NoError(t, err)
		assert.Equal(t, 3, ev.Calls())
	})

	t.Run("timeout is distinguishable and carries the last error", func(t *testing.T) {
		boom := errors.New("Execution context was destroyed")
		ev := &scriptedEvaluator{respond: func(n int, _ string) (interface{}, error) {
			if n%2 == 0 {
				return nil, boom
			}
			return locator.Probe{}, nil
		}}
		e := newTestEngine(t, ev)

		start := time.Now()
		err := e.Until(context.Background(), Visible(startBtn), 60*time.Millisecond)
		require.Error(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
		assert.True(t, errors.Is(err, ErrTimeout))

		var te *TimeoutError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, 60*time.Millisecond, te.Budget)
		assert.Contains(t, te.Condition, "visible(css=button >> has-text=START)")
		assert.Greater(t, te.Attempts, 2)
		assert.ErrorIs(t, te.LastErr, boom)
	})

	t.Run("evaluation errors count as not yet", func(t *testing.T) {
		ev := &scriptedEvaluator{respond: func(n int, _ string) (interface{}, error) {
			if n < 4 {
				return nil, errors.New("cannot find context with specified id")
			}
			return locator.Probe{Count: 1, Found: true, Visible: true}, nil
		}}
		require.NoError(t, newTestEngine(t, ev).Visible(context.Background(), startBtn, 0))
	})

	t.Run("cancellation is not a timeout", func(t *testing.T) {
		ev := &scriptedEvaluator{respond: probeAfter(1<<30, locator.Probe{})}
		e := newTestEngine(t, ev)
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)

		err := e.Until(ctx, Visible(startBtn), time.Second)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, errors.Is(err, ErrTimeout))
	})

	t.Run("polls up to the deadline when the interval does not divide the budget", func(t *testing.T) {
		start := time.Now()
		ev := &scriptedEvaluator{respond: func(int, string) (interface{}, error) {
			if time.Since(start) >= 190*time.Millisecond {
				return locator.Probe{Count: 1, Found: true, Visible: true}, nil
			}
			return locator.Probe{}, nil
		}}
		e := New(ev, Options{Poll: 80 * time.Millisecond}, zaptest.NewLogger(t))

		require.NoError(t, e.Visible(context.Background(), startBtn, 200*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 190*time.Millisecond)
	})

	t.Run("timeout never fires before the budget is spent", func(t *testing.T) {
		ev := &scriptedEvaluator{respond: probeAfter(1<<30, locator.Probe{})}
		e := New(ev, Options{Poll: 40 * time.Millisecond}, zaptest.NewLogger(t))

		start := time.Now()
		err := e.Until(context.Background(), Visible(startBtn), 100*time.Millisecond)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
		// Checks at 0, 40, 80 and one at the deadline.
		assert.InDelta(t, 4, ev.Calls(), 1)
	})

	t.Run("zero timeout uses the settle tier", func(t *testing.T) {
		ev := &scriptedEvaluator{respond: probeAfter(1<<30, locator.Probe{})}
		e := newTestEngine(t, ev)

		err := e.Until(context.Background(), Visible(startBtn), 0)
		var te *TimeoutError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, e.Settle(), te.Budget)
	})
}

func TestConditions(t *testing.T) {
	ctx := context.Background()
	visible := locator.Probe{Count: 2, Found: true, Visible: true, Width: 370}
	hidden := locator.Probe{Count: 1, Found: true, Visible: false}
	absent := locator.Probe{}

	tests := []struct {
		name  string
		cond  Condition
		probe locator.Probe
		want  bool
	}{
		{"visible", Visible(startBtn), visible, true},
		{"visible on hidden", Visible(startBtn), hidden, false},
		{"hidden when absent", Hidden(startBtn), absent, true},
		{"hidden when not rendered", Hidden(startBtn), hidden, true},
		{"hidden on visible", Hidden(startBtn), visible, false},
		{"count at least", Count(startBtn, AtLeast(1)), visible, true},
		{"count exactly", Count(startBtn, Exactly(1)), visible, false},
		{"count at most", Count(startBtn, AtMost(2)), visible, true},
		{"count counts unrendered", Count(startBtn, AtLeast(1)), hidden, true},
		{"min width met", MinWidth(startBtn, 250), visible, true},
		{"min width short", MinWidth(startBtn, 400), visible, false},
		{"min width needs visibility", MinWidth(startBtn, 0), hidden, false},
		{"not", Not(Visible(startBtn)), visible, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &scriptedEvaluator{respond: func(int, string) (interface{}, error) { return tt.probe, nil }}
			got, err := tt.cond.Check(ctx, ev)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("text present evaluates the body text script", func(t *testing.T) {
		ev := &scriptedEvaluator{respond: func(_ int, script string) (interface{}, error) {
			return strings.Contains(script, `"Mega Arasaka Gear"`), nil
		}}
		ok, err := TextPresent("Mega Arasaka Gear").Check(ctx, ev)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("not passes errors through", func(t *testing.T) {
		ev := &scriptedEvaluator{respond: func(int, string) (interface{}, error) { return nil, errors.New("detached") }}
		ok, err := Not(Visible(startBtn)).Check(ctx, ev)
		assert.Error(t, err)
		assert.False(t, ok)
	})

	t.Run("func", func(t *testing.T) {
		c := Func("always", func(context.Context, Evaluator) (bool, error) { return true, nil })
		assert.Equal(t, "always", c.String())
		ok, err := c.Check(ctx, nil)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	assert.Equal(t, ">= 1", AtLeast(1).String())
	assert.False(t, CountPredicate{}.Test(0))
}

func TestHold(t *testing.T) {
	posted := locator.Text("Posted")

	t.Run("holds for the whole window", func(t *testing.T) {
		ev := &scriptedEvaluator{respond: func(int, string) (interface{}, error) {
			return locator.Probe{Count: 1, Found: true, Visible: true}, nil
		}}
		e := newTestEngine(t, ev)

		start := time.Now()
		require.NoError(t, e.Hold(context.Background(), Visible(posted), 50*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
		assert.Greater(t, ev.Calls(), 2)
	})

	t.Run("reverting breaks the hold", func(t *testing.T) {
		ev := &scriptedEvaluator{respond: func(n int, _ string) (interface{}, error) {
			return locator.Probe{Count: 1, Found: true, Visible: n < 3}, nil
		}}
		e := newTestEngine(t, ev)

		err := e.Hold(context.Background(), Visible(posted), 200*time.Millisecond)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConditionBroken)
		var he *HoldError
		require.ErrorAs(t, err, &he)
		assert.Contains(t, he.Error(), "stopped holding")
	})

	t.Run("no successful observation is a timeout", func(t *testing.T) {
		ev := &scriptedEvaluator{respond: func(int, string) (interface{}, error) { return nil, errors.New("navigating") }}
		err := newTestEngine(t, ev).Hold(context.Background(), Visible(posted), 30*time.Millisecond)
		assert.ErrorIs(t, err, ErrTimeout)
	})
}
