package scenario

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-e2e/internal/browser"
	"github.com/xkilldash9x/scalpel-e2e/internal/config"
	"github.com/xkilldash9x/scalpel-e2e/internal/locator"
	"github.com/xkilldash9x/scalpel-e2e/internal/observability"
	"github.com/xkilldash9x/scalpel-e2e/internal/reporting"
	"github.com/xkilldash9x/scalpel-e2e/internal/results"
	"github.com/xkilldash9x/scalpel-e2e/internal/wait"
)

const (
	sessionCloseTimeout = 15 * time.Second
	skippedReason       = "scenario aborted"
)

// Driver is the page surface steps act on. *browser.Session implements it.
type Driver interface {
	wait.Evaluator
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	SetViewport(ctx context.Context, v browser.Viewport) error
	Click(ctx context.Context, l locator.Locator) error
	DoubleClick(ctx context.Context, l locator.Locator) error
	Drag(ctx context.Context, l locator.Locator, dx, dy float64) error
	Fill(ctx context.Context, l locator.Locator, text string) error
	Upload(ctx context.Context, l locator.Locator, paths ...string) error
	Press(ctx context.Context, combo string) error
	Screenshot(ctx context.Context, full bool) ([]byte, error)
	ConsoleLog() []browser.ConsoleEntry
}

// Session is a Driver the sequencer owns for one scenario.
type Session interface {
	Driver
	ID() string
	Close(ctx context.Context) error
}

// OpenFunc opens the session a scenario runs in, with the scenario's stubs
// installed before it returns.
type OpenFunc func(ctx context.Context, sc Scenario) (Session, error)

// Options tunes a Sequencer.
type Options struct {
	RunID     string
	BaseURL   string
	Timeouts  config.TimeoutsConfig
	Retry     config.RetryConfig
	Artifacts config.ArtifactsConfig
	// Transcript receives the PASS/FAIL lines; nil discards them.
	Transcript *reporting.Transcript
}

// OptionsFromConfig copies the relevant sections of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:   cfg.App.URL,
		Timeouts:  cfg.Timeouts,
		Retry:     cfg.Retry,
		Artifacts: cfg.Artifacts,
	}
}

// Sequencer executes scenarios one step at a time. It is safe to call Run
// from several goroutines; each call owns its session.
type Sequencer struct {
	open   OpenFunc
	opts   Options
	logger *zap.Logger
}

// NewSequencer creates a sequencer. A missing run ID is generated.
func NewSequencer(open OpenFunc, opts Options, logger *zap.Logger) *Sequencer {
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}
	if opts.Transcript == nil {
		opts.Transcript = reporting.NewTranscript(nil)
	}
	if logger == nil {
		logger = observability.GetLogger()
	}
	return &Sequencer{open: open, opts: opts, logger: logger}
}

// RunID identifies every result this sequencer produces.
func (q *Sequencer) RunID() string { return q.opts.RunID }

// BaseURL is the application root relative navigations resolve against.
func (q *Sequencer) BaseURL() string { return q.opts.BaseURL }

// Run executes sc and always returns its result. Checkpoint failures are
// recorded and the run goes on; a failed action or wait_ready step aborts the
// remaining steps, which are recorded as skipped. The session is closed and
// the upload fixtures removed on every path. The error is non-nil only when
// no session could be opened.
func (q *Sequencer) Run(ctx context.Context, sc Scenario) (*results.ScenarioResult, error) {
	res := results.NewScenarioResult(q.opts.RunID, sc.Name, sc.Description)
	res.StartedAt = time.Now()
	defer func() { res.FinishedAt = time.Now() }()

	logger := observability.ForScenario(q.logger, sc.Name).With(zap.String("run_id", q.opts.RunID))
	rec := reporting.NewRecorder(q.opts.Transcript, res, reporting.RecorderOptions{
		Dir:      q.opts.Artifacts.Dir,
		FullPage: q.opts.Artifacts.FullPage,
		Console:  q.opts.Artifacts.Console,
	}, logger)

	fixtures := NewFixtures(q.opts.Artifacts.FixtureDir, sc.Name)
	defer func() {
		if err := fixtures.Cleanup(); err != nil {
			logger.Warn("Failed to remove upload fixtures.", zap.Error(err))
		}
	}()

	if err := sc.Validate(); err != nil {
		q.abort(res, rec, sc.Steps, 0, err.Error())
		return res, nil
	}

	res.State = results.StateBooting
	logger.Info("Starting scenario.", zap.Int("steps", len(sc.Steps)))

	sess, err := q.open(ctx, sc)
	if err != nil {
		q.abort(res, rec, sc.Steps, 0, fmt.Sprintf("open session: %v", err))
		return res, err
	}
	res.SessionID = sess.ID()
	rec.Attach(sess)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sessionCloseTimeout)
		defer cancel()
		if err := sess.Close(closeCtx); err != nil {
			logger.Warn("Session close reported an error.", zap.Error(err))
		}
	}()

	x := &execution{
		drv: sess,
		engine: wait.New(sess, wait.Options{
			Poll:   q.opts.Timeouts.Poll,
			Boot:   q.opts.Timeouts.Boot,
			Settle: q.opts.Timeouts.Settle,
		}, logger),
		fixtures: fixtures,
		rec:      rec,
		logger:   logger,
		baseURL:  q.opts.BaseURL,
	}

	bootEnd := -1
	for i, st := range sc.Steps {
		if st.Kind == KindWaitReady {
			bootEnd = i
			break
		}
	}

	for i, st := range sc.Steps {
		if err := ctx.Err(); err != nil {
			q.abort(res, rec, sc.Steps, i, fmt.Sprintf("cancelled before step %d: %v", i, err))
			break
		}
		if i > bootEnd && res.State == results.StateBooting {
			res.State = results.StateRunning
		}

		sr, err := q.runStep(ctx, x, i, st)
		if err != nil {
			logger.Error("Scenario aborted.", zap.Int("step", i), zap.String("label", sr.Label), zap.Error(err))
			if path := rec.Capture(ctx, "error"); path != "" && sr.Artifact == "" {
				sr.Artifact = path
			}
			res.Add(sr)
			q.abort(res, rec, sc.Steps, i+1, err.Error())
			break
		}
		res.Add(sr)
	}

	res.Complete()
	rec.Finish(ctx)
	logger.Info("Scenario finished.",
		zap.String("state", string(res.State)),
		zap.Int("passed", res.Passed()),
		zap.Int("failed", res.Failed()),
		zap.Int("skipped", res.Skipped()),
	)
	return res, nil
}

// abort moves res to Aborted and records steps[from:] as skipped.
func (q *Sequencer) abort(res *results.ScenarioResult, rec *reporting.Recorder, steps []Step, from int, reason string) {
	res.Abort(reason)
	rec.Note("ABORTED: %s", reason)
	for i := from; i < len(steps); i++ {
		st := steps[i]
		sr := results.StepResult{
			Index:      i,
			Kind:       string(st.Kind),
			Label:      st.Name(),
			Checkpoint: st.Kind == KindCheckpoint,
			Outcome:    results.OutcomeSkipped,
			Reason:     skippedReason,
		}
		if sr.Checkpoint {
			rec.Record(sr.Label, results.OutcomeSkipped, "")
		}
		res.Add(sr)
	}
}

// runStep executes one step. A returned error is fatal and already wraps
// ErrFatal; the step result is filled in either way.
func (q *Sequencer) runStep(ctx context.Context, x *execution, i int, st Step) (sr results.StepResult, err error) {
	start := time.Now()
	sr = results.StepResult{
		Index:      i,
		Kind:       string(st.Kind),
		Label:      st.Name(),
		Checkpoint: st.Kind == KindCheckpoint,
	}
	defer func() {
		if r := recover(); r != nil {
			x.logger.Error("Recovered from panic in step.", zap.Int("step", i), zap.Any("panic_value", r), zap.Stack("stack"))
			err = fmt.Errorf("%w: step %d (%s) panicked: %v", ErrFatal, i, sr.Label, r)
			sr.Outcome = results.OutcomeFail
			sr.Reason = err.Error()
		}
		sr.Duration = time.Since(start)
	}()

	switch st.Kind {
	case KindCheckpoint:
		cerr := x.checkpoint(ctx, st)
		switch {
		case cerr == nil:
			sr.Outcome = results.OutcomePass
			x.rec.Record(sr.Label, sr.Outcome, "")
		case ctx.Err() != nil:
			sr.Outcome = results.OutcomeSkipped
			sr.Reason = ctx.Err().Error()
			x.rec.Record(sr.Label, sr.Outcome, "")
			return sr, fmt.Errorf("%w: %s: %w", ErrFatal, sr.Label, ctx.Err())
		default:
			sr.Outcome = results.OutcomeFail
			sr.Reason = cerr.Error()
			x.rec.Record(sr.Label, sr.Outcome, sr.Reason)
			sr.Artifact = x.rec.Capture(ctx, "fail_"+sr.Label)
		}
		return sr, nil

	case KindCapture:
		sr.Artifact = x.rec.Capture(ctx, sr.Label)
		sr.Outcome = results.OutcomePass
		return sr, nil

	case KindWaitReady:
		sr.Attempts = 1
		if werr := x.engine.Visible(ctx, st.Target, x.budget(st)); werr != nil {
			sr.Outcome = results.OutcomeFail
			sr.Reason = werr.Error()
			return sr, fmt.Errorf("%w: %s: %w", ErrFatal, sr.Label, werr)
		}
		sr.Outcome = results.OutcomePass
		return sr, nil
	}

	attempts, aerr := q.act(ctx, x, st)
	sr.Attempts = attempts
	if aerr != nil {
		sr.Outcome = results.OutcomeFail
		sr.Reason = aerr.Error()
		return sr, fmt.Errorf("%w: %s: %w", ErrFatal, sr.Label, aerr)
	}
	sr.Outcome = results.OutcomePass
	return sr, nil
}

// act waits for the step's target and then performs it, retrying the action
// with exponential backoff. The precondition wait itself is not retried.
func (q *Sequencer) act(ctx context.Context, x *execution, st Step) (int, error) {
	if err := x.precondition(ctx, st); err != nil {
		return 0, err
	}

	attempts := q.opts.Retry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := q.opts.Retry.Backoff

	for n := 1; ; n++ {
		err := x.perform(ctx, st)
		if err == nil {
			return n, nil
		}
		if n >= attempts || !retryable(ctx, err) {
			return n, err
		}
		x.logger.Debug("Action failed, retrying.",
			zap.String("step", st.Name()),
			zap.Int("attempt", n),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return n, err
			case <-timer.C:
			}
		}
		backoff *= 2
		if maxBackoff := q.opts.Retry.MaxBackoff; maxBackoff > 0 && backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, browser.ErrSessionClosed)
}

// execution is the per-run state shared by the steps of one scenario.
type execution struct {
	drv      Driver
	engine   *wait.Engine
	fixtures *Fixtures
	rec      *reporting.Recorder
	logger   *zap.Logger
	baseURL  string
}

func (x *execution) budget(st Step) time.Duration {
	switch {
	case st.Timeout > 0:
		return st.Timeout
	case st.Tier == TierBoot:
		return x.engine.Boot()
	default:
		return x.engine.Settle()
	}
}

func (x *execution) precondition(ctx context.Context, st Step) error {
	switch st.Kind {
	case KindClick, KindDoubleClick, KindDrag, KindFill:
		return x.engine.Visible(ctx, st.Target, x.budget(st))
	case KindUpload:
		// File inputs are usually styled away; presence is enough.
		return x.engine.Count(ctx, st.Target, wait.AtLeast(1), x.budget(st))
	}
	return nil
}

func (x *execution) perform(ctx context.Context, st Step) error {
	switch st.Kind {
	case KindNavigate:
		return x.drv.Navigate(ctx, x.resolveURL(st.URL))
	case KindReload:
		return x.drv.Reload(ctx)
	case KindResize:
		return x.drv.SetViewport(ctx, st.Viewport)
	case KindClick:
		return x.drv.Click(ctx, st.Target)
	case KindDoubleClick:
		return x.drv.DoubleClick(ctx, st.Target)
	case KindDrag:
		return x.drv.Drag(ctx, st.Target, st.DX, st.DY)
	case KindFill:
		return x.drv.Fill(ctx, st.Target, st.Text)
	case KindUpload:
		path, err := x.fixtures.Path(st.Fixture)
		if err != nil {
			return err
		}
		return x.drv.Upload(ctx, st.Target, path)
	case KindPress:
		return x.drv.Press(ctx, st.Keys)
	}
	return fmt.Errorf("step kind %q is not an action", st.Kind)
}

func (x *execution) checkpoint(ctx context.Context, st Step) error {
	cond, err := st.Condition()
	if err != nil {
		return err
	}
	if err := x.engine.Until(ctx, cond, x.budget(st)); err != nil {
		return err
	}
	if st.Check.held() {
		return x.engine.Hold(ctx, cond, st.Window)
	}
	return nil
}

// resolveURL resolves ref against the base URL. Absolute refs pass through.
func (x *execution) resolveURL(ref string) string {
	if x.baseURL == "" {
		return ref
	}
	if ref == "" {
		return x.baseURL
	}
	base, err := url.Parse(x.baseURL)
	if err != nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
