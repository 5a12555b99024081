package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scalpel-e2e/internal/browser"
	"github.com/xkilldash9x/scalpel-e2e/internal/browser/intercept"
	"github.com/xkilldash9x/scalpel-e2e/internal/results"
)

// ManagerOpener opens every scenario in its own session of m, with base
// merged with the scenario's own stubs.
func ManagerOpener(m *browser.Manager, base []intercept.Rule) OpenFunc {
	return func(ctx context.Context, sc Scenario) (Session, error) {
		rules, err := sc.StubRules(base)
		if err != nil {
			return nil, err
		}
		s, err := m.NewSession(ctx, browser.SessionOptions{
			Name:     sc.Name,
			Viewport: sc.Viewport,
			Rules:    rules,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Runner runs scenarios in parallel, each in its own session.
type Runner struct {
	seq         *Sequencer
	concurrency int
	logger      *zap.Logger
}

// NewRunner creates a runner. A concurrency below one runs scenarios serially.
func NewRunner(seq *Sequencer, concurrency int, logger *zap.Logger) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{seq: seq, concurrency: concurrency, logger: logger.Named("runner")}
}

// RunAll runs every scenario and returns the finalized report. Results keep
// the order of scenarios regardless of completion order.
func (r *Runner) RunAll(ctx context.Context, scenarios []Scenario) *results.RunReport {
	report := results.NewRunReport(r.seq.RunID())
	report.BaseURL = r.seq.BaseURL()

	out := make([]*results.ScenarioResult, len(scenarios))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	r.logger.Info("Running scenarios.", zap.Int("count", len(scenarios)), zap.Int("concurrency", r.concurrency))

	for i, sc := range scenarios {
		g.Go(func() error {
			res, err := r.seq.Run(ctx, sc)
			out[i] = res
			if err != nil && errors.Is(err, browser.ErrBrowserLaunch) {
				mu.Lock()
				if report.LaunchError == "" {
					report.LaunchError = err.Error()
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Scenarios = out
	report.Finalize()
	r.logger.Info("Run complete.",
		zap.Int("completed", report.Summary.Completed),
		zap.Int("aborted", report.Summary.Aborted),
		zap.Int("failed_checkpoints", report.Summary.Failed),
	)
	return report
}

// Select returns the scenarios named in names, in the order given. An empty
// names selects all. A name prefixed with "tag:" selects every scenario
// carrying that tag.
func Select(all []Scenario, names []string) ([]Scenario, error) {
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]Scenario, len(all))
	for _, sc := range all {
		byName[sc.Name] = sc
	}

	var out []Scenario
	picked := make(map[string]bool)
	add := func(sc Scenario) {
		if !picked[sc.Name] {
			picked[sc.Name] = true
			out = append(out, sc)
		}
	}
	for _, n := range names {
		if tag, ok := strings.CutPrefix(n, "tag:"); ok {
			matched := false
			for _, sc := range all {
				if sc.HasTag(tag) {
					add(sc)
					matched = true
				}
			}
			if !matched {
				return nil, fmt.Errorf("no scenario tagged %q", tag)
			}
			continue
		}
		sc, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown scenario %q", n)
		}
		add(sc)
	}
	return out, nil
}
