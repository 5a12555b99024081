package reporting

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/xkilldash9x/scalpel-e2e/internal/results"
)

// TextReporter prints a per-scenario table, the failures and a totals line.
type TextReporter struct {
	writer io.WriteCloser
}

func NewTextReporter(w io.WriteCloser) *TextReporter {
	return &TextReporter{writer: w}
}

func (r *TextReporter) Write(report *results.RunReport) error {
	s := results.Summarize(report.Scenarios)

	fmt.Fprintf(r.writer, "\nRun %s against %s\n\n", report.RunID, report.BaseURL)
	if report.LaunchError != "" {
		fmt.Fprintf(r.writer, "BROWSER LAUNCH FAILED: %s\n", report.LaunchError)
	}

	tw := tabwriter.NewWriter(r.writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tSTATE\tPASS\tFAIL\tSKIP\tDURATION")
	for _, sc := range report.Scenarios {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
			sc.Scenario, sc.State, sc.Passed(), sc.Failed(), sc.Skipped(), sc.Duration().Round(time.Millisecond))
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write text report: %w", err)
	}

	for _, sc := range report.Scenarios {
		if sc.State == results.StateAborted {
			fmt.Fprintf(r.writer, "\n[%s] ABORTED: %s\n", sc.Scenario, sc.AbortReason)
		}
		for _, step := range sc.FailedSteps() {
			fmt.Fprintf(r.writer, "[%s] FAIL: %s: %s\n", sc.Scenario, step.Label, step.Reason)
		}
	}

	_, err := fmt.Fprintf(r.writer, "\n%d scenarios: %d completed, %d aborted. Checkpoints: %d passed, %d failed, %d skipped.\n",
		s.Scenarios, s.Completed, s.Aborted, s.Passed, s.Failed, s.Skipped)
	return err
}

func (r *TextReporter) Close() error {
	if err := r.writer.Close(); err != nil {
		return fmt.Errorf("failed to close output writer: %w", err)
	}
	return nil
}
