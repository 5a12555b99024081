package results

import (
	"time"
)

// Process exit codes.
const (
	ExitOK               = 0
	ExitCheckpointFailed = 1
	ExitAborted          = 2
)

// Summary aggregates a run.
type Summary struct {
	Scenarios int `json:"scenarios"`
	Completed int `json:"completed"`
	Aborted   int `json:"aborted"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// RunReport collects every scenario result of one invocation.
type RunReport struct {
	RunID      string            `json:"run_id"`
	Version    string            `json:"version,omitempty"`
	BaseURL    string            `json:"base_url,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Scenarios  []*ScenarioResult `json:"scenarios"`
	Summary    Summary           `json:"summary"`
	// LaunchError is set when the browser never started.
	LaunchError string `json:"launch_error,omitempty"`
}

// NewRunReport starts an empty report.
func NewRunReport(runID string) *RunReport {
	return &RunReport{RunID: runID, StartedAt: time.Now(), Scenarios: []*ScenarioResult{}}
}

// Finalize stamps the end time and recomputes the summary.
func (r *RunReport) Finalize() {
	r.FinishedAt = time.Now()
	r.Summary = Summarize(r.Scenarios)
}

// Summarize counts scenario states and checkpoint outcomes.
func Summarize(scenarios []*ScenarioResult) Summary {
	var s Summary
	for _, sc := range scenarios {
		if sc == nil {
			continue
		}
		s.Scenarios++
		switch sc.State {
		case StateCompleted:
			s.Completed++
		case StateAborted:
			s.Aborted++
		}
		s.Passed += sc.Passed()
		s.Failed += sc.Failed()
		s.Skipped += sc.Skipped()
	}
	return s
}

// ExitCode maps the report to a process status. An aborted scenario or a
// launch failure is always 2. Failed checkpoints give 1 only when
// failOnCheckpoint is set.
func (r *RunReport) ExitCode(failOnCheckpoint bool) int {
	s := Summarize(r.Scenarios)
	switch {
	case r.LaunchError != "" || s.Aborted > 0:
		return ExitAborted
	case s.Failed > 0 && failOnCheckpoint:
		return ExitCheckpointFailed
	default:
		return ExitOK
	}
}
