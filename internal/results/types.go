package results

import (
	"time"
)

// Outcome is the explicit result of one step.
type Outcome string

const (
	OutcomePass    Outcome = "PASS"
	OutcomeFail    Outcome = "FAIL"
	OutcomeSkipped Outcome = "SKIP"
)

// State tracks a scenario through Idle -> Booting -> Running -> Completed | Aborted.
type State string

const (
	StateIdle      State = "idle"
	StateBooting   State = "booting"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateCompleted || s == StateAborted }

// StepResult records one executed (or skipped) step.
type StepResult struct {
	Index int    `json:"index"`
	Kind  string `json:"kind"`
	Label string `json:"label"`
	// Checkpoint marks assertions. Only checkpoints feed the pass/fail counters;
	// a failed action shows up as an aborted scenario instead.
	Checkpoint bool          `json:"checkpoint"`
	Outcome    Outcome       `json:"outcome"`
	Reason     string        `json:"reason,omitempty"`
	Attempts   int           `json:"attempts,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	Artifact   string        `json:"artifact,omitempty"`
}

// ScenarioResult is the outcome of one scenario run.
type ScenarioResult struct {
	Scenario    string       `json:"scenario"`
	Description string       `json:"description,omitempty"`
	RunID       string       `json:"run_id"`
	SessionID   string       `json:"session_id,omitempty"`
	State       State        `json:"state"`
	Steps       []StepResult `json:"steps"`
	AbortReason string       `json:"abort_reason,omitempty"`
	Artifacts   []string     `json:"artifacts,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
}

// NewScenarioResult starts a result in the Idle state.
func NewScenarioResult(runID, scenario, description string) *ScenarioResult {
	return &ScenarioResult{
		Scenario:    scenario,
		Description: description,
		RunID:       runID,
		State:       StateIdle,
		Steps:       []StepResult{},
	}
}

// Abort moves the scenario to Aborted with reason. An already terminal result
// is left untouched.
func (r *ScenarioResult) Abort(reason string) {
	if r.State.Terminal() {
		return
	}
	r.State = StateAborted
	r.AbortReason = reason
}

// Complete moves a non-terminal scenario to Completed.
func (r *ScenarioResult) Complete() {
	if r.State.Terminal() {
		return
	}
	r.State = StateCompleted
}

// Add appends a step result.
func (r *ScenarioResult) Add(s StepResult) {
	r.Steps = append(r.Steps, s)
}

// AddArtifact records a written artifact path.
func (r *ScenarioResult) AddArtifact(path string) {
	if path != "" {
		r.Artifacts = append(r.Artifacts, path)
	}
}

func (r *ScenarioResult) countCheckpoints(o Outcome) int {
	n := 0
	for _, s := range r.Steps {
		if s.Checkpoint && s.Outcome == o {
			n++
		}
	}
	return n
}

// Passed is the number of passing checkpoints.
func (r *ScenarioResult) Passed() int { return r.countCheckpoints(OutcomePass) }

// Failed is the number of failing checkpoints.
func (r *ScenarioResult) Failed() int { return r.countCheckpoints(OutcomeFail) }

// Skipped is the number of checkpoints never evaluated.
func (r *ScenarioResult) Skipped() int { return r.countCheckpoints(OutcomeSkipped) }

// OK reports a completed scenario with no failed checkpoint.
func (r *ScenarioResult) OK() bool { return r.State == StateCompleted && r.Failed() == 0 }

// Duration is the wall time of the run.
func (r *ScenarioResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// FailedSteps returns every step whose outcome is FAIL, checkpoint or not.
func (r *ScenarioResult) FailedSteps() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Outcome == OutcomeFail {
			out = append(out, s)
		}
	}
	return out
}
