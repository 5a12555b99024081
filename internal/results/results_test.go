package results

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func checkpoint(label string, o Outcome) StepResult {
	return StepResult{Kind: "checkpoint", Label: label, Checkpoint: true, Outcome: o}
}

func TestScenarioResultTransitions(t *testing.T) {
	r := NewScenarioResult("run-1", "approval", "upload then approve")
	assert.Equal(t, StateIdle, r.State)

	r.State = StateRunning
	r.Abort("boot timed out")
	assert.Equal(t, StateAborted, r.State)
	assert.Equal(t, "boot timed out", r.AbortReason)

	// Terminal states are sticky.
	r.Complete()
	r.Abort("second reason")
	assert.Equal(t, StateAborted, r.State)
	assert.Equal(t, "boot timed out", r.AbortReason)
}

func TestScenarioResultCounters(t *testing.T) {
	r := NewScenarioResult("run-1", "fixes", "")
	r.Add(StepResult{Kind: "click", Label: "open finance", Outcome: OutcomePass})
	r.Add(checkpoint("challenges header", OutcomePass))
	r.Add(checkpoint("pending notification", OutcomeFail))
	r.Add(StepResult{Kind: "click", Label: "approve", Outcome: OutcomeFail})
	r.Add(checkpoint("posted", OutcomeSkipped))
	r.Complete()

	assert.Equal(t, 1, r.Passed())
	assert.Equal(t, 1, r.Failed())
	assert.Equal(t, 1, r.Skipped())
	assert.False(t, r.OK())
	assert.Len(t, r.FailedSteps(), 2)

	r.StartedAt = time.Unix(100, 0)
	r.FinishedAt = time.Unix(103, 0)
	assert.Equal(t, 3*time.Second, r.Duration())
}

func TestExitCode(t *testing.T) {
	passing := NewScenarioResult("r", "boot", "")
	passing.Add(checkpoint("start visible", OutcomePass))
	passing.Complete()

	failing := NewScenarioResult("r", "palette", "")
	failing.Add(checkpoint("palette closed", OutcomeFail))
	failing.Complete()

	aborted := NewScenarioResult("r", "spaces", "")
	aborted.State = StateBooting
	aborted.Abort("boot timed out")

	tests := []struct {
		name      string
		scenarios []*ScenarioResult
		launchErr string
		policy    bool
		want      int
	}{
		{"all pass", []*ScenarioResult{passing}, "", true, ExitOK},
		{"checkpoint fail with policy", []*ScenarioResult{passing, failing}, "", true, ExitCheckpointFailed},
		{"checkpoint fail without policy", []*ScenarioResult{passing, failing}, "", false, ExitOK},
		{"aborted ignores policy", []*ScenarioResult{failing, aborted}, "", false, ExitAborted},
		{"launch failure", nil, "chrome not found", false, ExitAborted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := NewRunReport("r")
			rep.Scenarios = append(rep.Scenarios, tt.scenarios...)
			rep.LaunchError = tt.launchErr
			assert.Equal(t, tt.want, rep.ExitCode(tt.policy))
		})
	}
}

func TestFinalizeSummary(t *testing.T) {
	a := NewScenarioResult("r", "a", "")
	a.Add(checkpoint("x", OutcomePass))
	a.Add(checkpoint("y", OutcomePass))
	a.Complete()
	b := NewScenarioResult("r", "b", "")
	b.Add(checkpoint("z", OutcomeSkipped))
	b.Abort("fatal")

	rep := NewRunReport("r")
	rep.Scenarios = []*ScenarioResult{a, b, nil}
	rep.Finalize()

	assert.Equal(t, Summary{Scenarios: 2, Completed: 1, Aborted: 1, Passed: 2, Skipped: 1}, rep.Summary)
	assert.False(t, rep.FinishedAt.IsZero())
}
