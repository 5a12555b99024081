package reporting

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-e2e/internal/observability"
	"github.com/xkilldash9x/scalpel-e2e/internal/reporting/sarif"
	"github.com/xkilldash9x/scalpel-e2e/internal/results"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName     = "scalpel-e2e"
	ToolInfoURI  = "https://github.com/xkilldash9x/scalpel-e2e"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"

	// AbortedRuleID is shared by every aborted scenario.
	AbortedRuleID = "E2E-SCENARIO-ABORTED"
)

// ruleIDSanitizer keeps alphanumerics, underscore and dot; every other run
// of characters becomes one hyphen.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.]+`)

// RuleFingerprint identifies a checkpoint definition by scenario and label.
type RuleFingerprint string

func calculateFingerprint(scenario, label string) RuleFingerprint {
	h := sha1.New()
	_, _ = h.Write([]byte(scenario + "\x00" + label))
	return RuleFingerprint(hex.EncodeToString(h.Sum(nil)))
}

// SARIFReporter emits one result per failed checkpoint and one per aborted
// scenario. It is safe for concurrent use.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	log    *sarif.Log

	mu                 sync.Mutex
	rulesByFingerprint map[RuleFingerprint]string
	ruleIDUsage        map[string]int
}

// NewSARIFReporter creates a reporter that owns writer.
func NewSARIFReporter(writer io.WriteCloser, toolVersion string) *SARIFReporter {
	log := &sarif.Log{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{
					Driver: &sarif.ToolComponent{
						Name:           ToolName,
						Version:        pString(toolVersion),
						InformationURI: pString(ToolInfoURI),
						Rules:          []*sarif.ReportingDescriptor{},
					},
				},
				Results: []*sarif.Result{},
			},
		},
	}

	return &SARIFReporter{
		writer:             writer,
		logger:             observability.GetLogger().Named("sarif_reporter"),
		log:                log,
		rulesByFingerprint: make(map[RuleFingerprint]string),
		ruleIDUsage:        make(map[string]int),
	}
}

// Write converts report into SARIF results. Output is produced by Close.
func (r *SARIFReporter) Write(report *results.RunReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	run.AutomationDetails = &sarif.RunAutomationDetails{ID: pString("scalpel-e2e/" + report.RunID)}

	exit := report.ExitCode(true)
	inv := &sarif.Invocation{ExecutionSuccessful: report.LaunchError == "", ExitCode: &exit}
	if !report.StartedAt.IsZero() {
		inv.StartTimeUTC = pString(report.StartedAt.UTC().Format(time.RFC3339))
	}
	if !report.FinishedAt.IsZero() {
		inv.EndTimeUTC = pString(report.FinishedAt.UTC().Format(time.RFC3339))
	}
	run.Invocations = []*sarif.Invocation{inv}

	count := 0
	for _, sc := range report.Scenarios {
		for _, step := range sc.Steps {
			if !step.Checkpoint || step.Outcome != results.OutcomeFail {
				continue
			}
			ruleID := r.ensureRule(sc.Scenario, step.Label)
			text := fmt.Sprintf("Checkpoint %q failed: %s", step.Label, step.Reason)
			run.Results = append(run.Results, &sarif.Result{
				RuleID:    ruleID,
				Message:   &sarif.Message{Text: pString(text)},
				Level:     sarif.LevelError,
				Locations: r.createLocations(report.BaseURL, step.Artifact, sc),
				Properties: &sarif.PropertyBag{
					"scenario": sc.Scenario,
					"step":     step.Index,
					"run_id":   sc.RunID,
				},
			})
			count++
		}

		if sc.State == results.StateAborted {
			r.ensureAbortedRule()
			run.Results = append(run.Results, &sarif.Result{
				RuleID:    AbortedRuleID,
				Message:   &sarif.Message{Text: pString(fmt.Sprintf("Scenario %q aborted: %s", sc.Scenario, sc.AbortReason))},
				Level:     sarif.LevelError,
				Locations: r.createLocations(report.BaseURL, lastArtifact(sc), sc),
				Properties: &sarif.PropertyBag{
					"scenario": sc.Scenario,
					"run_id":   sc.RunID,
				},
			})
			count++
		}
	}

	r.logger.Debug("Converted run to SARIF results.", zap.Int("results", count))
	return nil
}

// Close encodes the log and closes the writer.
func (r *SARIFReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	r.logger.Debug("Finalizing SARIF report",
		zap.Int("total_results", len(run.Results)),
		zap.Int("total_rules", len(run.Tool.Driver.Rules)),
	)

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	encodeErr := encoder.Encode(r.log)
	closeErr := r.writer.Close()

	if encodeErr != nil {
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}

func sanitizeRuleName(name string) string {
	s := strings.ToUpper(name)
	s = ruleIDSanitizer.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "UNNAMED-CHECKPOINT"
	}
	return s
}

// ensureRule returns the rule ID for a checkpoint, registering it on first
// use. Two checkpoints whose names sanitize to the same ID get a numeric
// suffix. Must be called with mu held.
func (r *SARIFReporter) ensureRule(scenario, label string) string {
	fp := calculateFingerprint(scenario, label)
	if id, ok := r.rulesByFingerprint[fp]; ok {
		return id
	}

	base := "E2E-" + sanitizeRuleName(scenario) + "." + sanitizeRuleName(label)
	usage := r.ruleIDUsage[base]
	r.ruleIDUsage[base] = usage + 1
	id := base
	if usage > 0 {
		id = fmt.Sprintf("%s-%d", base, usage)
	}

	markdown := fmt.Sprintf("**Scenario:** %s\n\n**Checkpoint:** %s\n\nSee the screenshots in the scenario's artifact directory.", scenario, label)
	driver := r.log.Runs[0].Tool.Driver
	driver.Rules = append(driver.Rules, &sarif.ReportingDescriptor{
		ID:               id,
		Name:             pString(label),
		ShortDescription: &sarif.MultiformatMessageString{Text: pString(label)},
		FullDescription:  &sarif.MultiformatMessageString{Text: pString(fmt.Sprintf("Checkpoint %q of scenario %q", label, scenario))},
		Help: &sarif.MultiformatMessageString{
			Text:     pString("Compare the failure screenshot against the expected UI state."),
			Markdown: pString(markdown),
		},
		Properties: &sarif.PropertyBag{
			"tags":     []string{"e2e", "checkpoint"},
			"scenario": scenario,
		},
	})
	r.rulesByFingerprint[fp] = id
	return id
}

func (r *SARIFReporter) ensureAbortedRule() {
	fp := RuleFingerprint(AbortedRuleID)
	if _, ok := r.rulesByFingerprint[fp]; ok {
		return
	}
	driver := r.log.Runs[0].Tool.Driver
	driver.Rules = append(driver.Rules, &sarif.ReportingDescriptor{
		ID:               AbortedRuleID,
		Name:             pString("Scenario aborted"),
		ShortDescription: &sarif.MultiformatMessageString{Text: pString("A fatal action error stopped the scenario")},
		Properties: &sarif.PropertyBag{
			"tags": []string{"e2e", "fatal"},
		},
	})
	r.rulesByFingerprint[fp] = AbortedRuleID
}

// createLocations points at the screenshot when there is one, else the
// application URL.
func (r *SARIFReporter) createLocations(baseURL, artifact string, sc *results.ScenarioResult) []*sarif.Location {
	uri := artifact
	if uri == "" {
		uri = baseURL
	}
	if uri == "" {
		return nil
	}
	return []*sarif.Location{{
		PhysicalLocation: &sarif.PhysicalLocation{
			ArtifactLocation: &sarif.ArtifactLocation{URI: pString(uri)},
		},
		Message: &sarif.Message{Text: pString("Scenario " + sc.Scenario)},
	}}
}

func lastArtifact(sc *results.ScenarioResult) string {
	if len(sc.Artifacts) == 0 {
		return ""
	}
	return sc.Artifacts[len(sc.Artifacts)-1]
}

func pString(s string) *string {
	return &s
}
