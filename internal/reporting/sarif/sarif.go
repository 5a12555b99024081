// Package sarif holds the subset of the SARIF 2.1.0 object model the
// harness emits. Pointers are used for optional fields.
package sarif

type Log struct {
	Version string `json:"version"`
	Schema  string `json:"$schema"`
	Runs    []*Run `json:"runs"`
}

type Run struct {
	Tool              *Tool                 `json:"tool"`
	AutomationDetails *RunAutomationDetails `json:"automationDetails,omitempty"`
	Invocations       []*Invocation         `json:"invocations,omitempty"`
	Results           []*Result             `json:"results"`
}

type Tool struct {
	Driver *ToolComponent `json:"driver"`
}

type ToolComponent struct {
	Name           string                 `json:"name"`
	Version        *string                `json:"version,omitempty"`
	InformationURI *string                `json:"informationUri,omitempty"`
	Rules          []*ReportingDescriptor `json:"rules,omitempty"`
}

// RunAutomationDetails identifies the run so CI viewers can group uploads.
type RunAutomationDetails struct {
	ID *string `json:"id,omitempty"`
}

type Invocation struct {
	ExecutionSuccessful bool    `json:"executionSuccessful"`
	StartTimeUTC        *string `json:"startTimeUtc,omitempty"`
	EndTimeUTC          *string `json:"endTimeUtc,omitempty"`
	ExitCode            *int    `json:"exitCode,omitempty"`
}

type ReportingDescriptor struct {
	ID               string                    `json:"id"`
	Name             *string                   `json:"name,omitempty"`
	ShortDescription *MultiformatMessageString `json:"shortDescription,omitempty"`
	FullDescription  *MultiformatMessageString `json:"fullDescription,omitempty"`
	Help             *MultiformatMessageString `json:"help,omitempty"`
	Properties       *PropertyBag              `json:"properties,omitempty"`
}

type Result struct {
	RuleID     string       `json:"ruleId"`
	Message    *Message     `json:"message"`
	Level      Level        `json:"level,omitempty"`
	Locations  []*Location  `json:"locations,omitempty"`
	Properties *PropertyBag `json:"properties,omitempty"`
}

type Location struct {
	PhysicalLocation *PhysicalLocation `json:"physicalLocation,omitempty"`
	Message          *Message          `json:"message,omitempty"`
}

type PhysicalLocation struct {
	ArtifactLocation *ArtifactLocation `json:"artifactLocation,omitempty"`
}

type ArtifactLocation struct {
	URI *string `json:"uri,omitempty"`
}

type Message struct {
	Text *string `json:"text,omitempty"`
}

type MultiformatMessageString struct {
	Text     *string `json:"text"`
	Markdown *string `json:"markdown,omitempty"`
}

type PropertyBag map[string]interface{}

type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelNote    Level = "note"
)
