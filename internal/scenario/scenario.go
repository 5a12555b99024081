// Package scenario runs ordered browser steps against one session and turns
// them into a results.ScenarioResult.
package scenario

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/scalpel-e2e/internal/browser"
	"github.com/xkilldash9x/scalpel-e2e/internal/browser/intercept"
	"github.com/xkilldash9x/scalpel-e2e/internal/config"
)

// ErrFatal marks a step error that aborts the rest of the scenario.
var ErrFatal = errors.New("fatal step error")

// Scenario is a named user journey.
type Scenario struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Tags        []string         `yaml:"tags"`
	Viewport    browser.Viewport `yaml:"viewport"`
	// Stubs are added to the run's rules for this scenario only.
	Stubs []config.StubConfig `yaml:"stubs"`
	Steps []Step              `yaml:"steps"`

	// Rules are code-defined stubs, applied after Stubs.
	Rules []intercept.Rule `yaml:"-"`
}

// Validate checks the name and every step.
func (s Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("scenario %q has no steps", s.Name)
	}
	for i, st := range s.Steps {
		if err := st.Validate(); err != nil {
			return fmt.Errorf("scenario %q step %d: %w", s.Name, i, err)
		}
	}
	return nil
}

// StubRules returns base with the scenario's declared stubs and rules merged
// in. Scenario rules replace base rules with the same pattern.
func (s Scenario) StubRules(base []intercept.Rule) ([]intercept.Rule, error) {
	declared, err := intercept.RulesFromConfig(s.Stubs)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", s.Name, err)
	}
	rules := intercept.Merge(base, declared...)
	return intercept.Merge(rules, s.Rules...), nil
}

// HasTag reports whether the scenario carries tag.
func (s Scenario) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
