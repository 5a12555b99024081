package scenario

import (
	"fmt"
	"time"

	"github.com/xkilldash9x/scalpel-e2e/internal/browser"
	"github.com/xkilldash9x/scalpel-e2e/internal/locator"
	"github.com/xkilldash9x/scalpel-e2e/internal/wait"
)

// Kind names a step type.
type Kind string

const (
	KindNavigate    Kind = "navigate"
	KindReload      Kind = "reload"
	KindResize      Kind = "resize"
	KindClick       Kind = "click"
	KindDoubleClick Kind = "double_click"
	KindDrag        Kind = "drag"
	KindFill        Kind = "fill"
	KindUpload      Kind = "upload"
	KindPress       Kind = "press"
	KindCheckpoint  Kind = "checkpoint"
	KindCapture     Kind = "capture"
	KindWaitReady   Kind = "wait_ready"
)

// IsAction reports whether the kind drives the page and is retried on error.
func (k Kind) IsAction() bool {
	switch k {
	case KindNavigate, KindReload, KindResize, KindClick, KindDoubleClick, KindDrag, KindFill, KindUpload, KindPress:
		return true
	}
	return false
}

// needsTarget lists the kinds that act on an element.
func (k Kind) needsTarget() bool {
	switch k {
	case KindClick, KindDoubleClick, KindDrag, KindFill, KindUpload, KindWaitReady:
		return true
	}
	return false
}

// Check is the condition a checkpoint asserts.
type Check string

const (
	CheckVisible     Check = "visible"
	CheckHidden      Check = "hidden"
	CheckText        Check = "text"
	CheckTextAbsent  Check = "text_absent"
	CheckCount       Check = "count"
	CheckMinWidth    Check = "min_width"
	CheckHeldVisible Check = "hold"
	CheckHeldHidden  Check = "hold_hidden"
)

// held reports whether the check must keep holding after it first passes.
func (c Check) held() bool { return c == CheckHeldVisible || c == CheckHeldHidden }

// Tier selects the default budget of a wait.
type Tier string

const (
	TierSettle Tier = "settle"
	TierBoot   Tier = "boot"
)

// CountSpec is the serializable form of a wait.CountPredicate.
type CountSpec struct {
	Op string `yaml:"op" json:"op"`
	N  int    `yaml:"n" json:"n"`
}

// Predicate converts the CountSpec. Op is one of at_least (default), exactly or
// at_most.
func (c CountSpec) Predicate() (wait.CountPredicate, error) {
	switch c.Op {
	case "", "at_least", ">=":
		return wait.AtLeast(c.N), nil
	case "exactly", "==":
		return wait.Exactly(c.N), nil
	case "at_most", "<=":
		return wait.AtMost(c.N), nil
	default:
		return wait.CountPredicate{}, fmt.Errorf("unknown count op %q", c.Op)
	}
}

// Step is one instruction of a scenario. Which fields matter depends on Kind.
type Step struct {
	Kind  Kind   `yaml:"kind"`
	Label string `yaml:"label"`

	Target locator.Locator `yaml:"target"`
	// URL is resolved against the application base URL; empty means the base.
	URL      string           `yaml:"url"`
	Text     string           `yaml:"text"`
	Keys     string           `yaml:"keys"`
	Viewport browser.Viewport `yaml:"viewport"`
	DX       float64          `yaml:"dx"`
	DY       float64          `yaml:"dy"`
	Fixture  string           `yaml:"fixture"`

	Check    Check      `yaml:"check"`
	Count    *CountSpec `yaml:"count"`
	MinWidth float64    `yaml:"min_width"`
	// Window is how long a hold check must stay true.
	Window time.Duration `yaml:"window"`

	Tier    Tier          `yaml:"tier"`
	Timeout time.Duration `yaml:"timeout"`
}

// Name is the label used in transcripts and reports.
func (s Step) Name() string {
	if s.Label != "" {
		return s.Label
	}
	switch s.Kind {
	case KindNavigate:
		if s.URL == "" {
			return "navigate"
		}
		return "navigate " + s.URL
	case KindResize:
		return "resize " + s.Viewport.String()
	case KindPress:
		return "press " + s.Keys
	case KindFill:
		return fmt.Sprintf("fill %s with %q", s.Target, s.Text)
	case KindCheckpoint:
		if s.Check == CheckText || s.Check == CheckTextAbsent {
			return fmt.Sprintf("%s %q", s.Check, s.Text)
		}
		return fmt.Sprintf("%s %s", s.Check, s.Target)
	}
	if !s.Target.IsZero() {
		return fmt.Sprintf("%s %s", s.Kind, s.Target)
	}
	return string(s.Kind)
}

// Validate reports a step that could never run.
func (s Step) Validate() error {
	switch s.Kind {
	case KindNavigate, KindReload, KindCapture:
	case KindClick, KindDoubleClick, KindDrag, KindFill, KindUpload, KindWaitReady:
	case KindResize:
		if s.Viewport.Width <= 0 || s.Viewport.Height <= 0 {
			return fmt.Errorf("%s: viewport must be positive", s.Kind)
		}
	case KindPress:
		if _, err := browser.ParseCombo(s.Keys); err != nil {
			return fmt.Errorf("%s: %w", s.Kind, err)
		}
	case KindCheckpoint:
		if _, err := s.Condition(); err != nil {
			return err
		}
	case "":
		return fmt.Errorf("step kind is required")
	default:
		return fmt.Errorf("unknown step kind %q", s.Kind)
	}
	if s.Kind.needsTarget() {
		if err := s.Target.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.Kind, err)
		}
	}
	return nil
}

// Condition builds the wait condition a checkpoint asserts. For hold checks
// it returns the condition that must stay true.
func (s Step) Condition() (wait.Condition, error) {
	switch s.Check {
	case CheckVisible, CheckHeldVisible:
		if err := s.Target.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", s.Check, err)
		}
		return wait.Visible(s.Target), nil
	case CheckHidden, CheckHeldHidden:
		if err := s.Target.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", s.Check, err)
		}
		return wait.Hidden(s.Target), nil
	case CheckText:
		if s.Text == "" {
			return nil, fmt.Errorf("text check needs text")
		}
		return wait.TextPresent(s.Text), nil
	case CheckTextAbsent:
		if s.Text == "" {
			return nil, fmt.Errorf("text_absent check needs text")
		}
		return wait.Not(wait.TextPresent(s.Text)), nil
	case CheckCount:
		if err := s.Target.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", s.Check, err)
		}
		spec := CountSpec{N: 1}
		if s.Count != nil {
			spec = *s.Count
		}
		pred, err := spec.Predicate()
		if err != nil {
			return nil, err
		}
		return wait.Count(s.Target, pred), nil
	case CheckMinWidth:
		if err := s.Target.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", s.Check, err)
		}
		return wait.MinWidth(s.Target, s.MinWidth), nil
	case "":
		return nil, fmt.Errorf("checkpoint needs a check")
	default:
		return nil, fmt.Errorf("unknown check %q", s.Check)
	}
}

// Navigate loads url, relative to the application base URL.
func Navigate(url string) Step { return Step{Kind: KindNavigate, URL: url} }

func Reload() Step { return Step{Kind: KindReload} }

func Resize(v browser.Viewport) Step { return Step{Kind: KindResize, Viewport: v} }

func Click(l locator.Locator) Step { return Step{Kind: KindClick, Target: l} }

func DoubleClick(l locator.Locator) Step { return Step{Kind: KindDoubleClick, Target: l} }

func Drag(l locator.Locator, dx, dy float64) Step {
	return Step{Kind: KindDrag, Target: l, DX: dx, DY: dy}
}

func Fill(l locator.Locator, text string) Step { return Step{Kind: KindFill, Target: l, Text: text} }

// Upload sets a generated fixture file named fixture on the file input l.
func Upload(l locator.Locator, fixture string) Step {
	return Step{Kind: KindUpload, Target: l, Fixture: fixture}
}

func Press(keys string) Step { return Step{Kind: KindPress, Keys: keys} }

// Capture takes a milestone screenshot.
func Capture(name string) Step { return Step{Kind: KindCapture, Label: name} }

// WaitReady waits on the boot tier for l to show up and aborts the scenario
// when it never does.
func WaitReady(label string, l locator.Locator) Step {
	return Step{Kind: KindWaitReady, Label: label, Target: l, Tier: TierBoot}
}

func ExpectVisible(label string, l locator.Locator) Step {
	return Step{Kind: KindCheckpoint, Label: label, Check: CheckVisible, Target: l}
}

func ExpectHidden(label string, l locator.Locator) Step {
	return Step{Kind: KindCheckpoint, Label: label, Check: CheckHidden, Target: l}
}

func ExpectText(label, text string) Step {
	return Step{Kind: KindCheckpoint, Label: label, Check: CheckText, Text: text}
}

func ExpectNoText(label, text string) Step {
	return Step{Kind: KindCheckpoint, Label: label, Check: CheckTextAbsent, Text: text}
}

func ExpectCount(label string, l locator.Locator, c CountSpec) Step {
	return Step{Kind: KindCheckpoint, Label: label, Check: CheckCount, Target: l, Count: &c}
}

func ExpectMinWidth(label string, l locator.Locator, px float64) Step {
	return Step{Kind: KindCheckpoint, Label: label, Check: CheckMinWidth, Target: l, MinWidth: px}
}

// ExpectHeld asserts l becomes visible and then stays visible for window.
func ExpectHeld(label string, l locator.Locator, window time.Duration) Step {
	return Step{Kind: KindCheckpoint, Label: label, Check: CheckHeldVisible, Target: l, Window: window}
}

// ExpectGone asserts l disappears and does not come back within window.
func ExpectGone(label string, l locator.Locator, window time.Duration) Step {
	return Step{Kind: KindCheckpoint, Label: label, Check: CheckHeldHidden, Target: l, Window: window}
}

// OnBoot moves the step's wait to the long tier.
func (s Step) OnBoot() Step {
	s.Tier = TierBoot
	return s
}

// Within overrides the step's wait budget.
func (s Step) Within(d time.Duration) Step {
	s.Timeout = d
	return s
}

// Labeled sets the step label.
func (s Step) Labeled(label string) Step {
	s.Label = label
	return s
}
