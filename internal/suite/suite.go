// Package suite holds the built-in user journeys for the FINANCE_OS desktop
// and the stubs they run against.
package suite

import (
	"fmt"
	"time"

	"github.com/xkilldash9x/scalpel-e2e/internal/browser"
	"github.com/xkilldash9x/scalpel-e2e/internal/browser/intercept"
	"github.com/xkilldash9x/scalpel-e2e/internal/locator"
	"github.com/xkilldash9x/scalpel-e2e/internal/scenario"
)

// Placeholder of the command palette input.
const PalettePlaceholder = "BREACH_PROTOCOL_V.5.0..."

// Shared locators. The application exposes a test id only on window frames;
// everything else follows its markup.
var (
	StartButton   = locator.Button("START")
	FinanceButton = locator.Button("FINANCE").First()
	BootText      = locator.Text("WAKE_UP_SAMURAI...").Last()
	FileInput     = locator.CSS("input[type='file']").First()
	Palette       = locator.Placeholder(PalettePlaceholder)
	AppWindow     = locator.TestID("window-frame").First()
	ApproveButton = locator.Button("APP").First()
	// PendingStatus is the status cell, not the notification that also
	// mentions pending approval.
	PendingStatus = locator.Text("Pending Approval").ExactMatch()
	// NewestRow is the top entry of the recent transactions list, where a
	// scanned receipt lands.
	NewestRow     = locator.CSS("div.divide-y > div.group:first-child")
)

// Window locates the open window whose frame contains title.
func Window(title string) locator.Locator {
	return locator.CSS("[data-testid='window-frame']").WithText(title).First()
}

// DefaultRules stubs the generation API with the receipt the scenarios
// assert on.
func DefaultRules() ([]intercept.Rule, error) {
	gen, err := intercept.GenerationRule(intercept.DefaultGenerationPattern, intercept.DefaultGenerationFields)
	if err != nil {
		return nil, fmt.Errorf("generation stub: %w", err)
	}
	return []intercept.Rule{gen}, nil
}

// bootCheckpoints asserts the boot sequence on a page that is loading. suffix
// tells repeated runs apart in the transcript.
func bootCheckpoints(suffix string) []scenario.Step {
	return []scenario.Step{
		scenario.ExpectVisible("Boot sequence shown"+suffix, BootText).OnBoot(),
		scenario.ExpectHidden("Boot sequence cleared"+suffix, BootText).OnBoot(),
		scenario.WaitReady("Desktop ready"+suffix, StartButton),
		scenario.ExpectVisible("Start button visible"+suffix, StartButton),
		scenario.ExpectVisible("Network connected"+suffix, locator.Text("CONNECTED").First()),
	}
}

// bootSteps loads the application and waits for the desktop.
func bootSteps() []scenario.Step {
	return []scenario.Step{
		scenario.Navigate(""),
		scenario.WaitReady("Desktop ready", StartButton),
	}
}

func openFinance() scenario.Step {
	return scenario.DoubleClick(FinanceButton)
}

func steps(groups ...[]scenario.Step) []scenario.Step {
	var out []scenario.Step
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// All returns the built-in scenarios in their canonical order.
func All() []scenario.Scenario {
	return []scenario.Scenario{
		Boot(),
		BootIdempotent(),
		Calculator(),
		Approval(),
		Fixes(),
		Spaces(),
		ProTools(),
		Mobile(),
		CommandPalette(),
	}
}

// Names lists the scenario names of All.
func Names() []string {
	all := All()
	names := make([]string, len(all))
	for i, sc := range all {
		names[i] = sc.Name
	}
	return names
}

func Boot() scenario.Scenario {
	return scenario.Scenario{
		Name:        "boot",
		Description: "Boot text appears, clears, and the desktop comes up connected",
		Tags:        []string{"smoke"},
		Viewport:    browser.Desktop,
		Steps: steps(
			[]scenario.Step{scenario.Navigate("")},
			bootCheckpoints(""),
			[]scenario.Step{scenario.Capture("desktop")},
		),
	}
}

// BootIdempotent runs the boot checkpoints twice around a reload. Both runs
// must agree, and the window opened before the reload must come back.
func BootIdempotent() scenario.Scenario {
	terminal := Window("TERMINAL")
	return scenario.Scenario{
		Name:        "boot-idempotent",
		Description: "Boot checkpoints pass again after a reload and an open window survives it",
		Tags:        []string{"smoke"},
		Viewport:    browser.Desktop,
		Steps: steps(
			[]scenario.Step{scenario.Navigate("")},
			bootCheckpoints(""),
			[]scenario.Step{
				scenario.ExpectHidden("No terminal window yet", terminal),
				scenario.DoubleClick(locator.Text("TERMINAL").First()),
				scenario.ExpectVisible("Terminal open", terminal),
				scenario.Reload(),
			},
			bootCheckpoints(" after reload"),
			[]scenario.Step{
				scenario.ExpectVisible("Terminal restored", terminal),
				scenario.Capture("after reload"),
			},
		),
	}
}

func Calculator() scenario.Scenario {
	return scenario.Scenario{
		Name:        "calculator",
		Description: "The calculator multiplies 7 by 6",
		Tags:        []string{"smoke"},
		Viewport:    browser.Desktop,
		Steps: steps(bootSteps(), []scenario.Step{
			scenario.DoubleClick(locator.Text("CALC").First()),
			scenario.ExpectVisible("Calculator window", locator.Text("CALCULATOR").First()),
			scenario.Click(locator.Button("7").First()),
			scenario.Click(locator.Button("*").First()),
			scenario.Click(locator.Button("6").First()),
			scenario.Click(locator.Button("=").First()),
			scenario.ExpectVisible("Result is 42", locator.Text("42")),
		}),
	}
}

func Approval() scenario.Scenario {
	return scenario.Scenario{
		Name:        "approval",
		Description: "A scanned receipt waits for approval and posts once approved",
		Tags:        []string{"finance"},
		Viewport:    browser.Desktop,
		Steps: steps(bootSteps(), []scenario.Step{
			scenario.Upload(FileInput, "approval_receipt.jpg"),
			scenario.ExpectVisible("Approval notification", locator.Text("TRANSACTION PENDING APPROVAL")).Within(10 * time.Second),
			openFinance(),
			scenario.ExpectVisible("Receipt listed first", NewestRow.WithText(intercept.DefaultGenerationFields.Summary)),
			scenario.ExpectVisible("Transaction pending", PendingStatus),
			scenario.ExpectVisible("Approve button visible", ApproveButton),
			scenario.Click(ApproveButton),
			// Posted must not revert to pending.
			scenario.ExpectGone("Pending status cleared", PendingStatus, 2*time.Second),
			scenario.ExpectHeld("Transaction posted", NewestRow.WithText("Posted"), 2*time.Second),
			scenario.Capture("approval workflow"),
		}),
	}
}

func Fixes() scenario.Scenario {
	return scenario.Scenario{
		Name:        "fixes",
		Description: "Challenges widget header and pending state in the transaction list",
		Tags:        []string{"finance"},
		Viewport:    browser.Desktop,
		Steps: steps(bootSteps(), []scenario.Step{
			openFinance(),
			scenario.Click(locator.Text("ANALYTICS")),
			scenario.ExpectVisible("Challenges header", locator.Role("heading", "ACTIVE_CHALLENGES")),
			scenario.Capture("challenges"),
			scenario.Click(locator.Text("TRANSACTIONS")),
			scenario.Capture("transactions"),
			scenario.Upload(FileInput, "test_receipt.jpg"),
			scenario.ExpectVisible("Approval notification", locator.Text("TRANSACTION PENDING APPROVAL")),
			scenario.ExpectVisible("Listed as pending", PendingStatus),
		}),
	}
}

func Spaces() scenario.Scenario {
	personal := locator.Text("PERSONAL SPACE")
	return scenario.Scenario{
		Name:        "spaces",
		Description: "Shared goals and the shared shopping list are reachable from the space switcher",
		Tags:        []string{"finance"},
		Viewport:    browser.Desktop,
		Steps: steps(bootSteps(), []scenario.Step{
			openFinance(),
			scenario.ExpectVisible("Space switcher", personal),
			scenario.Click(personal),
			scenario.Capture("spaces dropdown"),
			scenario.Click(locator.Text("GOALS").ExactMatch()),
			scenario.ExpectVisible("Shared goals", locator.Text("SHARED_GOALS")),
			scenario.Capture("goals tab"),
			scenario.Click(locator.Text("ASSETS").ExactMatch()),
			scenario.ExpectVisible("Shared shopping list", locator.Text("SHARED_SHOPPING_LIST")),
			scenario.Capture("shopping list"),
		}),
	}
}

func ProTools() scenario.Scenario {
	return scenario.Scenario{
		Name:        "pro-tools",
		Description: "The PRO_TOOLS tab shows the power user tools",
		Tags:        []string{"finance"},
		Viewport:    browser.Desktop,
		Steps: steps(bootSteps(), []scenario.Step{
			openFinance(),
			scenario.ExpectVisible("Tracker window", AppWindow),
			scenario.Click(locator.Button("PRO_TOOLS").First()),
			scenario.ExpectVisible("Tax Tagging", locator.Text("Tax Tagging").ExactMatch()),
			scenario.ExpectVisible("Mileage Tracker", locator.Text("Mileage Tracker").ExactMatch()),
			scenario.ExpectVisible("Export to CSV", locator.Text("Export to CSV").ExactMatch()),
			scenario.Capture("pro tools"),
		}),
	}
}

func Mobile() scenario.Scenario {
	return scenario.Scenario{
		Name:        "mobile",
		Description: "On a phone the app grid replaces the desktop and windows fill the screen",
		Tags:        []string{"mobile"},
		Viewport:    browser.Phone,
		Steps: []scenario.Step{
			scenario.Navigate(""),
			scenario.WaitReady("App grid ready", FinanceButton),
			scenario.ExpectVisible("Grid FINANCE control", FinanceButton),
			scenario.ExpectHidden("START hidden on mobile", StartButton),
			scenario.Click(FinanceButton),
			scenario.ExpectMinWidth("Window fills the screen", AppWindow, 250),
			scenario.Capture("mobile window open"),
		},
	}
}

// CommandPalette starts on a phone and switches to the desktop layout, as a
// rotated tablet would, before driving the palette.
func CommandPalette() scenario.Scenario {
	return scenario.Scenario{
		Name:        "palette",
		Description: "Control+K opens the palette, filters, and closes after an action",
		Tags:        []string{"palette"},
		Viewport:    browser.Phone,
		Steps: []scenario.Step{
			scenario.Navigate(""),
			scenario.WaitReady("App grid ready", FinanceButton),
			scenario.Resize(browser.Desktop),
			scenario.Reload(),
			scenario.WaitReady("Desktop ready", StartButton),
			scenario.Press("Control+k"),
			scenario.ExpectVisible("Palette opened", Palette),
			scenario.ExpectVisible("Unfiltered commands listed", locator.Text("OPEN TERMINAL")),
			scenario.Fill(Palette, "Stealth"),
			scenario.ExpectVisible("Filtered to stealth", locator.Text("TOGGLE STEALTH MODE")),
			scenario.ExpectHidden("Filter drops other commands", locator.Text("OPEN TERMINAL")),
			scenario.Click(locator.Text("TOGGLE STEALTH MODE")),
			scenario.ExpectHidden("Palette closed after action", Palette),
		},
	}
}
