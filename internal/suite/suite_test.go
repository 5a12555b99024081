package suite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-e2e/internal/browser"
	"github.com/xkilldash9x/scalpel-e2e/internal/scenario"
)

func TestAllScenariosAreValid(t *testing.T) {
	seen := map[string]bool{}
	for _, sc := range All() {
		require.NoError(t, sc.Validate(), sc.Name)
		assert.False(t, seen[sc.Name], "duplicate scenario %s", sc.Name)
		seen[sc.Name] = true
		assert.NotEmpty(t, sc.Description, sc.Name)
		assert.False(t, sc.Viewport.IsZero(), sc.Name)
	}
	assert.Equal(t, []string{
		"boot", "boot-idempotent", "calculator", "approval", "fixes",
		"spaces", "pro-tools", "mobile", "palette",
	}, Names())
}

func TestScenariosStartWithNavigation(t *testing.T) {
	for _, sc := range All() {
		assert.Equal(t, scenario.KindNavigate, sc.Steps[0].Kind, sc.Name)

		hasBootGate := false
		for _, st := range sc.Steps {
			if st.Kind == scenario.KindWaitReady || st.Tier == scenario.TierBoot {
				hasBootGate = true
				break
			}
		}
		assert.True(t, hasBootGate, "%s never waits on the boot tier", sc.Name)
	}
}

func TestDefaultRulesStubGeneration(t *testing.T) {
	rules, err := DefaultRules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.True(t, rules[0].Matches("https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash:generateContent?key=x"))
	assert.False(t, rules[0].Matches("http://localhost:5173/src/main.jsx"))

	merged, err := Approval().StubRules(rules)
	require.NoError(t, err)
	assert.Len(t, merged, 1)
}

func TestMobileLayout(t *testing.T) {
	m := Mobile()
	assert.Equal(t, browser.Phone, m.Viewport)

	var kinds []scenario.Kind
	for _, st := range m.Steps {
		kinds = append(kinds, st.Kind)
	}
	assert.NotContains(t, kinds, scenario.KindPress)
	assert.Contains(t, kinds, scenario.KindCheckpoint)

	last := m.Steps[len(m.Steps)-2]
	assert.Equal(t, scenario.CheckMinWidth, last.Check)
	assert.Equal(t, 250.0, last.MinWidth)
}

func TestApprovalUsesUploadFixture(t *testing.T) {
	found := false
	for _, st := range Approval().Steps {
		if st.Kind == scenario.KindUpload {
			found = true
			assert.Equal(t, FileInput, st.Target)
		}
	}
	assert.True(t, found)
}
