// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "scalpel-e2e", cfg.Logger.ServiceName)
	assert.Equal(t, "http://localhost:5173", cfg.App.URL)
	assert.True(t, cfg.Browser.Headless)
	assert.True(t, cfg.Browser.DisableCache)
	assert.Equal(t, 1, cfg.Browser.Concurrency)
	assert.Equal(t, 1280, cfg.Browser.Viewport.Width)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Boot)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Settle)
	assert.Equal(t, 100*time.Millisecond, cfg.Timeouts.Poll)
	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, "verification", cfg.Artifacts.Dir)
	assert.True(t, cfg.Policy.FailOnCheckpoint)
	assert.Equal(t, "text", cfg.Report.Format)
	assert.Empty(t, cfg.Stubs)

	require.NoError(t, cfg.Validate(), "defaults must be valid on their own")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"empty url", func(c *Config) { c.App.URL = "" }, "app.url is required"},
		{"non http url", func(c *Config) { c.App.URL = "file:///tmp/index.html" }, "must be an http(s) URL"},
		{"zero concurrency", func(c *Config) { c.Browser.Concurrency = 0 }, "browser.concurrency must be a positive integer"},
		{"zero viewport", func(c *Config) { c.Browser.Viewport.Height = 0 }, "viewport dimensions"},
		{"settle over boot", func(c *Config) { c.Timeouts.Settle = time.Minute }, "must not exceed boot"},
		{"poll over settle", func(c *Config) { c.Timeouts.Poll = 10 * time.Second }, "must be shorter than settle"},
		{"zero poll", func(c *Config) { c.Timeouts.Poll = 0 }, "must be positive durations"},
		{"no attempts", func(c *Config) { c.Retry.Attempts = 0 }, "retry.attempts"},
		{"empty artifacts", func(c *Config) { c.Artifacts.Dir = "" }, "artifacts.dir is required"},
		{"bad format", func(c *Config) { c.Report.Format = "xml" }, "unsupported report.format"},
		{"stub without pattern", func(c *Config) { c.Stubs = []StubConfig{{Status: 200}} }, "stubs[0].pattern is required"},
		{"stub bad status", func(c *Config) { c.Stubs = []StubConfig{{Pattern: "**/x", Status: 42}} }, "not a valid HTTP status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// -- Viper Integration Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("yaml overrides defaults", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")

		yamlConfig := []byte(`
app:
  url: "http://127.0.0.1:4173"
browser:
  headless: false
  concurrency: 3
  viewport:
    width: 1920
    height: 1080
timeouts:
  boot: 45s
  settle: 2s
policy:
  fail_on_checkpoint: false
report:
  format: json
stubs:
  - pattern: "**/generativelanguage.googleapis.com/**"
    generation:
      amount: 125.5
      summary: "Noodle stand"
      category: "Food"
  - pattern: "re:^https://telemetry\\."
    status: 204
`)
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "http://127.0.0.1:4173", cfg.App.URL)
		assert.False(t, cfg.Browser.Headless)
		assert.Equal(t, 3, cfg.Browser.Concurrency)
		assert.Equal(t, 1920, cfg.Browser.Viewport.Width)
		assert.Equal(t, 45*time.Second, cfg.Timeouts.Boot)
		assert.Equal(t, 2*time.Second, cfg.Timeouts.Settle)
		assert.False(t, cfg.Policy.FailOnCheckpoint)
		assert.Equal(t, "json", cfg.Report.Format)

		require.Len(t, cfg.Stubs, 2)
		require.NotNil(t, cfg.Stubs[0].Generation)
		assert.Equal(t, 125.5, cfg.Stubs[0].Generation.Amount)
		assert.Equal(t, "Food", cfg.Stubs[0].Generation.Category)
		assert.Nil(t, cfg.Stubs[1].Generation)
		assert.Equal(t, 204, cfg.Stubs[1].Status)

		// Untouched keys keep their defaults.
		assert.Equal(t, 100*time.Millisecond, cfg.Timeouts.Poll)
		assert.Equal(t, "verification", cfg.Artifacts.Dir)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("report.format", "html")

		_, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("database url from environment", func(t *testing.T) {
		t.Setenv("SCALPEL_E2E_DATABASE_URL", "postgres://u:p@db:5432/runs")
		v := viper.New()
		SetDefaults(v)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "postgres://u:p@db:5432/runs", cfg.Database.URL)
	})

	t.Run("home relative paths are expanded", func(t *testing.T) {
		t.Setenv("HOME", "/home/tester")
		homedir.DisableCache = true
		t.Cleanup(func() { homedir.DisableCache = false })
		v := viper.New()
		SetDefaults(v)
		v.Set("artifacts.dir", "~/e2e/artifacts")
		v.Set("report.output", "~/e2e/report.json")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "/home/tester/e2e/artifacts", cfg.Artifacts.Dir)
		assert.Equal(t, "/home/tester/e2e/report.json", cfg.Report.Output)
	})
}
