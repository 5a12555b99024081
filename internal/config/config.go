// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire harness configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	App       AppConfig       `mapstructure:"app" yaml:"app"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts" yaml:"timeouts"`
	Retry     RetryConfig     `mapstructure:"retry" yaml:"retry"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts" yaml:"artifacts"`
	Policy    PolicyConfig    `mapstructure:"policy" yaml:"policy"`
	Report    ReportConfig    `mapstructure:"report" yaml:"report"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	// Stubs are appended to the built-in generation stub. A stub whose pattern
	// equals a built-in one replaces it.
	Stubs []StubConfig `mapstructure:"stubs" yaml:"stubs"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names used for each log level on the console.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// AppConfig locates the application under test.
type AppConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ViewportConfig is the default window size for new sessions.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// BrowserConfig holds settings for the Chrome process and its tabs.
type BrowserConfig struct {
	Headless      bool           `mapstructure:"headless" yaml:"headless"`
	ExecPath      string         `mapstructure:"exec_path" yaml:"exec_path"`
	Args          []string       `mapstructure:"args" yaml:"args"`
	DisableCache  bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	Concurrency   int            `mapstructure:"concurrency" yaml:"concurrency"`
	LaunchTimeout time.Duration  `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	Viewport      ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	Debug         bool           `mapstructure:"debug" yaml:"debug"`
}

// TimeoutsConfig holds the wait budgets. Boot is the long tier used once per
// page load; Settle is the short tier used after every in-scenario action.
type TimeoutsConfig struct {
	Boot       time.Duration `mapstructure:"boot" yaml:"boot"`
	Settle     time.Duration `mapstructure:"settle" yaml:"settle"`
	Navigation time.Duration `mapstructure:"navigation" yaml:"navigation"`
	Action     time.Duration `mapstructure:"action" yaml:"action"`
	Poll       time.Duration `mapstructure:"poll" yaml:"poll"`
}

// RetryConfig bounds the retry of action steps. Checkpoints are never retried.
type RetryConfig struct {
	Attempts   int           `mapstructure:"attempts" yaml:"attempts"`
	Backoff    time.Duration `mapstructure:"backoff" yaml:"backoff"`
	MaxBackoff time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
}

// ArtifactsConfig controls where screenshots and console dumps are written.
type ArtifactsConfig struct {
	Dir        string `mapstructure:"dir" yaml:"dir"`
	FullPage   bool   `mapstructure:"full_page" yaml:"full_page"`
	Console    bool   `mapstructure:"console" yaml:"console"`
	FixtureDir string `mapstructure:"fixture_dir" yaml:"fixture_dir"`
}

// PolicyConfig decides how outcomes map to the process exit status.
type PolicyConfig struct {
	FailOnCheckpoint bool `mapstructure:"fail_on_checkpoint" yaml:"fail_on_checkpoint"`
}

// ReportConfig selects the consolidated report writer.
type ReportConfig struct {
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// DatabaseConfig holds the run history connection details. An empty URL
// disables persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// StubConfig declares one network stub. Exactly one of Body or Generation is used;
// Generation wins when both are present.
type StubConfig struct {
	Pattern     string            `mapstructure:"pattern" yaml:"pattern"`
	Status      int               `mapstructure:"status" yaml:"status"`
	ContentType string            `mapstructure:"content_type" yaml:"content_type"`
	Headers     map[string]string `mapstructure:"headers" yaml:"headers"`
	Body        string            `mapstructure:"body" yaml:"body"`
	Generation  *GenerationConfig `mapstructure:"generation" yaml:"generation"`
}

// GenerationConfig holds the structured fields embedded in a generation envelope.
type GenerationConfig struct {
	Amount   float64 `mapstructure:"amount" yaml:"amount"`
	Summary  string  `mapstructure:"summary" yaml:"summary"`
	Category string  `mapstructure:"category" yaml:"category"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scalpel-e2e")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 7)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- App --
	v.SetDefault("app.url", "http://localhost:5173")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.concurrency", 1)
	v.SetDefault("browser.launch_timeout", "60s")
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 720)
	v.SetDefault("browser.debug", false)

	// -- Timeouts --
	v.SetDefault("timeouts.boot", "30s")
	v.SetDefault("timeouts.settle", "5s")
	v.SetDefault("timeouts.navigation", "45s")
	v.SetDefault("timeouts.action", "10s")
	v.SetDefault("timeouts.poll", "100ms")

	// -- Retry --
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.backoff", "200ms")
	v.SetDefault("retry.max_backoff", "2s")

	// -- Artifacts --
	v.SetDefault("artifacts.dir", "verification")
	v.SetDefault("artifacts.full_page", false)
	v.SetDefault("artifacts.console", true)
	v.SetDefault("artifacts.fixture_dir", "")

	// -- Policy --
	v.SetDefault("policy.fail_on_checkpoint", true)

	// -- Report --
	v.SetDefault("report.format", "text")
	v.SetDefault("report.output", "stdout")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The database URL usually carries credentials.
	_ = v.BindEnv("database.url", "SCALPEL_E2E_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Artifacts.Dir, &c.Artifacts.FixtureDir, &c.Logger.LogFile, &c.Browser.ExecPath} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	if c.Report.Output != "" && c.Report.Output != "stdout" {
		expanded, err := homedir.Expand(c.Report.Output)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", c.Report.Output, err)
		}
		c.Report.Output = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.App.URL == "" {
		return fmt.Errorf("app.url is required")
	}
	if !strings.HasPrefix(c.App.URL, "http://") && !strings.HasPrefix(c.App.URL, "https://") {
		return fmt.Errorf("app.url must be an http(s) URL, got %q", c.App.URL)
	}
	if c.Browser.Concurrency <= 0 {
		return fmt.Errorf("browser.concurrency must be a positive integer")
	}
	if c.Browser.Viewport.Width <= 0 || c.Browser.Viewport.Height <= 0 {
		return fmt.Errorf("browser.viewport dimensions must be positive")
	}
	if err := c.Timeouts.Validate(); err != nil {
		return fmt.Errorf("timeouts configuration invalid: %w", err)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be at least 1")
	}
	if c.Artifacts.Dir == "" {
		return fmt.Errorf("artifacts.dir is required")
	}
	switch c.Report.Format {
	case "text", "json", "sarif":
	default:
		return fmt.Errorf("unsupported report.format %q (supported: text, json, sarif)", c.Report.Format)
	}
	for i, s := range c.Stubs {
		if s.Pattern == "" {
			return fmt.Errorf("stubs[%d].pattern is required", i)
		}
		if s.Status != 0 && (s.Status < 100 || s.Status > 599) {
			return fmt.Errorf("stubs[%d].status %d is not a valid HTTP status", i, s.Status)
		}
	}
	return nil
}

// Validate checks the wait budgets. The boot tier must not be shorter than the
// settle tier, otherwise a slow boot would be reported as a regression.
func (t *TimeoutsConfig) Validate() error {
	if t.Boot <= 0 || t.Settle <= 0 || t.Poll <= 0 {
		return fmt.Errorf("boot, settle and poll must be positive durations")
	}
	if t.Settle > t.Boot {
		return fmt.Errorf("settle (%s) must not exceed boot (%s)", t.Settle, t.Boot)
	}
	if t.Poll >= t.Settle {
		return fmt.Errorf("poll (%s) must be shorter than settle (%s)", t.Poll, t.Settle)
	}
	return nil
}
