package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-e2e/internal/config"
	"github.com/xkilldash9x/scalpel-e2e/internal/observability"
)

const envPrefix = "SCALPEL_E2E"

type configKey struct{}

// ExitError carries a process exit status out of a command without being a
// failure of the command itself.
type ExitError struct {
	Code   int
	Reason string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s (exit status %d)", e.Reason, e.Code)
}

// flagBindings maps command flags onto configuration keys so a flag wins over
// the config file and environment only when it was set explicitly.
var flagBindings = map[string]string{
	"url":                "app.url",
	"headless":           "browser.headless",
	"concurrency":        "browser.concurrency",
	"format":             "report.format",
	"output":             "report.output",
	"artifacts":          "artifacts.dir",
	"fail-on-checkpoint": "policy.fail_on_checkpoint",
}

// commandDeps are the seams the commands reach the outside world through.
type commandDeps struct {
	launcher sessionLauncher
	history  historyProvider
}

func defaultDeps() commandDeps {
	return commandDeps{
		launcher: browserLauncher{},
		history:  storeHistoryProvider{},
	}
}

// NewRootCommand builds a fresh command tree. Each call returns an
// independent instance so flags never leak between executions.
func NewRootCommand() *cobra.Command {
	return newRootCommand(defaultDeps())
}

func newRootCommand(deps commandDeps) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:     "scalpel-e2e",
		Short:   "Scalpel E2E drives the FINANCE_OS desktop through scripted user journeys.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "scalpel-e2e"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "scalpel-e2e"})
				return fmt.Errorf("failed to load config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Configuration loaded", zap.String("version", Version), zap.String("app_url", cfg.App.URL))

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, configKey{}, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(newRunCmd(deps))
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newHistoryCmd(deps.history))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute runs the command tree with os.Args under ctx.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		var exitErr *ExitError
		if !errors.As(err, &exitErr) && !errors.Is(err, context.Canceled) {
			observability.GetLogger().Error("Command execution failed", zap.Error(err))
		}
	}
	observability.Sync()
	return err
}

// initializeConfig reads the config file and environment into v and binds the
// executing command's flags.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}

	for name, key := range flagBindings {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// getConfigFromContext returns the configuration loaded by the root command.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	if ctx == nil {
		return nil, errors.New("no context available")
	}
	cfg, ok := ctx.Value(configKey{}).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
