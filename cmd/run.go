package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-e2e/internal/browser"
	"github.com/xkilldash9x/scalpel-e2e/internal/browser/intercept"
	"github.com/xkilldash9x/scalpel-e2e/internal/config"
	"github.com/xkilldash9x/scalpel-e2e/internal/observability"
	"github.com/xkilldash9x/scalpel-e2e/internal/reporting"
	"github.com/xkilldash9x/scalpel-e2e/internal/results"
	"github.com/xkilldash9x/scalpel-e2e/internal/scenario"
	"github.com/xkilldash9x/scalpel-e2e/internal/suite"
)

const shutdownTimeout = 15 * time.Second

// sessionLauncher starts whatever hands out sessions for a run. The returned
// func releases it and must be called once the run is over.
type sessionLauncher interface {
	Launch(ctx context.Context, cfg *config.Config, rules []intercept.Rule, logger *zap.Logger) (scenario.OpenFunc, func(), error)
}

// browserLauncher is the production launcher backed by one Chrome process.
type browserLauncher struct{}

func (browserLauncher) Launch(ctx context.Context, cfg *config.Config, rules []intercept.Rule, logger *zap.Logger) (scenario.OpenFunc, func(), error) {
	manager, err := browser.NewManager(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize browser manager: %w", err)
	}
	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser manager shutdown", zap.Error(err))
		}
	}
	return scenario.ManagerOpener(manager, rules), shutdown, nil
}

type runOptions struct {
	files []string
	names []string
}

// newRunCmd creates and configures the `run` command.
func newRunCmd(deps commandDeps) *cobra.Command {
	var opts runOptions

	runCmd := &cobra.Command{
		Use:   "run [scenario|tag:name...]",
		Short: "Run scenarios against the application and report every checkpoint",
		Long: `Runs the built-in scenarios, or those loaded with --file, each in its own
browser session. Arguments select scenarios by name or by tag (tag:smoke).
The exit status is 0 when everything passed, 1 when a checkpoint failed and
policy.fail_on_checkpoint is set, and 2 when a scenario aborted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			opts.names = args

			code, err := runScenarios(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, opts, deps, observability.GetLogger())
			if err != nil {
				return err
			}
			switch code {
			case results.ExitOK:
				return nil
			case results.ExitCheckpointFailed:
				return &ExitError{Code: code, Reason: "checkpoint failures"}
			default:
				return &ExitError{Code: code, Reason: "scenario aborted"}
			}
		},
	}

	runCmd.Flags().String("url", "", "Base URL of the application under test. (Overrides config/env)")
	runCmd.Flags().Bool("headless", true, "Run Chrome without a window. (Overrides config/env)")
	runCmd.Flags().IntP("concurrency", "j", 1, "Number of scenarios run in parallel. (Overrides config/env)")
	runCmd.Flags().StringP("format", "f", "text", "Report format: 'text', 'json' or 'sarif'.")
	runCmd.Flags().StringP("output", "o", "stdout", "Report output path, or 'stdout'.")
	runCmd.Flags().String("artifacts", "verification", "Directory for screenshots and console logs. (Overrides config/env)")
	runCmd.Flags().Bool("fail-on-checkpoint", true, "Exit with status 1 when a checkpoint fails.")
	runCmd.Flags().StringSliceVar(&opts.files, "file", nil, "YAML scenario file to run instead of the built-in suite (repeatable).")

	return runCmd
}

// loadScenarios returns the scenarios from files, or the built-in suite when
// none are given, narrowed to names.
func loadScenarios(files, names []string) ([]scenario.Scenario, error) {
	all := suite.All()
	if len(files) > 0 {
		all = nil
		seen := map[string]string{}
		for _, f := range files {
			loaded, err := scenario.LoadFile(f)
			if err != nil {
				return nil, err
			}
			for _, sc := range loaded {
				if prev, dup := seen[sc.Name]; dup {
					return nil, fmt.Errorf("scenario %q defined in both %s and %s", sc.Name, prev, f)
				}
				seen[sc.Name] = f
				all = append(all, sc)
			}
		}
	}
	return scenario.Select(all, names)
}

// runScenarios is the testable core of the run command. It returns the exit
// status the report maps to under cfg's policy.
func runScenarios(ctx context.Context, stdout, stderr io.Writer, cfg *config.Config, opts runOptions, deps commandDeps, logger *zap.Logger) (int, error) {
	selected, err := loadScenarios(opts.files, opts.names)
	if err != nil {
		return 0, err
	}

	base, err := suite.DefaultRules()
	if err != nil {
		return 0, err
	}
	configured, err := intercept.RulesFromConfig(cfg.Stubs)
	if err != nil {
		return 0, fmt.Errorf("invalid stub configuration: %w", err)
	}
	rules := intercept.Merge(base, configured...)

	if err := os.MkdirAll(cfg.Artifacts.Dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	open, release, err := deps.launcher.Launch(ctx, cfg, rules, logger)
	if err != nil {
		return 0, err
	}
	defer release()

	// The transcript shares stdout with the report only when the report is
	// human readable.
	transcriptOut := stdout
	if cfg.Report.Format != "text" && (cfg.Report.Output == "" || cfg.Report.Output == "stdout") {
		transcriptOut = stderr
	}

	seqOpts := scenario.OptionsFromConfig(cfg)
	seqOpts.Transcript = reporting.NewTranscript(transcriptOut)
	seq := scenario.NewSequencer(open, seqOpts, logger)

	logger.Info("Starting run",
		zap.String("run_id", seq.RunID()),
		zap.String("app_url", cfg.App.URL),
		zap.Int("scenarios", len(selected)),
		zap.Int("concurrency", cfg.Browser.Concurrency),
	)

	report := scenario.NewRunner(seq, cfg.Browser.Concurrency, logger).RunAll(ctx, selected)
	report.Version = Version

	if err := writeReport(report, cfg.Report, logger); err != nil {
		return 0, err
	}

	if cfg.Database.URL != "" {
		persistRun(ctx, deps.history, cfg, report, logger)
	}

	code := report.ExitCode(cfg.Policy.FailOnCheckpoint)
	logger.Info("Run finished",
		zap.String("run_id", report.RunID),
		zap.Int("passed", report.Summary.Passed),
		zap.Int("failed", report.Summary.Failed),
		zap.Int("aborted", report.Summary.Aborted),
		zap.Int("exit_code", code),
	)
	if code == results.ExitOK && ctx.Err() != nil {
		return 0, ctx.Err()
	}
	return code, nil
}

func writeReport(report *results.RunReport, rc config.ReportConfig, logger *zap.Logger) error {
	reporter, err := reporting.New(rc.Format, rc.Output, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	defer func() {
		if err := reporter.Close(); err != nil {
			logger.Warn("Failed to close reporter cleanly.", zap.Error(err))
		}
	}()

	if err := reporter.Write(report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if rc.Output != "" && rc.Output != "stdout" {
		logger.Info("Report written", zap.String("path", rc.Output), zap.String("format", rc.Format))
	}
	return nil
}

// persistRun saves report to the run history. Storage problems are logged and
// never change the outcome of the run.
func persistRun(ctx context.Context, provider historyProvider, cfg *config.Config, report *results.RunReport, logger *zap.Logger) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	history, cleanup, err := provider.Open(saveCtx, cfg, logger)
	if err != nil {
		logger.Error("Run history unavailable", zap.Error(err))
		return
	}
	if cleanup != nil {
		defer cleanup()
	}

	if err := history.EnsureSchema(saveCtx); err != nil {
		logger.Error("Failed to prepare run history schema", zap.Error(err))
		return
	}
	if err := history.SaveRun(saveCtx, report); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Error("Timed out saving run history", zap.String("run_id", report.RunID))
			return
		}
		logger.Error("Failed to save run history", zap.Error(err), zap.String("run_id", report.RunID))
		return
	}
	logger.Info("Run saved to history", zap.String("run_id", report.RunID))
}
