package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-e2e/internal/config"
	"github.com/xkilldash9x/scalpel-e2e/internal/observability"
	"github.com/xkilldash9x/scalpel-e2e/internal/results"
	"github.com/xkilldash9x/scalpel-e2e/internal/store"
)

var errNoDatabase = errors.New("database URL is not configured (SCALPEL_E2E_DATABASE_URL)")

// runHistory is the part of the store the commands use.
type runHistory interface {
	EnsureSchema(ctx context.Context) error
	SaveRun(ctx context.Context, report *results.RunReport) error
	RecentRuns(ctx context.Context, limit int) ([]store.RunRecord, error)
}

// historyProvider opens the run history. Tests inject a fake instead of a
// live database connection.
type historyProvider interface {
	// Open returns the history and a cleanup function releasing its resources.
	Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (runHistory, func(), error)
}

// storeHistoryProvider connects to PostgreSQL.
type storeHistoryProvider struct{}

func (storeHistoryProvider) Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (runHistory, func(), error) {
	if cfg.Database.URL == "" {
		return nil, nil, errNoDatabase
	}
	s, closePool, err := store.Connect(ctx, cfg.Database.URL, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		closePool()
		logger.Debug("Database connection pool closed.")
	}
	return s, cleanup, nil
}

// newHistoryCmd creates the `history` command.
func newHistoryCmd(provider historyProvider) *cobra.Command {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs recorded in the run history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			return runHistoryList(ctx, cmd.OutOrStdout(), cfg, limit, provider, observability.GetLogger())
		},
	}

	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show.")
	return historyCmd
}

func runHistoryList(ctx context.Context, out io.Writer, cfg *config.Config, limit int, provider historyProvider, logger *zap.Logger) error {
	history, cleanup, err := provider.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	runs, err := history.RecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		_, err := fmt.Fprintln(out, "No runs recorded.")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tDURATION\tSCENARIOS\tPASS\tFAIL\tSKIP\tABORTED\tSTATUS")
	for _, r := range runs {
		status := "ok"
		switch {
		case r.LaunchError != "":
			status = "launch failed"
		case r.Summary.Aborted > 0:
			status = "aborted"
		case r.Summary.Failed > 0:
			status = "failed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.RunID,
			r.StartedAt.Local().Format(time.DateTime),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
			r.Summary.Scenarios, r.Summary.Passed, r.Summary.Failed, r.Summary.Skipped, r.Summary.Aborted,
			status,
		)
	}
	return tw.Flush()
}
