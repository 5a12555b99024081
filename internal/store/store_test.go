package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/scalpel-e2e/internal/results"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

var (
	started  = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	finished = started.Add(42 * time.Second)
)

func sampleReport() *results.RunReport {
	sc := &results.ScenarioResult{
		Scenario:   "calculator",
		RunID:      "run-1",
		SessionID:  "sess-1",
		State:      results.StateCompleted,
		Artifacts:  []string{"/tmp/art/calculator/01_result.png"},
		StartedAt:  started,
		FinishedAt: finished,
		Steps: []results.StepResult{
			{Index: 0, Kind: "navigate", Label: "navigate", Outcome: results.OutcomePass, Attempts: 1, Duration: 150 * time.Millisecond},
			{Index: 1, Kind: "checkpoint", Label: "Result is 42", Checkpoint: true, Outcome: results.OutcomeFail, Reason: "timed out", Duration: 5 * time.Second},
		},
	}
	aborted := &results.ScenarioResult{
		Scenario:    "mobile",
		RunID:       "run-1",
		State:       results.StateAborted,
		AbortReason: "browser exited",
		StartedAt:   started,
		FinishedAt:  finished,
		Steps:       []results.StepResult{},
	}
	return &results.RunReport{
		RunID:      "run-1",
		Version:    "v0.1.0",
		BaseURL:    "http://localhost:5173",
		StartedAt:  started,
		FinishedAt: finished,
		Scenarios:  []*results.ScenarioResult{sc, aborted},
	}
}

func newObservedStore(t *testing.T) (*Store, pgxmock.PgxPoolIface, *observer.ObservedLogs) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	core, logs := observer.New(zapcore.DebugLevel)
	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, zap.New(core))
	require.NoError(t, err)
	return s, mockPool, logs
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	s, mockPool, _ := newObservedStore(t)
	mockPool.ExpectExec(flexibleSQLMatcher(schemaSQL)).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveRun(t *testing.T) {
	t.Run("writes run, scenarios and steps in one transaction", func(t *testing.T) {
		s, mockPool, logs := newObservedStore(t)
		report := sampleReport()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs("run-1", "v0.1.0", "http://localhost:5173", started, finished, "",
				2, 1, 1, 0, 1, 0).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertScenario)).
			WithArgs("run-1", "calculator", "sess-1", "completed", "", started, finished,
				[]string{"/tmp/art/calculator/01_result.png"}).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertScenario)).
			WithArgs("run-1", "mobile", "", "aborted", "browser exited", started, finished, []string{}).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"e2e_steps"}, stepColumns).WillReturnResult(2)
		mockPool.ExpectCommit()

		require.NoError(t, s.SaveRun(context.Background(), report))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
	})

	t.Run("rolls back when a scenario insert fails", func(t *testing.T) {
		s, mockPool, _ := newObservedStore(t)
		insertErr := errors.New("duplicate key")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertScenario)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(insertErr)
		mockPool.ExpectRollback()

		err := s.SaveRun(context.Background(), sampleReport())
		require.Error(t, err)
		assert.ErrorIs(t, err, insertErr)
		assert.Contains(t, err.Error(), "calculator")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("rejects a short copy", func(t *testing.T) {
		s, mockPool, _ := newObservedStore(t)
		report := sampleReport()
		report.Scenarios = report.Scenarios[:1]

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertScenario)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"e2e_steps"}, stepColumns).WillReturnResult(1)
		mockPool.ExpectRollback()

		err := s.SaveRun(context.Background(), report)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected 2, got 1")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		s, mockPool, _ := newObservedStore(t)
		mockPool.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

		err := s.SaveRun(context.Background(), sampleReport())
		assert.ErrorContains(t, err, "failed to begin transaction")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestRecentRuns(t *testing.T) {
	s, mockPool, _ := newObservedStore(t)

	cols := []string{"run_id", "started_at", "finished_at", "launch_error", "scenarios", "completed", "aborted", "passed", "failed", "skipped"}
	rows := pgxmock.NewRows(cols).
		AddRow("run-2", finished, finished.Add(time.Minute), "", 9, 9, 0, 30, 0, 0).
		AddRow("run-1", started, finished, "chrome not found", 2, 0, 2, 0, 0, 4)
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlRecentRuns)).WithArgs(20).WillReturnRows(rows)

	runs, err := s.RecentRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Equal(t, 30, runs[0].Summary.Passed)
	assert.Equal(t, "chrome not found", runs[1].LaunchError)
	assert.Equal(t, 2, runs[1].Summary.Aborted)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecentRunsQueryError(t *testing.T) {
	s, mockPool, _ := newObservedStore(t)
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlRecentRuns)).WithArgs(5).WillReturnError(errors.New("relation does not exist"))

	_, err := s.RecentRuns(context.Background(), 5)
	assert.ErrorContains(t, err, "failed to query runs")
}
