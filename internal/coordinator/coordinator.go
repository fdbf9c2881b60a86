// Package coordinator implements the Run Coordinator (C6): it owns the
// lifecycle of a Run row, from creation through finalization, and the
// single place other components resolve "which run is this job for?"
//
// Grounded on spec.md §4.6's replacement for the source system's global
// "latest run id" side channel: EnsureRunContext takes the role a package
// level mutable variable would have played, but as an explicit lookup
// chain with no shared state.
package coordinator

import (
	"context"
	"database/sql"
	"os"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pumpkinperf/pumpkin/internal/errs"
	"github.com/pumpkinperf/pumpkin/internal/store"
)

// Outcome is the scheduler's summary of how a run's jobs concluded. It
// drives FinalizeRun's status decision (spec.md §4.6, SPEC_FULL.md §9).
type Outcome string

const (
	OutcomeAllPassed     Outcome = "allPassed"
	OutcomeSomePassed    Outcome = "somePassed"
	OutcomeNoneCompleted Outcome = "noneCompleted"
)

// Coordinator manages Run rows.
type Coordinator struct {
	db     *store.DB
	logger *zap.Logger
}

// New returns a Coordinator backed by db.
func New(db *store.DB, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{db: db, logger: logger}
}

// CreateRun inserts a new run in RUNNING state and returns its id and uuid.
func (c *Coordinator) CreateRun(ctx context.Context, totalURLs, workers int, notes string) (int64, string, error) {
	runUUID := uuid.NewString()

	var id int64
	_, err := c.db.Breaker().Execute(func() (any, error) {
		row := struct {
			UUID                 string  `db:"uuid"`
			DeclaredTargetCount  int     `db:"declared_target_count"`
			RequestedParallelism int     `db:"requested_parallelism"`
			Notes                *string `db:"notes"`
		}{UUID: runUUID, DeclaredTargetCount: totalURLs, RequestedParallelism: workers}
		if notes != "" {
			row.Notes = &notes
		}

		stmt, err := c.db.PrepareNamedContext(ctx, `
			INSERT INTO runs (uuid, declared_target_count, requested_parallelism, notes)
			VALUES (:uuid, :declared_target_count, :requested_parallelism, :notes)
			RETURNING id`)
		if err != nil {
			return nil, err
		}
		defer stmt.Close()
		return nil, stmt.GetContext(ctx, &id, row)
	})
	if err != nil {
		return 0, "", &errs.DatabaseUnavailable{Cause: err}
	}

	c.logger.Info("run created", zap.Int64("run_id", id), zap.String("run_uuid", runUUID),
		zap.Int("total_urls", totalURLs), zap.Int("workers", workers))
	return id, runUUID, nil
}

// FinalizeRun transitions a RUNNING run to its terminal status based on
// outcome (spec.md §4.6). durationMs is the scheduler's observed
// wall-clock time. The transition RUNNING -> {COMPLETED, PARTIAL} is the
// only one this method performs; callers use FailRun for the aborted
// path.
func (c *Coordinator) FinalizeRun(ctx context.Context, runID int64, durationMs int64, outcome Outcome) error {
	status := store.RunStatusPartial
	if outcome == OutcomeAllPassed {
		status = store.RunStatusCompleted
	}
	return c.transition(ctx, runID, durationMs, status)
}

// FailRun transitions a RUNNING run to FAILED. Reserved for runs the
// coordinator itself could not dispatch (e.g. the URL list failed to
// load), never for individual job failures, which are PARTIAL outcomes.
func (c *Coordinator) FailRun(ctx context.Context, runID int64, durationMs int64) error {
	return c.transition(ctx, runID, durationMs, store.RunStatusFailed)
}

func (c *Coordinator) transition(ctx context.Context, runID int64, durationMs int64, to store.RunStatus) error {
	res, err := c.db.Breaker().Execute(func() (any, error) {
		return c.db.ExecContext(ctx, `
			UPDATE runs SET status = $1, total_duration_ms = $2
			WHERE id = $3 AND status = 'RUNNING'`, string(to), durationMs, runID)
	})
	if err != nil {
		return &errs.DatabaseUnavailable{Cause: err}
	}

	n, err := res.(sql.Result).RowsAffected()
	if err != nil {
		return &errs.DatabaseUnavailable{Cause: err}
	}
	if n == 0 {
		return &errs.RunMissing{RunID: runID}
	}

	c.logger.Info("run finalized", zap.Int64("run_id", runID), zap.String("status", string(to)))
	return nil
}

// runContextKey is unexported so only this package can set the context
// value EnsureRunContext reads.
type runContextKey struct{}

// WithRunID attaches runID to ctx for EnsureRunContext to find.
func WithRunID(ctx context.Context, runID int64) context.Context {
	return context.WithValue(ctx, runContextKey{}, runID)
}

// EnsureRunContext resolves the run id a single job should ingest under,
// in order: (a) a run id set on ctx by the scheduler for an in-process
// worker, (b) the TEST_RUN_ID environment variable for an out-of-process
// single-test invocation, (c) a freshly created single-job run. This
// replaces a global mutable "current run" variable with an explicit,
// race-free lookup (SPEC_FULL.md §4.6).
func (c *Coordinator) EnsureRunContext(ctx context.Context) (int64, error) {
	if runID, ok := ctx.Value(runContextKey{}).(int64); ok {
		return runID, nil
	}

	if raw := os.Getenv("TEST_RUN_ID"); raw != "" {
		runID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, &errs.BadRequest{Field: "TEST_RUN_ID", Reason: "must be an integer"}
		}
		return runID, nil
	}

	runID, _, err := c.CreateRun(ctx, 1, 1, "auto-created for single-test run")
	return runID, err
}
