package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/pumpkinperf/pumpkin/internal/errs"
	"github.com/pumpkinperf/pumpkin/internal/store"
)

func newMockCoordinator(t *testing.T) (*Coordinator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return New(store.WrapDB(sqlx.NewDb(db, "sqlmock"), nil), nil), mock
}

func TestCreateRun(t *testing.T) {
	c, mock := newMockCoordinator(t)

	mock.ExpectPrepare(`INSERT INTO runs`).ExpectQuery().WillReturnRows(
		sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))

	id, runUUID, err := c.CreateRun(t.Context(), 10, 4, "")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if id != 5 {
		t.Fatalf("got id %d, want 5", id)
	}
	if runUUID == "" {
		t.Fatal("expected a generated uuid")
	}
}

func TestFinalizeRunAllPassedIsCompleted(t *testing.T) {
	c, mock := newMockCoordinator(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("COMPLETED", int64(1500), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := c.FinalizeRun(t.Context(), 9, 1500, OutcomeAllPassed); err != nil {
		t.Fatalf("FinalizeRun: %v", err)
	}
}

func TestFinalizeRunSomePassedIsPartial(t *testing.T) {
	c, mock := newMockCoordinator(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("PARTIAL", int64(2000), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := c.FinalizeRun(t.Context(), 9, 2000, OutcomeSomePassed); err != nil {
		t.Fatalf("FinalizeRun: %v", err)
	}
}

func TestFinalizeRunRejectsNonRunningTransition(t *testing.T) {
	c, mock := newMockCoordinator(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := c.FinalizeRun(t.Context(), 404, 10, OutcomeAllPassed)
	var missing *errs.RunMissing
	if !errors.As(err, &missing) {
		t.Fatalf("expected errs.RunMissing, got %v", err)
	}
}

func TestEnsureRunContextPrefersContextValue(t *testing.T) {
	c, _ := newMockCoordinator(t)

	ctx := WithRunID(context.Background(), 77)
	runID, err := c.EnsureRunContext(ctx)
	if err != nil {
		t.Fatalf("EnsureRunContext: %v", err)
	}
	if runID != 77 {
		t.Fatalf("got %d, want 77", runID)
	}
}

func TestEnsureRunContextFallsBackToEnvVar(t *testing.T) {
	c, _ := newMockCoordinator(t)

	t.Setenv("TEST_RUN_ID", "123")
	runID, err := c.EnsureRunContext(context.Background())
	if err != nil {
		t.Fatalf("EnsureRunContext: %v", err)
	}
	if runID != 123 {
		t.Fatalf("got %d, want 123", runID)
	}
}

func TestEnsureRunContextCreatesRunAsLastResort(t *testing.T) {
	c, mock := newMockCoordinator(t)

	mock.ExpectPrepare(`INSERT INTO runs`).ExpectQuery().WillReturnRows(
		sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	t.Setenv("TEST_RUN_ID", "")
	runID, err := c.EnsureRunContext(context.Background())
	if err != nil {
		t.Fatalf("EnsureRunContext: %v", err)
	}
	if runID != 1 {
		t.Fatalf("got %d, want 1", runID)
	}
}
