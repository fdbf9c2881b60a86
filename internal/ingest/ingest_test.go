package ingest

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/pumpkinperf/pumpkin/internal/browser"
	"github.com/pumpkinperf/pumpkin/internal/errs"
	"github.com/pumpkinperf/pumpkin/internal/har"
	"github.com/pumpkinperf/pumpkin/internal/store"
)

func newMockIngestor(t *testing.T) (*Ingestor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return New(store.WrapDB(sqlxDB, nil), nil), mock
}

func sampleMeasurement() browser.Measurement {
	return browser.Measurement{
		URL:              "https://example.com/path",
		UserAgent:        "test-agent",
		TestDurationMs:   1200,
		ScrollDurationMs: 300,
		Status:           browser.StatusPassed,
		ResourcesByType:  map[string]int{"script": 4, "image": 2},
		TotalResources:   6,
	}
}

func sampleAnalysis() har.Analysis {
	return har.Analysis{StatusHistogram: map[int]int{200: 5, 404: 1}}
}

func TestInsertUrlTestSingleTransaction(t *testing.T) {
	ing, mock := newMockIngestor(t)

	mock.ExpectBegin()
	mock.ExpectPrepare(`INSERT INTO url_tests`).ExpectQuery().WillReturnRows(
		sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectExec(`INSERT INTO status_histogram`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO status_histogram`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO resource_types`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO resource_types`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	res, err := ing.InsertUrlTest(t.Context(), 7, sampleMeasurement(), sampleAnalysis(), "shot.png", "net.har")
	if err != nil {
		t.Fatalf("InsertUrlTest: %v", err)
	}
	if res.ID != 42 {
		t.Fatalf("got id %d, want 42", res.ID)
	}
	if res.UUID == "" {
		t.Fatal("expected a generated uuid")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertUrlTestForeignKeyViolationMapsToRunMissing(t *testing.T) {
	ing, mock := newMockIngestor(t)

	mock.ExpectBegin()
	mock.ExpectPrepare(`INSERT INTO url_tests`).ExpectQuery().WillReturnError(
		&pgconn.PgError{Code: "23503", Message: "violates foreign key constraint"})
	mock.ExpectRollback()

	_, err := ing.InsertUrlTest(t.Context(), 999, sampleMeasurement(), sampleAnalysis(), "shot.png", "net.har")
	var runMissing *errs.RunMissing
	if !errors.As(err, &runMissing) {
		t.Fatalf("expected errs.RunMissing, got %v (%T)", err, err)
	}
}

func TestInsertUrlTestRollsBackOnPartialFailure(t *testing.T) {
	ing, mock := newMockIngestor(t)

	mock.ExpectBegin()
	mock.ExpectPrepare(`INSERT INTO url_tests`).ExpectQuery().WillReturnRows(
		sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec(`INSERT INTO status_histogram`).WillReturnError(sqlmock.ErrCancelled)
	mock.ExpectRollback()

	_, err := ing.InsertUrlTest(t.Context(), 1, sampleMeasurement(), sampleAnalysis(), "shot.png", "net.har")
	if err == nil {
		t.Fatal("expected an error when a satellite insert fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
