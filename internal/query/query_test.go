package query

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/pumpkinperf/pumpkin/internal/errs"
	pumpkinstore "github.com/pumpkinperf/pumpkin/internal/store"
)

func newTestQueries(t *testing.T) (*Queries, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return New(pumpkinstore.WrapDB(sqlx.NewDb(db, "sqlmock"), nil)), mock
}

func TestGetLatestRunNotFound(t *testing.T) {
	q, mock := newTestQueries(t)
	mock.ExpectQuery(`SELECT \* FROM v_latest_test_run`).WillReturnError(sql.ErrNoRows)

	_, err := q.GetLatestRun(t.Context())
	var notFound *errs.NotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("got %v, want errs.NotFound", err)
	}
}

func TestGetLatestRunReturnsRowWithAverages(t *testing.T) {
	q, mock := newTestQueries(t)
	rows := sqlmock.NewRows([]string{
		"id", "uuid", "run_timestamp", "declared_target_count", "requested_parallelism",
		"total_duration_ms", "passed", "failed", "status", "notes",
		"sample_count", "avg_total_page_load_ms", "avg_time_to_first_byte_ms", "avg_dom_content_loaded_ms",
	}).AddRow(1, "u-1", time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC), 3, 2, 1000, 3, 0, "COMPLETED", nil,
		3, 640.5, 120.25, 300.0)
	mock.ExpectQuery(`SELECT \* FROM v_latest_test_run`).WillReturnRows(rows)

	r, err := q.GetLatestRun(t.Context())
	if err != nil {
		t.Fatalf("GetLatestRun: %v", err)
	}
	if r.Status != "COMPLETED" || r.Passed != 3 {
		t.Fatalf("unexpected row: %+v", r)
	}
	if r.SampleCount != 3 || !r.AvgTotalPageLoadMs.Valid || r.AvgTotalPageLoadMs.Float64 != 640.5 {
		t.Fatalf("averages not attached: %+v", r)
	}
}

func TestDailyAverageLoadTimeRejectsBadTimezone(t *testing.T) {
	q, _ := newTestQueries(t)

	_, err := q.DailyAverageLoadTime(t.Context(), "example.com", 7, "not a timezone")
	var badRequest *errs.BadRequest
	if !errors.As(err, &badRequest) {
		t.Fatalf("got %v, want errs.BadRequest", err)
	}
}

func TestDailyAverageLoadTimeAcceptsUTC(t *testing.T) {
	q, mock := newTestQueries(t)
	mock.ExpectQuery(`SELECT`).WillReturnRows(
		sqlmock.NewRows([]string{"test_day", "avg_ms", "sample_count"}))

	if _, err := q.DailyAverageLoadTime(t.Context(), "example.com", 7, "UTC"); err != nil {
		t.Fatalf("DailyAverageLoadTime: %v", err)
	}
}

func TestDailyAverageLoadTimeZeroFillsDaysWithNoTests(t *testing.T) {
	q, mock := newTestQueries(t)
	mock.ExpectQuery(`SELECT`).WillReturnRows(
		sqlmock.NewRows([]string{"test_day", "avg_ms", "sample_count"}).
			AddRow("2026-03-01", 0.0, 0).
			AddRow("2026-03-02", 640.5, 2))

	rs, err := q.DailyAverageLoadTime(t.Context(), "example.com", 2, "UTC")
	if err != nil {
		t.Fatalf("DailyAverageLoadTime: %v", err)
	}
	if len(rs) != 2 {
		t.Fatalf("got %d rows, want 2 (one per day in range, zero-filled)", len(rs))
	}
	if rs[0].Count != 0 || rs[0].AvgMs != 0 {
		t.Fatalf("day with no tests should be (date, 0, 0), got %+v", rs[0])
	}
}

func TestGetFailedRequestsForTestReadsHAR(t *testing.T) {
	q, mock := newTestQueries(t)

	harPath := filepath.Join(t.TempDir(), "network.har")
	harJSON := `{"log":{"version":"1.2","creator":{"name":"pumpkin","version":"1"},
		"entries":[
			{"request":{"url":"https://example.com/a"},"response":{"status":500}},
			{"request":{"url":"https://example.com/b"},"response":{"status":404}}
		]}}`
	if err := os.WriteFile(harPath, []byte(harJSON), 0o644); err != nil {
		t.Fatalf("write har: %v", err)
	}

	mock.ExpectQuery(`SELECT har_path FROM url_tests`).WillReturnRows(
		sqlmock.NewRows([]string{"har_path"}).AddRow(harPath))

	rows, err := q.GetFailedRequestsForTest(t.Context(), 1)
	if err != nil {
		t.Fatalf("GetFailedRequestsForTest: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].StatusCode != 404 || rows[1].StatusCode != 500 {
		t.Fatalf("expected ascending status code order, got %+v", rows)
	}
}
