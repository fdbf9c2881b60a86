package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/pumpkinperf/pumpkin/internal/query"
	"github.com/pumpkinperf/pumpkin/internal/store"
)

func newTestAPI(t *testing.T) (*API, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
		sqlmock.MonitorPingsOption(true),
	)
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sdb := store.WrapDB(sqlx.NewDb(db, "sqlmock"), nil)
	return New(query.New(sdb), sdb, nil), mock
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestHealthReportsDisconnectedOnOpenBreaker(t *testing.T) {
	a, mock := newTestAPI(t)
	for i := 0; i < 3; i++ {
		mock.ExpectPing().WillReturnError(sql.ErrConnDone)
		_ = a.db.Ping(t.Context())
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	a.ServeHTTP(rr, req)

	env := decodeEnvelope(t, rr)
	if !env.Success {
		t.Fatalf("expected success envelope, got %+v", env)
	}
	data := env.Data.(map[string]any)
	if data["database"] != "disconnected" {
		t.Fatalf("got database=%v, want disconnected", data["database"])
	}
}

func TestGetRunNotFoundReturns404(t *testing.T) {
	a, mock := newTestAPI(t)
	mock.ExpectQuery(`SELECT .* FROM runs`).WillReturnError(sql.ErrNoRows)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/runs/42", nil)
	a.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want 404", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if env.Success {
		t.Fatalf("expected failure envelope, got %+v", env)
	}
}

func TestGetRunBadIDReturns400(t *testing.T) {
	a, _ := newTestAPI(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/runs/not-a-number", nil)
	a.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", rr.Code)
	}
}

func TestDailyAveragesBadTimezoneReturns400(t *testing.T) {
	a, _ := newTestAPI(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/urls/example.com/daily-averages?timezone=nope", nil)
	a.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", rr.Code)
	}
}

func TestListRunsReturnsRows(t *testing.T) {
	a, mock := newTestAPI(t)
	rows := sqlmock.NewRows([]string{
		"id", "uuid", "run_timestamp", "declared_target_count", "requested_parallelism",
		"total_duration_ms", "passed", "failed", "status", "notes",
	})
	mock.ExpectQuery(`SELECT .* FROM runs`).WillReturnRows(rows)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/runs?limit=5", nil)
	a.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if !env.Success {
		t.Fatalf("expected success envelope, got %+v", env)
	}
}
