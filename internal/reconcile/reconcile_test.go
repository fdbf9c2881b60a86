package reconcile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/pumpkinperf/pumpkin/internal/artifact"
	"github.com/pumpkinperf/pumpkin/internal/errs"
	"github.com/pumpkinperf/pumpkin/internal/store"
)

func newTestReconciler(t *testing.T) (*Reconciler, sqlmock.Sqlmock, *artifact.Store) {
	t.Helper()
	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
		sqlmock.MonitorPingsOption(true),
	)
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	as, err := artifact.NewStore(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("artifact.NewStore: %v", err)
	}

	sdb := store.WrapDB(sqlx.NewDb(db, "sqlmock"), nil)
	return New(sdb, as, nil), mock, as
}

func mkdir(t *testing.T, base *artifact.Store, name string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(base.BaseDir(), name), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", name, err)
	}
}

func TestCleanDryRunReportsOrphansWithoutDeleting(t *testing.T) {
	r, mock, as := newTestReconciler(t)

	mkdir(t, as, "kept-dir")
	mkdir(t, as, "orphan-dir")

	mock.ExpectQuery(`SELECT screenshot_path`).WillReturnRows(
		sqlmock.NewRows([]string{"screenshot_path"}).
			AddRow(filepath.Join(as.BaseDir(), "kept-dir", "screenshot.png")))

	res, err := r.Clean(t.Context(), true)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if len(res.Deleted) != 0 {
		t.Fatalf("dry run must not delete anything, got %v", res.Deleted)
	}
	if len(res.Orphans) != 1 || res.Orphans[0] != "orphan-dir" {
		t.Fatalf("unexpected orphans: %v", res.Orphans)
	}
	if _, statErr := os.Stat(filepath.Join(as.BaseDir(), "orphan-dir")); statErr != nil {
		t.Fatalf("orphan-dir must still exist after dry run: %v", statErr)
	}
}

func TestCleanDeletesOrphansWhenNotDryRun(t *testing.T) {
	r, mock, as := newTestReconciler(t)

	mkdir(t, as, "kept-dir")
	mkdir(t, as, "orphan-dir")

	mock.ExpectQuery(`SELECT screenshot_path`).WillReturnRows(
		sqlmock.NewRows([]string{"screenshot_path"}).
			AddRow(filepath.Join(as.BaseDir(), "kept-dir", "screenshot.png")))

	res, err := r.Clean(t.Context(), false)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if len(res.Deleted) != 1 || res.Deleted[0] != "orphan-dir" {
		t.Fatalf("unexpected deleted: %v", res.Deleted)
	}
	if _, statErr := os.Stat(filepath.Join(as.BaseDir(), "orphan-dir")); !os.IsNotExist(statErr) {
		t.Fatalf("orphan-dir must be removed, stat err: %v", statErr)
	}
	if _, statErr := os.Stat(filepath.Join(as.BaseDir(), "kept-dir")); statErr != nil {
		t.Fatalf("kept-dir must survive: %v", statErr)
	}
}

func TestCleanRefusesWhenDatabaseUnreachable(t *testing.T) {
	r, mock, _ := newTestReconciler(t)
	for i := 0; i < 3; i++ {
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		_ = r.db.Ping(t.Context())
	}

	_, err := r.Clean(t.Context(), true)
	var dbUnavailable *errs.DatabaseUnavailable
	if !errors.As(err, &dbUnavailable) {
		t.Fatalf("got %v, want errs.DatabaseUnavailable", err)
	}
}
