package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/pumpkinperf/pumpkin/internal/artifact"
	"github.com/pumpkinperf/pumpkin/internal/browser"
	"github.com/pumpkinperf/pumpkin/internal/coordinator"
	"github.com/pumpkinperf/pumpkin/internal/ingest"
	"github.com/pumpkinperf/pumpkin/internal/store"
)

// countingDriver records how many distinct URLs it was asked to measure
// and, for urls named in panicOn, panics once instead of returning
// normally (property P8: a crash in one job does not affect the others).
type countingDriver struct {
	mu       sync.Mutex
	measured []string
	panicOn  map[string]bool
}

func (d *countingDriver) Measure(ctx context.Context, url, screenshotPath, harPath string) (browser.Measurement, error) {
	d.mu.Lock()
	d.measured = append(d.measured, url)
	d.mu.Unlock()

	if d.panicOn[url] {
		panic("simulated driver crash")
	}
	return browser.Measurement{URL: url, Status: browser.StatusPassed}, nil
}

// slowDriver blocks until ctx is done, exercising the per-job deadline
// (property P9).
type slowDriver struct {
	invocations int32
}

func (d *slowDriver) Measure(ctx context.Context, url, screenshotPath, harPath string) (browser.Measurement, error) {
	atomic.AddInt32(&d.invocations, 1)
	<-ctx.Done()
	return browser.Measurement{URL: url, Status: browser.StatusTimeout}, nil
}

func newTestScheduler(t *testing.T, driver browser.Driver, urlCount int) (*Scheduler, sqlmock.Sqlmock) {
	t.Helper()

	artifactStore, err := artifact.NewStore(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("artifact.NewStore: %v", err)
	}

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	for i := 0; i < urlCount; i++ {
		mock.ExpectBegin()
		mock.ExpectPrepare(`INSERT INTO url_tests`).ExpectQuery().WillReturnRows(
			sqlmock.NewRows([]string{"id"}).AddRow(int64(i + 1)))
		mock.ExpectCommit()
	}

	ing := ingest.New(store.WrapDB(sqlx.NewDb(db, "sqlmock"), nil), nil)

	return New(driver, artifactStore, ing, nil), mock
}

func TestSchedulerEmptyInputIsAllPassed(t *testing.T) {
	s, _ := newTestScheduler(t, &countingDriver{}, 0)

	durationMs, outcome, err := s.Run(t.Context(), 1, nil, 4)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != coordinator.OutcomeAllPassed {
		t.Fatalf("got outcome %v, want allPassed", outcome)
	}
	if durationMs != 0 {
		t.Fatalf("got duration %dms, want 0", durationMs)
	}
}

func TestSchedulerWorkersExceedingURLCountIsNotAnError(t *testing.T) {
	driver := &countingDriver{panicOn: map[string]bool{}}
	urls := []string{"https://a.example", "https://b.example"}
	s, _ := newTestScheduler(t, driver, len(urls))

	_, outcome, err := s.Run(t.Context(), 1, urls, 10)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != coordinator.OutcomeAllPassed {
		t.Fatalf("got outcome %v, want allPassed", outcome)
	}
	if len(driver.measured) != len(urls) {
		t.Fatalf("got %d measured urls, want %d", len(driver.measured), len(urls))
	}
}

func TestSchedulerContainsWorkerPanic(t *testing.T) {
	urls := []string{"https://a.example", "https://b.example", "https://c.example"}
	driver := &countingDriver{panicOn: map[string]bool{"https://b.example": true}}
	s, _ := newTestScheduler(t, driver, len(urls))

	_, outcome, err := s.Run(t.Context(), 1, urls, 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != coordinator.OutcomeSomePassed {
		t.Fatalf("got outcome %v, want somePassed", outcome)
	}
	if len(driver.measured) != len(urls) {
		t.Fatalf("got %d measured urls, want %d (the panic must not stop the others)", len(driver.measured), len(urls))
	}
}

func TestSchedulerPerJobDeadlineTimesOut(t *testing.T) {
	driver := &slowDriver{}
	urls := []string{"https://slow.example"}
	s, _ := newTestScheduler(t, driver, len(urls))

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()

	_, outcome, err := s.Run(ctx, 1, urls, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != coordinator.OutcomeSomePassed && outcome != coordinator.OutcomeNoneCompleted {
		t.Fatalf("got outcome %v, want a non-allPassed outcome", outcome)
	}
	if atomic.LoadInt32(&driver.invocations) != 1 {
		t.Fatalf("expected the slow driver to be invoked once, got %d", driver.invocations)
	}
}
