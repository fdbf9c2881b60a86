// Package query implements the Query Layer (C8): the fourteen read-only
// projections the HTTP API serves, each a method on Queries wrapping the
// shared *sqlx.DB.
//
// Grounded on spec.md §4.8. Every method returns errs.NotFound for an
// absent single entity and errs.BadRequest for invalid input (the
// DailyAverageLoadTime time zone), matching the error-kind discipline the
// rest of the system follows.
package query

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pumpkinperf/pumpkin/internal/errs"
	"github.com/pumpkinperf/pumpkin/internal/har"
	"github.com/pumpkinperf/pumpkin/internal/store"
)

// Queries answers the read-only projections the API serves.
type Queries struct {
	db *sqlx.DB
}

// New returns a Queries backed by db.
func New(db *store.DB) *Queries {
	return &Queries{db: db.DB}
}

// RunSummary is one row of a run listing or detail view.
type RunSummary struct {
	ID                   int64          `db:"id" json:"id"`
	UUID                 string         `db:"uuid" json:"uuid"`
	RunTimestamp         time.Time      `db:"run_timestamp" json:"runTimestamp"`
	DeclaredTargetCount  int            `db:"declared_target_count" json:"declaredTargetCount"`
	RequestedParallelism int            `db:"requested_parallelism" json:"requestedParallelism"`
	TotalDurationMs      sql.NullInt64  `db:"total_duration_ms" json:"totalDurationMs"`
	Passed               int            `db:"passed" json:"passed"`
	Failed               int            `db:"failed" json:"failed"`
	Status               string         `db:"status" json:"status"`
	Notes                sql.NullString `db:"notes" json:"notes"`
}

// UrlTestSummary is one row of a test listing (run detail, slowest,
// fastest, domain trend, tests-for-url).
type UrlTestSummary struct {
	ID               int64             `db:"id" json:"id"`
	UUID             string            `db:"uuid" json:"uuid"`
	RunID            int64             `db:"run_id" json:"runId"`
	URL              string            `db:"url" json:"url"`
	Hostname         string            `db:"hostname" json:"hostname"`
	Status           string            `db:"status" json:"status"`
	TotalPageLoadMs  store.NullDecimal `db:"total_page_load_ms" json:"totalPageLoadMs"`
	TimeToFirstByte  store.NullDecimal `db:"time_to_first_byte_ms" json:"timeToFirstByteMs"`
	TestTimestamp    time.Time         `db:"test_timestamp" json:"testTimestamp"`
}

// UrlTestDetail is a full url_test row joined with its run's timestamp.
type UrlTestDetail struct {
	store.UrlTest
	RunTimestamp time.Time `db:"run_timestamp"`
	RunUUID      string    `db:"run_uuid"`
}

// RunSummaryWithAverages is GetLatestRun's "run summary + averages" row
// (spec.md §4.8), backed by the v_latest_test_run view (spec.md §4.4).
type RunSummaryWithAverages struct {
	RunSummary
	SampleCount           int             `db:"sample_count" json:"sampleCount"`
	AvgTotalPageLoadMs    sql.NullFloat64 `db:"avg_total_page_load_ms" json:"avgTotalPageLoadMs"`
	AvgTimeToFirstByteMs  sql.NullFloat64 `db:"avg_time_to_first_byte_ms" json:"avgTimeToFirstByteMs"`
	AvgDomContentLoadedMs sql.NullFloat64 `db:"avg_dom_content_loaded_ms" json:"avgDomContentLoadedMs"`
}

// FailedRequestRow is one entry derived from a test's HAR (spec.md §4.8).
type FailedRequestRow struct {
	RequestURL string `json:"requestUrl"`
	StatusCode int    `json:"statusCode"`
	Category   string `json:"category"`
}

// DailyAverage is one bucketed row from DailyAverageLoadTime.
type DailyAverage struct {
	Date  string  `db:"test_day" json:"date"`
	AvgMs float64 `db:"avg_ms" json:"avgMs"`
	Count int     `db:"sample_count" json:"count"`
}

const runSummaryColumns = `id, uuid, run_timestamp, declared_target_count, requested_parallelism,
	total_duration_ms, passed, failed, status, notes`

const urlTestSummaryColumns = `id, uuid, run_id, url, hostname, status,
	total_page_load_ms, time_to_first_byte_ms, test_timestamp`

// GetLatestRun returns the most recently started run with its url_tests
// averages attached, via v_latest_test_run.
func (q *Queries) GetLatestRun(ctx context.Context) (RunSummaryWithAverages, error) {
	var r RunSummaryWithAverages
	err := q.db.GetContext(ctx, &r, `SELECT * FROM v_latest_test_run`)
	if errors.Is(err, sql.ErrNoRows) {
		return RunSummaryWithAverages{}, &errs.NotFound{Entity: "run", ID: "latest"}
	}
	return r, err
}

// ListRuns returns the most recent limit runs, newest first.
func (q *Queries) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	var rs []RunSummary
	err := q.db.SelectContext(ctx, &rs,
		`SELECT `+runSummaryColumns+` FROM runs ORDER BY run_timestamp DESC LIMIT $1`, limit)
	return rs, err
}

// GetRun returns one run by id.
func (q *Queries) GetRun(ctx context.Context, id int64) (RunSummary, error) {
	var r RunSummary
	err := q.db.GetContext(ctx, &r, `SELECT `+runSummaryColumns+` FROM runs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return RunSummary{}, &errs.NotFound{Entity: "run", ID: id}
	}
	return r, err
}

// ListUrlTestsForRun returns every test belonging to run id, oldest first.
func (q *Queries) ListUrlTestsForRun(ctx context.Context, id int64) ([]UrlTestSummary, error) {
	var rs []UrlTestSummary
	err := q.db.SelectContext(ctx, &rs,
		`SELECT `+urlTestSummaryColumns+` FROM url_tests WHERE run_id = $1 ORDER BY test_timestamp ASC`, id)
	return rs, err
}

// GetUrlTest returns one test's full row joined with its run's timestamp
// and uuid.
func (q *Queries) GetUrlTest(ctx context.Context, id int64) (UrlTestDetail, error) {
	var d UrlTestDetail
	err := q.db.GetContext(ctx, &d, `
		SELECT ut.*, r.run_timestamp AS run_timestamp, r.uuid AS run_uuid
		FROM url_tests ut JOIN runs r ON r.id = ut.run_id
		WHERE ut.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return UrlTestDetail{}, &errs.NotFound{Entity: "url_test", ID: id}
	}
	return d, err
}

// GetFailedRequestsForTest returns every >=400 request recorded in test
// id's HAR, ordered by ascending status code then HAR insertion order
// (spec.md §4.8). The table only stores the HAR's path; the per-request
// detail is re-derived by internal/har on read, matching C3's contract
// that the HAR on disk, not the database, is authoritative for it.
func (q *Queries) GetFailedRequestsForTest(ctx context.Context, id int64) ([]FailedRequestRow, error) {
	var harPath string
	err := q.db.GetContext(ctx, &harPath, `SELECT har_path FROM url_tests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &errs.NotFound{Entity: "url_test", ID: id}
	}
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(harPath)
	if err != nil {
		return nil, &errs.ArtifactIO{Path: harPath, Cause: err}
	}

	analysis := har.Parse(raw)
	rows := make([]FailedRequestRow, 0, len(analysis.FailedRequests))
	for _, fr := range analysis.FailedRequests {
		rows = append(rows, FailedRequestRow{
			RequestURL: fr.RequestURL,
			StatusCode: fr.StatusCode,
			Category:   string(fr.Category),
		})
	}
	sortFailedRequests(rows)
	return rows, nil
}

// ListSlowestInLatest returns the slowest limit tests in the latest run.
func (q *Queries) ListSlowestInLatest(ctx context.Context, limit int) ([]UrlTestSummary, error) {
	return q.listInLatestRun(ctx, limit, "DESC")
}

// ListFastestInLatest returns the fastest limit tests in the latest run.
func (q *Queries) ListFastestInLatest(ctx context.Context, limit int) ([]UrlTestSummary, error) {
	return q.listInLatestRun(ctx, limit, "ASC")
}

// ListErrorsInLatestRun returns every test in the latest run whose status
// did not pass, or whose response histogram contains a 4xx/5xx code
// (v_tests_with_errors, spec.md §4.4), newest first.
func (q *Queries) ListErrorsInLatestRun(ctx context.Context, limit int) ([]UrlTestDetail, error) {
	var rs []UrlTestDetail
	err := q.db.SelectContext(ctx, &rs, `
		SELECT * FROM v_tests_with_errors
		WHERE run_id = (SELECT id FROM runs ORDER BY run_timestamp DESC LIMIT 1)
		ORDER BY test_timestamp DESC LIMIT $1`, limit)
	return rs, err
}

func (q *Queries) listInLatestRun(ctx context.Context, limit int, direction string) ([]UrlTestSummary, error) {
	order := "ASC"
	if direction == "DESC" {
		order = "DESC"
	}
	var rs []UrlTestSummary
	err := q.db.SelectContext(ctx, &rs, `
		SELECT `+urlTestSummaryColumns+` FROM url_tests
		WHERE run_id = (SELECT id FROM runs ORDER BY run_timestamp DESC LIMIT 1)
		ORDER BY total_page_load_ms `+order+` LIMIT $1`, limit)
	return rs, err
}

const urlTestSummaryColumnsQualified = `ut.id, ut.uuid, ut.run_id, ut.url, ut.hostname, ut.status,
	ut.total_page_load_ms, ut.time_to_first_byte_ms, ut.test_timestamp`

// DomainTrend returns the limit most recent tests for host, across all
// runs, newest first.
func (q *Queries) DomainTrend(ctx context.Context, host string, limit int) ([]UrlTestSummary, error) {
	var rs []UrlTestSummary
	err := q.db.SelectContext(ctx, &rs, `
		SELECT `+urlTestSummaryColumnsQualified+` FROM url_tests ut
		JOIN runs r ON r.id = ut.run_id
		WHERE ut.hostname = $1
		ORDER BY r.run_timestamp DESC LIMIT $2`, host, limit)
	return rs, err
}

// UrlAutocomplete returns distinct hostnames matching prefix, alphabetical.
func (q *Queries) UrlAutocomplete(ctx context.Context, prefix string, limit int) ([]string, error) {
	var hosts []string
	err := q.db.SelectContext(ctx, &hosts, `
		SELECT DISTINCT hostname FROM url_tests
		WHERE hostname LIKE $1 ORDER BY hostname ASC LIMIT $2`, prefix+"%", limit)
	return hosts, err
}

// TestsForUrl returns the limit most recent tests for host, newest first.
func (q *Queries) TestsForUrl(ctx context.Context, host string, limit int) ([]UrlTestSummary, error) {
	var rs []UrlTestSummary
	err := q.db.SelectContext(ctx, &rs, `
		SELECT `+urlTestSummaryColumns+` FROM url_tests
		WHERE hostname = $1 ORDER BY test_timestamp DESC LIMIT $2`, host, limit)
	return rs, err
}

// tzPattern is the IANA-or-UTC pattern spec.md §4.8 requires.
const tzPattern = `^[A-Za-z_]+/[A-Za-z_]+$|^UTC$`

// DailyAverageLoadTime buckets host's passing tests by calendar day in tz
// over the last days days. tz must match tzPattern.
func (q *Queries) DailyAverageLoadTime(ctx context.Context, host string, days int, tz string) ([]DailyAverage, error) {
	if !validTimezone(tz) {
		return nil, &errs.BadRequest{Field: "timezone", Reason: "must be an IANA zone like Region/City, or UTC"}
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, &errs.BadRequest{Field: "timezone", Reason: "unknown IANA zone"}
	}

	var rs []DailyAverage
	err := q.db.SelectContext(ctx, &rs, `
		WITH days AS (
			SELECT generate_series(
				(now() AT TIME ZONE $1)::date - ($3::int - 1),
				(now() AT TIME ZONE $1)::date,
				'1 day'::interval
			)::date AS day
		)
		SELECT
			to_char(d.day, 'YYYY-MM-DD') AS test_day,
			coalesce(avg(ut.total_page_load_ms), 0) AS avg_ms,
			count(ut.id) AS sample_count
		FROM days d
		LEFT JOIN url_tests ut
			ON ut.hostname = $2
			AND ut.status = 'PASSED'
			AND (ut.test_timestamp AT TIME ZONE $1)::date = d.day
		GROUP BY d.day
		ORDER BY d.day ASC`, tz, host, days)
	return rs, err
}

// AvailableDates returns every calendar date (UTC) with at least one run,
// newest first.
func (q *Queries) AvailableDates(ctx context.Context) ([]string, error) {
	var dates []string
	err := q.db.SelectContext(ctx, &dates, `
		SELECT DISTINCT to_char(run_timestamp AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS d
		FROM runs ORDER BY d DESC`)
	return dates, err
}

// RunsByDate returns every run started on date (YYYY-MM-DD, UTC), newest
// first.
func (q *Queries) RunsByDate(ctx context.Context, date string) ([]RunSummary, error) {
	var rs []RunSummary
	err := q.db.SelectContext(ctx, &rs, `
		SELECT `+runSummaryColumns+` FROM runs
		WHERE to_char(run_timestamp AT TIME ZONE 'UTC', 'YYYY-MM-DD') = $1
		ORDER BY run_timestamp DESC`, date)
	return rs, err
}
