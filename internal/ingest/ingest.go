// Package ingest implements the Ingestor (C5): it writes one completed
// browser.Measurement and its HAR analysis into the relational store as a
// single atomic transaction.
//
// Grounded on internal/store's schema (spec.md §4.5) and the teacher's
// habit of wrapping multi-step persistence in one *sqlx.Tx (see the
// teacher's internal/storage package, which always commits-or-rolls-back
// around a single logical write).
package ingest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/pumpkinperf/pumpkin/internal/browser"
	"github.com/pumpkinperf/pumpkin/internal/errs"
	"github.com/pumpkinperf/pumpkin/internal/har"
	"github.com/pumpkinperf/pumpkin/internal/store"
)

// browserFamily is constant because ChromeDriver is the only Driver
// implementation the system ships today (spec.md §4.2).
const browserFamily = "chromium"

const pgUniqueViolation = "23505"
const pgForeignKeyViolation = "23503"

// Ingestor writes measurements to the store.
type Ingestor struct {
	db     *store.DB
	logger *zap.Logger
}

// New returns an Ingestor backed by db.
func New(db *store.DB, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{db: db, logger: logger}
}

// Result is the row identity produced by a successful insert.
type Result struct {
	ID   int64
	UUID string
}

// InsertUrlTest writes measurement (plus analysis derived from the HAR it
// produced) as one url_test row and its normalized satellite rows, all
// within a single transaction (spec.md §4.5). A uuid collision is retried
// once with a freshly generated uuid, and a connection-class failure is
// retried once on a fresh connection; any other failure after the retry is
// mapped to errs.RunMissing or errs.IngestPersistent.
func (ig *Ingestor) InsertUrlTest(ctx context.Context, runID int64, m browser.Measurement, analysis har.Analysis, screenshotPath, harPath string) (Result, error) {
	res, err := ig.insertOnce(ctx, runID, m, analysis, screenshotPath, harPath, uuid.NewString())
	if isUniqueViolation(err) {
		ig.logger.Warn("url_test uuid collision, retrying once", zap.Int64("run_id", runID))
		res, err = ig.insertOnce(ctx, runID, m, analysis, screenshotPath, harPath, uuid.NewString())
	}
	if err != nil && (errors.Is(err, driver.ErrBadConn) || pgconn.SafeToRetry(err)) {
		ig.logger.Warn("url_test insert lost its connection, retrying once", zap.Int64("run_id", runID))
		res, err = ig.insertOnce(ctx, runID, m, analysis, screenshotPath, harPath, uuid.NewString())
	}
	if err != nil {
		if isForeignKeyViolation(err) {
			return Result{}, &errs.RunMissing{RunID: runID}
		}
		return Result{}, &errs.IngestPersistent{URL: m.URL, Cause: err}
	}
	return res, nil
}

// insertOnce runs the three-step transaction once, through the store's
// circuit breaker. It does not retry; InsertUrlTest retries a
// connection-class failure once (spec.md §4.5: "transient connection drop
// -> one reconnect+retry") before reporting IngestPersistent.
func (ig *Ingestor) insertOnce(ctx context.Context, runID int64, m browser.Measurement, analysis har.Analysis, screenshotPath, harPath, testUUID string) (Result, error) {
	var result Result

	_, execErr := ig.db.Breaker().Execute(func() (any, error) {
		tx, err := ig.db.BeginTxx(ctx, nil)
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		row := buildRow(runID, testUUID, m, analysis, screenshotPath, harPath)

		const insertTest = `
			INSERT INTO url_tests (
				uuid, run_id, url, hostname, browser_family, user_agent, page_title,
				test_duration_ms, scroll_duration_ms, status, error_message,
				dns_lookup_ms, tcp_connection_ms, tls_negotiation_ms, time_to_first_byte_ms,
				response_time_ms, dom_content_loaded_ms, dom_interactive_ms, total_page_load_ms,
				doc_transfer_size, doc_encoded_size, doc_decoded_size,
				total_resources, total_transfer_size, total_encoded_size,
				resources_by_type, http_response_codes,
				screenshot_path, har_path
			) VALUES (
				:uuid, :run_id, :url, :hostname, :browser_family, :user_agent, :page_title,
				:test_duration_ms, :scroll_duration_ms, :status, :error_message,
				:dns_lookup_ms, :tcp_connection_ms, :tls_negotiation_ms, :time_to_first_byte_ms,
				:response_time_ms, :dom_content_loaded_ms, :dom_interactive_ms, :total_page_load_ms,
				:doc_transfer_size, :doc_encoded_size, :doc_decoded_size,
				:total_resources, :total_transfer_size, :total_encoded_size,
				:resources_by_type, :http_response_codes,
				:screenshot_path, :har_path
			) RETURNING id`

		stmt, err := tx.PrepareNamedContext(ctx, insertTest)
		if err != nil {
			return nil, err
		}
		if err := stmt.GetContext(ctx, &result.ID, row); err != nil {
			stmt.Close()
			return nil, err
		}
		stmt.Close()
		result.UUID = testUUID

		for code, count := range analysis.StatusHistogram {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO status_histogram (url_test_id, status_code, response_count) VALUES ($1, $2, $3)`,
				result.ID, code, count); err != nil {
				return nil, err
			}
		}

		for kind, count := range m.ResourcesByType {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO resource_types (url_test_id, resource_type, resource_count) VALUES ($1, $2, $3)`,
				result.ID, kind, count); err != nil {
				return nil, err
			}
		}

		return nil, tx.Commit()
	})

	return result, execErr
}

type urlTestRow struct {
	UUID             string `db:"uuid"`
	RunID            int64  `db:"run_id"`
	URL              string `db:"url"`
	Hostname         string `db:"hostname"`
	BrowserFamily    string `db:"browser_family"`
	UserAgent        string `db:"user_agent"`
	PageTitle        sql.NullString `db:"page_title"`
	TestDurationMs   int64  `db:"test_duration_ms"`
	ScrollDurationMs int64  `db:"scroll_duration_ms"`
	Status           string `db:"status"`
	ErrorMessage     sql.NullString `db:"error_message"`

	DNSLookupMs        store.NullDecimal `db:"dns_lookup_ms"`
	TCPConnectionMs    store.NullDecimal `db:"tcp_connection_ms"`
	TLSNegotiationMs   store.NullDecimal `db:"tls_negotiation_ms"`
	TimeToFirstByteMs  store.NullDecimal `db:"time_to_first_byte_ms"`
	ResponseTimeMs     store.NullDecimal `db:"response_time_ms"`
	DOMContentLoadedMs store.NullDecimal `db:"dom_content_loaded_ms"`
	DOMInteractiveMs   store.NullDecimal `db:"dom_interactive_ms"`
	TotalPageLoadMs    store.NullDecimal `db:"total_page_load_ms"`

	DocTransferSize sql.NullInt64 `db:"doc_transfer_size"`
	DocEncodedSize  sql.NullInt64 `db:"doc_encoded_size"`
	DocDecodedSize  sql.NullInt64 `db:"doc_decoded_size"`

	TotalResources    int   `db:"total_resources"`
	TotalTransferSize int64 `db:"total_transfer_size"`
	TotalEncodedSize  int64 `db:"total_encoded_size"`

	ResourcesByType   store.JSONIntMap `db:"resources_by_type"`
	HTTPResponseCodes store.JSONIntMap `db:"http_response_codes"`

	ScreenshotPath string `db:"screenshot_path"`
	HARPath        string `db:"har_path"`
}

func buildRow(runID int64, testUUID string, m browser.Measurement, analysis har.Analysis, screenshotPath, harPath string) urlTestRow {
	hostname := m.URL
	if u, err := url.Parse(m.URL); err == nil && u.Hostname() != "" {
		hostname = u.Hostname()
	}

	histogram := store.JSONIntMap{}
	for code, count := range analysis.StatusHistogram {
		histogram[strconv.Itoa(code)] = count
	}

	resources := store.JSONIntMap(m.ResourcesByType)
	if resources == nil {
		resources = store.JSONIntMap{}
	}

	row := urlTestRow{
		UUID:              testUUID,
		RunID:             runID,
		URL:               m.URL,
		Hostname:          hostname,
		BrowserFamily:     browserFamily,
		UserAgent:         m.UserAgent,
		TestDurationMs:    m.TestDurationMs,
		ScrollDurationMs:  m.ScrollDurationMs,
		Status:            string(m.Status),
		TotalResources:    m.TotalResources,
		TotalTransferSize: m.TotalTransferSize,
		TotalEncodedSize:  m.TotalEncodedSize,
		ResourcesByType:   resources,
		HTTPResponseCodes: histogram,
		ScreenshotPath:    screenshotPath,
		HARPath:           harPath,

		DNSLookupMs:        store.NewNullDecimal(m.Navigation.DNSLookup),
		TCPConnectionMs:    store.NewNullDecimal(m.Navigation.TCPConnection),
		TLSNegotiationMs:   store.NewNullDecimal(m.Navigation.TLSNegotiation),
		TimeToFirstByteMs:  store.NewNullDecimal(m.Navigation.TimeToFirstByte),
		ResponseTimeMs:     store.NewNullDecimal(m.Navigation.ResponseTime),
		DOMContentLoadedMs: store.NewNullDecimal(m.Navigation.DOMContentLoaded),
		DOMInteractiveMs:   store.NewNullDecimal(m.Navigation.DOMInteractive),
		TotalPageLoadMs:    store.NewNullDecimal(m.Navigation.TotalPageLoad),
	}
	if m.PageTitle != "" {
		row.PageTitle = sql.NullString{String: m.PageTitle, Valid: true}
	}
	if m.ErrorMessage != "" {
		row.ErrorMessage = sql.NullString{String: m.ErrorMessage, Valid: true}
	}
	if m.Navigation.DocTransferSize != nil {
		row.DocTransferSize = sql.NullInt64{Int64: *m.Navigation.DocTransferSize, Valid: true}
	}
	if m.Navigation.DocEncodedSize != nil {
		row.DocEncodedSize = sql.NullInt64{Int64: *m.Navigation.DocEncodedSize, Valid: true}
	}
	if m.Navigation.DocDecodedSize != nil {
		row.DocDecodedSize = sql.NullInt64{Int64: *m.Navigation.DocDecodedSize, Valid: true}
	}
	return row
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == pgUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	return pgErrorCode(err) == pgForeignKeyViolation
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
