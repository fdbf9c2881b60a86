// Package store implements the Data Store (C4): the relational schema for
// runs, url_tests, and their normalized satellite tables, plus the
// connection management around it.
//
// Grounded on the pack's data-storage stack (github.com/jmoiron/sqlx over
// github.com/jackc/pgx/v5's stdlib driver, github.com/pressly/goose/v3 for
// migrations) — the teacher repo has no persistence layer of its own.
package store

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// RunStatus is the lifecycle state of a Run (spec.md §3, "Lifecycle").
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusPartial   RunStatus = "PARTIAL"
	RunStatusFailed    RunStatus = "FAILED"
)

// UrlTestStatus is the terminal status of one UrlTest (spec.md §3).
type UrlTestStatus string

const (
	UrlTestStatusPassed  UrlTestStatus = "PASSED"
	UrlTestStatusFailed  UrlTestStatus = "FAILED"
	UrlTestStatusTimeout UrlTestStatus = "TIMEOUT"
	UrlTestStatusError   UrlTestStatus = "ERROR"
)

// Run is one batch execution (spec.md §3, "Run").
type Run struct {
	ID                      int64          `db:"id"`
	UUID                    string         `db:"uuid"`
	RunTimestamp            time.Time      `db:"run_timestamp"`
	DeclaredTargetCount     int            `db:"declared_target_count"`
	RequestedParallelism    int            `db:"requested_parallelism"`
	TotalDurationMs         sql.NullInt64  `db:"total_duration_ms"`
	Passed                  int            `db:"passed"`
	Failed                  int            `db:"failed"`
	Status                  RunStatus      `db:"status"`
	Notes                   sql.NullString `db:"notes"`
	CreatedAt               time.Time      `db:"created_at"`
	UpdatedAt               time.Time      `db:"updated_at"`
}

// UrlTest is one URL attempt within a Run (spec.md §3, "UrlTest").
type UrlTest struct {
	ID               int64          `db:"id"`
	UUID             string         `db:"uuid"`
	RunID            int64          `db:"run_id"`
	URL              string         `db:"url"`
	Hostname         string         `db:"hostname"`
	BrowserFamily    string         `db:"browser_family"`
	UserAgent        string         `db:"user_agent"`
	PageTitle        sql.NullString `db:"page_title"`
	TestDurationMs   int64          `db:"test_duration_ms"`
	ScrollDurationMs int64          `db:"scroll_duration_ms"`
	Status           UrlTestStatus  `db:"status"`
	ErrorMessage     sql.NullString `db:"error_message"`

	DNSLookupMs        NullDecimal `db:"dns_lookup_ms"`
	TCPConnectionMs    NullDecimal `db:"tcp_connection_ms"`
	TLSNegotiationMs   NullDecimal `db:"tls_negotiation_ms"`
	TimeToFirstByteMs  NullDecimal `db:"time_to_first_byte_ms"`
	ResponseTimeMs     NullDecimal `db:"response_time_ms"`
	DOMContentLoadedMs NullDecimal `db:"dom_content_loaded_ms"`
	DOMInteractiveMs   NullDecimal `db:"dom_interactive_ms"`
	TotalPageLoadMs    NullDecimal `db:"total_page_load_ms"`

	DocTransferSize sql.NullInt64 `db:"doc_transfer_size"`
	DocEncodedSize  sql.NullInt64 `db:"doc_encoded_size"`
	DocDecodedSize  sql.NullInt64 `db:"doc_decoded_size"`

	TotalResources    int   `db:"total_resources"`
	TotalTransferSize int64 `db:"total_transfer_size"`
	TotalEncodedSize  int64 `db:"total_encoded_size"`

	ResourcesByType   JSONIntMap `db:"resources_by_type"`
	HTTPResponseCodes JSONIntMap `db:"http_response_codes"`

	ScreenshotPath string    `db:"screenshot_path"`
	HARPath        string    `db:"har_path"`
	TestTimestamp  time.Time `db:"test_timestamp"`
}

// StatusHistogramEntry is a normalized row against the http_response_codes
// JSONB map (spec.md §3, invariant I3).
type StatusHistogramEntry struct {
	ID            int64 `db:"id"`
	URLTestID     int64 `db:"url_test_id"`
	StatusCode    int   `db:"status_code"`
	ResponseCount int   `db:"response_count"`
}

// ResourceTypeEntry is a normalized row against the resources_by_type JSONB
// map (spec.md §3, invariant I4).
type ResourceTypeEntry struct {
	ID             int64  `db:"id"`
	URLTestID      int64  `db:"url_test_id"`
	ResourceType   string `db:"resource_type"`
	ResourceCount  int    `db:"resource_count"`
}

// NullDecimal is a nullable fixed-precision decimal, used for every
// navigation timing field per SPEC_FULL.md §3.
type NullDecimal struct {
	Decimal decimal.Decimal
	Valid   bool
}

// JSONIntMap is a map[string]int persisted as a JSONB column.
type JSONIntMap map[string]int
