// Package errs defines the error kinds that cross component boundaries in
// Project Pumpkin. Each kind is a distinct type so callers can distinguish
// them with errors.As instead of matching on message text.
package errs

import "fmt"

// BadRequest indicates a caller-supplied input failed validation.
type BadRequest struct {
	Field  string
	Reason string
}

func (e *BadRequest) Error() string {
	return fmt.Sprintf("bad request: %s: %s", e.Field, e.Reason)
}

// NotFound indicates the requested entity does not exist.
type NotFound struct {
	Entity string
	ID     any
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

// DatabaseUnavailable indicates the connection pool could not reach the
// database within the retry budget.
type DatabaseUnavailable struct {
	Cause error
}

func (e *DatabaseUnavailable) Error() string {
	return fmt.Sprintf("database unavailable: %v", e.Cause)
}

func (e *DatabaseUnavailable) Unwrap() error { return e.Cause }

// ArtifactConflict indicates AllocateTestDir was asked to reuse a directory
// name already present on disk.
type ArtifactConflict struct {
	Dir string
}

func (e *ArtifactConflict) Error() string {
	return fmt.Sprintf("artifact directory already exists: %s", e.Dir)
}

// ArtifactIO indicates a filesystem failure writing a screenshot or HAR.
type ArtifactIO struct {
	Path  string
	Cause error
}

func (e *ArtifactIO) Error() string {
	return fmt.Sprintf("artifact io failure at %s: %v", e.Path, e.Cause)
}

func (e *ArtifactIO) Unwrap() error { return e.Cause }

// DriverTimeout indicates a browser driver job exceeded its deadline.
type DriverTimeout struct {
	URL string
}

func (e *DriverTimeout) Error() string {
	return fmt.Sprintf("driver timeout visiting %s", e.URL)
}

// DriverError indicates a non-timeout browser driver failure.
type DriverError struct {
	URL   string
	Cause error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver error visiting %s: %v", e.URL, e.Cause)
}

func (e *DriverError) Unwrap() error { return e.Cause }

// IngestPersistent indicates an unrecoverable database error while
// ingesting one url_test.
type IngestPersistent struct {
	URL   string
	Cause error
}

func (e *IngestPersistent) Error() string {
	return fmt.Sprintf("ingest failed persistently for %s: %v", e.URL, e.Cause)
}

func (e *IngestPersistent) Unwrap() error { return e.Cause }

// RunMissing indicates an insert referenced a run id that does not exist.
type RunMissing struct {
	RunID int64
}

func (e *RunMissing) Error() string {
	return fmt.Sprintf("run %d does not exist", e.RunID)
}

// RunAborted indicates a scheduler-level failure that transitions the run
// to FAILED (e.g. the URL file could not be read).
type RunAborted struct {
	Cause error
}

func (e *RunAborted) Error() string {
	return fmt.Sprintf("run aborted: %v", e.Cause)
}

func (e *RunAborted) Unwrap() error { return e.Cause }
