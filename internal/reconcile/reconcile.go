// Package reconcile implements the Reconciler (C10): it finds
// test-history/ directories no url_tests row references any longer and,
// outside dry-run mode, deletes them (spec.md §4.10).
//
// Grounded on the teacher's internal/storage package's directory-naming
// discipline (internal/artifact.ArtifactDirFor mirrors the teacher's own
// path-to-object-name convention) and the project's standing rule that the
// database, never a filesystem walk, is authoritative for what is live.
package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/pumpkinperf/pumpkin/internal/artifact"
	"github.com/pumpkinperf/pumpkin/internal/errs"
	"github.com/pumpkinperf/pumpkin/internal/store"
)

// errBreakerOpen is the Cause reported when Clean refuses to run because
// the circuit breaker is not currently closed.
var errBreakerOpen = errors.New("database circuit breaker is open")

// Result is the outcome of one Clean pass.
type Result struct {
	Deleted []string
	Kept    []string
	Orphans []string
}

// Reconciler finds and removes orphaned artifact directories.
type Reconciler struct {
	db        *store.DB
	artifacts *artifact.Store
	logger    *zap.Logger
}

// New returns a Reconciler backed by db and artifacts.
func New(db *store.DB, artifacts *artifact.Store, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{db: db, artifacts: artifacts, logger: logger}
}

// Clean computes D \ P, the on-disk directories no url_test references,
// and, unless dryRun, deletes them recursively. The database must be
// reachable; Clean refuses to guess at liveness from a stale or partial
// read, since deleting a live directory is unrecoverable.
func (r *Reconciler) Clean(ctx context.Context, dryRun bool) (Result, error) {
	if !r.db.Healthy() {
		return Result{}, &errs.DatabaseUnavailable{Cause: errBreakerOpen}
	}

	referenced, err := r.referencedDirs(ctx)
	if err != nil {
		return Result{}, err
	}

	onDisk, err := r.artifacts.ListTestDirs()
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, dir := range onDisk {
		if referenced[dir] {
			res.Kept = append(res.Kept, dir)
			continue
		}
		res.Orphans = append(res.Orphans, dir)
	}

	if dryRun {
		return res, nil
	}

	for _, dir := range res.Orphans {
		full := filepath.Join(r.artifacts.BaseDir(), dir)
		if err := os.RemoveAll(full); err != nil {
			r.logger.Error("failed to remove orphaned artifact directory",
				zap.String("dir", full), zap.Error(err))
			continue
		}
		res.Deleted = append(res.Deleted, dir)
	}

	return res, nil
}

// referencedDirs returns the set P: every distinct test-history/
// directory name any url_tests row's screenshot_path or har_path points
// into.
func (r *Reconciler) referencedDirs(ctx context.Context) (map[string]bool, error) {
	var paths []string
	err := r.db.SelectContext(ctx, &paths, `
		SELECT screenshot_path FROM url_tests WHERE screenshot_path <> ''
		UNION
		SELECT har_path FROM url_tests WHERE har_path <> ''`)
	if err != nil {
		return nil, err
	}

	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[artifact.ArtifactDirFor(p)] = true
	}
	return set, nil
}
