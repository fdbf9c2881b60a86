package api

import (
	"errors"
	"net/http"

	"github.com/pumpkinperf/pumpkin/internal/errs"
)

// statusFor maps an error-kind to the HTTP status spec.md §4.9 prescribes:
// 400 for input validation, 404 for absent entities (including an
// ArtifactIO error, e.g. a url_test whose HAR file cannot be read), 500
// otherwise. This
// is the one place that mapping lives; handlers never set a status code
// themselves for an error path.
func statusFor(err error) int {
	var badRequest *errs.BadRequest
	if errors.As(err, &badRequest) {
		return http.StatusBadRequest
	}

	var notFound *errs.NotFound
	if errors.As(err, &notFound) {
		return http.StatusNotFound
	}

	var runMissing *errs.RunMissing
	if errors.As(err, &runMissing) {
		return http.StatusNotFound
	}

	var artifactIO *errs.ArtifactIO
	if errors.As(err, &artifactIO) {
		return http.StatusNotFound
	}

	var dbUnavailable *errs.DatabaseUnavailable
	if errors.As(err, &dbUnavailable) {
		return http.StatusInternalServerError
	}

	return http.StatusInternalServerError
}
