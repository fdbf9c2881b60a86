// Package api implements the HTTP API (C9): a thin JSON facade over the
// Query Layer. Every route is one handler calling exactly one Queries
// method and writing the {success, data?, error?} envelope (spec.md
// §4.9).
//
// Grounded on the teacher's internal/server package (one dependency
// struct, http.Server with explicit timeouts, a writeError helper) but
// routed with github.com/go-chi/chi/v5 and github.com/go-chi/cors, the
// router the rest of the retrieved corpus reaches for once a service grows
// past a handful of routes.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/pumpkinperf/pumpkin/internal/errs"
	"github.com/pumpkinperf/pumpkin/internal/query"
	"github.com/pumpkinperf/pumpkin/internal/store"
)

// envelope is the uniform response shape every handler writes.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// API holds the dependencies shared across handlers.
type API struct {
	queries *query.Queries
	db      *store.DB
	logger  *zap.Logger
	router  chi.Router
}

// New builds an API wired to queries, with db consulted for /health.
func New(queries *query.Queries, db *store.DB, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &API{queries: queries, db: db, logger: logger}
	a.router = a.routes()
	return a
}

// ServeHTTP makes API an http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server on addr.
func (a *API) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      a,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv.ListenAndServe()
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/health", a.handleHealth)

	r.Route("/api/runs", func(r chi.Router) {
		r.Get("/", a.handleListRuns)
		r.Get("/latest", a.handleGetLatestRun)
		r.Get("/{id}", a.handleGetRun)
		r.Get("/{id}/tests", a.handleListUrlTestsForRun)
	})

	r.Route("/api/tests/{id}", func(r chi.Router) {
		r.Get("/", a.handleGetUrlTest)
		r.Get("/failed-requests", a.handleGetFailedRequests)
	})

	r.Route("/api/stats", func(r chi.Router) {
		r.Get("/latest", a.handleGetLatestRun)
		r.Get("/slowest", a.handleListSlowest)
		r.Get("/fastest", a.handleListFastest)
		r.Get("/errors", a.handleListErrors)
	})

	r.Route("/api/calendar", func(r chi.Router) {
		r.Get("/available-dates", a.handleAvailableDates)
		r.Get("/runs-by-date", a.handleRunsByDate)
	})

	r.Route("/api/urls", func(r chi.Router) {
		r.Get("/autocomplete", a.handleUrlAutocomplete)
		r.Get("/{host}/tests", a.handleTestsForUrl)
		r.Get("/{host}/daily-averages", a.handleDailyAverages)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func (a *API) writeErr(w http.ResponseWriter, err error) {
	a.logger.Debug("request failed", zap.Error(err))
	writeJSON(w, statusFor(err), envelope{Success: false, Error: err.Error()})
}

// intParam parses a query parameter as an int, falling back to def when
// absent or malformed.
func intParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "connected"
	if a.db == nil || !a.db.Healthy() {
		status = "disconnected"
	}
	writeOK(w, map[string]string{"status": "ok", "database": status})
}

func (a *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 20)
	rows, err := a.queries.ListRuns(r.Context(), limit)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeOK(w, rows)
}

func (a *API) handleGetLatestRun(w http.ResponseWriter, r *http.Request) {
	row, err := a.queries.GetLatestRun(r.Context())
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeOK(w, row)
}

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		a.writeErr(w, &errs.BadRequest{Field: "id", Reason: "must be an integer"})
		return
	}
	row, err := a.queries.GetRun(r.Context(), id)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeOK(w, row)
}

func (a *API) handleListUrlTestsForRun(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		a.writeErr(w, &errs.BadRequest{Field: "id", Reason: "must be an integer"})
		return
	}
	rows, err := a.queries.ListUrlTestsForRun(r.Context(), id)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeOK(w, rows)
}

func (a *API) handleGetUrlTest(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		a.writeErr(w, &errs.BadRequest{Field: "id", Reason: "must be an integer"})
		return
	}
	row, err := a.queries.GetUrlTest(r.Context(), id)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeOK(w, row)
}

func (a *API) handleGetFailedRequests(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		a.writeErr(w, &errs.BadRequest{Field: "id", Reason: "must be an integer"})
		return
	}
	rows, err := a.queries.GetFailedRequestsForTest(r.Context(), id)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeOK(w, rows)
}

func (a *API) handleListSlowest(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 10)
	rows, err := a.queries.ListSlowestInLatest(r.Context(), limit)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeOK(w, rows)
}

func (a *API) handleListFastest(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 10)
	rows, err := a.queries.ListFastestInLatest(r.Context(), limit)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeOK(w, rows)
}

func (a *API) handleListErrors(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 50)
	rows, err := a.queries.ListErrorsInLatestRun(r.Context(), limit)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeOK(w, rows)
}

func (a *API) handleAvailableDates(w http.ResponseWriter, r *http.Request) {
	dates, err := a.queries.AvailableDates(r.Context())
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeOK(w, dates)
}

func (a *API) handleRunsByDate(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		a.writeErr(w, &errs.BadRequest{Field: "date", Reason: "required, format YYYY-MM-DD"})
		return
	}
	rows, err := a.queries.RunsByDate(r.Context(), date)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeOK(w, rows)
}

func (a *API) handleUrlAutocomplete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := intParam(r, "limit", 10)
	hosts, err := a.queries.UrlAutocomplete(r.Context(), q, limit)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeOK(w, hosts)
}

func (a *API) handleTestsForUrl(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	limit := intParam(r, "limit", 20)
	rows, err := a.queries.TestsForUrl(r.Context(), host, limit)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeOK(w, rows)
}

func (a *API) handleDailyAverages(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	days := intParam(r, "days", 30)
	tz := r.URL.Query().Get("timezone")
	if tz == "" {
		tz = "UTC"
	}
	rows, err := a.queries.DailyAverageLoadTime(r.Context(), host, days, tz)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeOK(w, rows)
}
