// Package scheduler implements the Scheduler (C7): a bounded worker pool
// that drives the Browser Driver across a URL list and ingests each
// result, honoring per-job isolation, a per-job deadline, and crash
// containment (spec.md §4.7).
//
// Grounded on the Design Notes' concurrency primitive: a buffered job
// channel consumed by W workers, with a single goroutine draining a
// separate result channel so no lock is needed around the database or the
// run counters — the teacher's own internal/operation package similarly
// keeps one goroutine as the sole writer of operation state.
package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pumpkinperf/pumpkin/internal/artifact"
	"github.com/pumpkinperf/pumpkin/internal/browser"
	"github.com/pumpkinperf/pumpkin/internal/coordinator"
	"github.com/pumpkinperf/pumpkin/internal/har"
	"github.com/pumpkinperf/pumpkin/internal/ingest"
	"github.com/pumpkinperf/pumpkin/internal/store"
)

// jobDeadline bounds one job's total wall-clock time: navigation, settle,
// scroll, metric read, screenshot, and HAR flush (spec.md §4.7).
const jobDeadline = 120 * time.Second

// Metrics are the ambient prometheus gauges/counters this package exposes
// (SPEC_FULL.md §4.7). They are observability, not a feature the
// Non-goals exclude.
var (
	ActiveWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pumpkin_scheduler_active_workers",
		Help: "Number of scheduler workers currently processing a job.",
	})
	JobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pumpkin_scheduler_jobs_total",
		Help: "Total scheduler jobs completed, labeled by terminal status.",
	}, []string{"status"})
	JobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "pumpkin_scheduler_job_duration_seconds",
		Help: "Wall-clock duration of one scheduler job.",
	})
)

func init() {
	prometheus.MustRegister(ActiveWorkers, JobsTotal, JobDuration)
}

// jobResult is one completed (or synthetically failed) job, handed off to
// the single ingester goroutine.
type jobResult struct {
	url         string
	measurement browser.Measurement
	analysis    har.Analysis
	screenshot  string
	harPath     string
}

// Scheduler drives urls through driver and ingests each result.
type Scheduler struct {
	driver    browser.Driver
	artifacts *artifact.Store
	ingestor  *ingest.Ingestor
	logger    *zap.Logger
}

// New returns a Scheduler.
func New(driver browser.Driver, artifacts *artifact.Store, ingestor *ingest.Ingestor, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{driver: driver, artifacts: artifacts, ingestor: ingestor, logger: logger}
}

// Run dispatches urls across workers workers, ingesting each result under
// runID, and returns the overall wall-clock duration and outcome tag
// (spec.md §4.7). N = 0 returns immediately with OutcomeAllPassed. Workers
// in excess of len(urls) sit idle; this is never an error.
func (s *Scheduler) Run(ctx context.Context, runID int64, urls []string, workers int) (durationMs int64, outcome coordinator.Outcome, err error) {
	start := time.Now()

	if len(urls) == 0 {
		return 0, coordinator.OutcomeAllPassed, nil
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan string, len(urls))
	results := make(chan jobResult, len(urls))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go s.worker(ctx, &wg, jobs, results)
	}

	for _, u := range urls {
		jobs <- u
	}
	close(jobs)

	var ingestWG sync.WaitGroup
	var passed, failed int
	var mu sync.Mutex
	ingestWG.Add(1)
	go func() {
		defer ingestWG.Done()
		for r := range results {
			status := s.ingestResult(ctx, runID, r)
			mu.Lock()
			if status == browser.StatusPassed {
				passed++
			} else {
				failed++
			}
			mu.Unlock()
		}
	}()

	wg.Wait()
	close(results)
	ingestWG.Wait()

	durationMs = time.Since(start).Milliseconds()
	switch {
	case failed == 0:
		outcome = coordinator.OutcomeAllPassed
	case passed == 0:
		outcome = coordinator.OutcomeNoneCompleted
	default:
		outcome = coordinator.OutcomeSomePassed
	}
	return durationMs, outcome, nil
}

// worker pulls jobs until the channel is drained, running each one under
// its own deadline and isolated from the others' panics.
func (s *Scheduler) worker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan string, results chan<- jobResult) {
	defer wg.Done()
	ActiveWorkers.Inc()
	defer ActiveWorkers.Dec()

	for url := range jobs {
		results <- s.runJob(ctx, url)
	}
}

// runJob measures one URL under jobDeadline, recovering from any panic in
// the driver as a synthetic ERROR measurement (spec.md §4.7: "crash
// containment").
func (s *Scheduler) runJob(ctx context.Context, url string) (result jobResult) {
	jobStart := time.Now()
	defer func() {
		JobDuration.Observe(time.Since(jobStart).Seconds())
		JobsTotal.WithLabelValues(string(result.measurement.Status)).Inc()
	}()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler worker recovered from panic", zap.String("url", url), zap.Any("panic", r))
			result = jobResult{
				url: url,
				measurement: browser.Measurement{
					URL:          url,
					Status:       browser.StatusError,
					ErrorMessage: "worker panic",
				},
				analysis: har.Analysis{StatusHistogram: map[int]int{}},
			}
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, jobDeadline)
	defer cancel()

	dir, screenshotPath, harPath, allocErr := s.artifacts.AllocateTestDir(url, time.Now())
	if allocErr != nil {
		s.logger.Error("failed to allocate test directory", zap.String("url", url), zap.Error(allocErr))
		return jobResult{
			url: url,
			measurement: browser.Measurement{
				URL:          url,
				Status:       browser.StatusError,
				ErrorMessage: allocErr.Error(),
			},
			analysis: har.Analysis{StatusHistogram: map[int]int{}},
		}
	}

	m, measureErr := s.driver.Measure(jobCtx, url, screenshotPath, harPath)
	if measureErr != nil {
		m.Status = browser.StatusError
		m.ErrorMessage = measureErr.Error()
	}

	analysis := s.analyzeAndMirror(jobCtx, dir, screenshotPath, harPath)

	return jobResult{url: url, measurement: m, analysis: analysis, screenshot: screenshotPath, harPath: harPath}
}

// analyzeAndMirror reads back whatever the driver wrote, re-writes it
// through the artifact store (triggering the offsite mirror if
// configured), and derives the HAR analysis. Missing files (e.g. the
// driver timed out before a screenshot was taken) are tolerated; analysis
// degrades to empty rather than failing the job.
func (s *Scheduler) analyzeAndMirror(ctx context.Context, dir, screenshotPath, harPath string) har.Analysis {
	dirName := filepath.Base(dir)

	if png, err := os.ReadFile(screenshotPath); err == nil {
		if err := s.artifacts.WriteScreenshot(ctx, dirName, screenshotPath, png); err != nil {
			s.logger.Warn("failed to persist screenshot", zap.String("path", screenshotPath), zap.Error(err))
		}
	}

	raw, err := os.ReadFile(harPath)
	if err != nil {
		return har.Analysis{StatusHistogram: map[int]int{}}
	}
	if err := s.artifacts.WriteHAR(ctx, dirName, harPath, raw); err != nil {
		s.logger.Warn("failed to persist HAR", zap.String("path", harPath), zap.Error(err))
	}
	return har.Parse(raw)
}

// ingestResult writes one job's measurement and returns its final status
// (used by Run to compute the outcome tag). An ingest failure is logged
// but does not halt the scheduler (spec.md §4.7: "Termination"); the job
// then counts as FAILED, since its measurement was not persisted.
func (s *Scheduler) ingestResult(ctx context.Context, runID int64, r jobResult) browser.Status {
	if _, err := s.ingestor.InsertUrlTest(ctx, runID, r.measurement, r.analysis, r.screenshot, r.harPath); err != nil {
		s.logger.Error("failed to ingest url test", zap.String("url", r.url), zap.Error(err))
		return browser.Status(store.UrlTestStatusFailed)
	}
	return r.measurement.Status
}
