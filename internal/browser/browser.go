// Package browser implements the Browser Driver (C2): it drives one URL
// through navigation, settle, forced scroll, metric extraction, screenshot,
// and teardown, producing a Measurement and the on-disk HAR.
//
// Grounded on the teacher's internal/capture package (CDP event
// correlation via chromedp + chromedp/cdproto, HAR assembly) generalized
// from "capture a HAR for N seconds" into the full measurement protocol of
// spec.md §4.2.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/shopspring/decimal"

	"github.com/pumpkinperf/pumpkin/internal/errs"
)

// Status mirrors the UrlTest status values a Driver may produce. FAILED is
// reserved for the Ingestor and is never set here.
type Status string

const (
	StatusPassed  Status = "PASSED"
	StatusTimeout Status = "TIMEOUT"
	StatusError   Status = "ERROR"
)

const (
	navigationTimeout   = 60 * time.Second
	loadEventTimeout    = 60 * time.Second
	postLoadSettle      = 2 * time.Second
	scrollIncrementPx   = 100
	scrollIncrementStep = 100 * time.Millisecond
	scrollBottomSettle  = 1 * time.Second
	scrollTopSettle     = 500 * time.Millisecond
	viewportWidth       = 1920
	viewportHeight      = 1080
)

// NavigationTiming holds the Performance API derived fields from spec.md
// §3. Fields are pointers so the ingest layer can write them through
// store.NewNullDecimal, but applyPerformance always populates them: an
// unmeasurable phase (e.g. TLS negotiation on a plain http:// page) is
// clamped to zero, never left nil, per spec.md §4.2.
type NavigationTiming struct {
	DNSLookup        *decimal.Decimal
	TCPConnection    *decimal.Decimal
	TLSNegotiation   *decimal.Decimal
	TimeToFirstByte  *decimal.Decimal
	ResponseTime     *decimal.Decimal
	DOMContentLoaded *decimal.Decimal
	DOMInteractive   *decimal.Decimal
	TotalPageLoad    *decimal.Decimal

	DocTransferSize *int64
	DocEncodedSize  *int64
	DocDecodedSize  *int64
}

// Measurement is the Browser Driver's output for one URL. The HTTP
// response-code histogram is not part of it — that is derived from the
// written HAR by the HAR Analyzer (C3).
type Measurement struct {
	URL              string
	PageTitle        string
	UserAgent        string
	TestDurationMs   int64
	ScrollDurationMs int64
	Status           Status
	ErrorMessage     string

	Navigation        NavigationTiming
	ResourcesByType   map[string]int
	TotalResources    int
	TotalTransferSize int64
	TotalEncodedSize  int64
}

// Driver visits one URL and produces a Measurement, writing the screenshot
// and HAR to the given paths. Implementations must honor ctx cancellation
// at every blocking point (spec.md §5).
type Driver interface {
	Measure(ctx context.Context, url, screenshotPath, harPath string) (Measurement, error)
}

// ChromeDriver is the production Driver, built on chromedp.
type ChromeDriver struct {
	// ExecAllocatorOptions are appended to chromedp's defaults. Exposed for
	// tests that need a non-default Chrome binary path.
	ExecAllocatorOptions []chromedp.ExecAllocatorOption
}

// NewChromeDriver returns a ChromeDriver with chromedp's default allocator
// options plus headless mode.
func NewChromeDriver() *ChromeDriver {
	return &ChromeDriver{}
}

// Measure implements Driver.
func (d *ChromeDriver) Measure(ctx context.Context, url, screenshotPath, harPath string) (m Measurement, err error) {
	start := time.Now()
	m.URL = url

	defer func() {
		if r := recover(); r != nil {
			m.Status = StatusError
			m.ErrorMessage = fmt.Sprintf("panic in browser driver: %v", r)
			err = nil
		}
		m.TestDurationMs = time.Since(start).Milliseconds()
	}()

	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", true))
	opts = append(opts, d.ExecAllocatorOptions...)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(string, ...any) {}),
		chromedp.WithErrorf(func(string, ...any) {}),
		chromedp.WithDebugf(func(string, ...any) {}),
	)
	defer cancelTab()

	store := newRequestStore()
	coll := newCollector()

	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch ev := ev.(type) {
		case *network.EventRequestWillBeSent:
			onRequest(ev, store, coll)
		case *network.EventResponseReceived:
			onResponse(ev, store, coll)
		case *page.EventLifecycleEvent:
			if ev.Name == "load" {
				coll.markLoaded()
			}
		}
	})

	navCtx, cancelNav := context.WithTimeout(tabCtx, navigationTimeout)
	defer cancelNav()

	navErr := chromedp.Run(navCtx,
		chromedp.EmulateViewport(viewportWidth, viewportHeight),
		chromedp.Navigate(url),
	)
	if navErr != nil {
		if isDeadlineErr(navErr) {
			m.Status = StatusTimeout
			return m, nil
		}
		m.Status = StatusError
		m.ErrorMessage = navErr.Error()
		return m, nil
	}

	loadCtx, cancelLoad := context.WithTimeout(tabCtx, loadEventTimeout)
	defer cancelLoad()
	if !coll.waitLoaded(loadCtx) {
		m.Status = StatusTimeout
		pages, entries := coll.drain()
		d.flushHAR(tabCtx, harPath, pages, entries)
		return m, nil
	}

	select {
	case <-time.After(postLoadSettle):
	case <-tabCtx.Done():
		m.Status = StatusTimeout
		pages, entries := coll.drain()
		d.flushHAR(tabCtx, harPath, pages, entries)
		return m, nil
	}

	scrollStart := time.Now()
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(scrollScript(scrollIncrementPx, scrollIncrementStep, scrollBottomSettle, scrollTopSettle), nil)); err != nil {
		if isDeadlineErr(err) {
			m.Status = StatusTimeout
			pages, entries := coll.drain()
			d.flushHAR(tabCtx, harPath, pages, entries)
			return m, nil
		}
		m.Status = StatusError
		m.ErrorMessage = err.Error()
		pages, entries := coll.drain()
		d.flushHAR(tabCtx, harPath, pages, entries)
		return m, nil
	}
	m.ScrollDurationMs = time.Since(scrollStart).Milliseconds()

	var perf performanceResult
	var raw string
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(performanceScript, &raw)); err != nil {
		m.Status = StatusError
		m.ErrorMessage = err.Error()
		pages, entries := coll.drain()
		d.flushHAR(tabCtx, harPath, pages, entries)
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &perf); err != nil {
		m.Status = StatusError
		m.ErrorMessage = fmt.Sprintf("failed to decode performance data: %v", err)
		pages, entries := coll.drain()
		d.flushHAR(tabCtx, harPath, pages, entries)
		return m, nil
	}

	var screenshot []byte
	if err := chromedp.Run(tabCtx, chromedp.FullScreenshot(&screenshot, 90)); err == nil {
		if werr := os.WriteFile(screenshotPath, screenshot, 0o644); werr != nil {
			m.Status = StatusError
			m.ErrorMessage = (&errs.ArtifactIO{Path: screenshotPath, Cause: werr}).Error()
		}
	}

	if err := chromedp.Run(tabCtx, chromedp.Evaluate(`navigator.userAgent`, &m.UserAgent)); err != nil {
		m.UserAgent = ""
	}
	if err := chromedp.Run(tabCtx, chromedp.Title(&m.PageTitle)); err != nil {
		m.PageTitle = ""
	}

	pages, entries := coll.drain()
	d.flushHAR(tabCtx, harPath, pages, entries)

	applyPerformance(&m, perf)

	if m.Status == "" {
		m.Status = StatusPassed
	}
	return m, nil
}

func (d *ChromeDriver) flushHAR(_ context.Context, harPath string, pages []pageRef, entries []completedEntry) {
	h := assembleHAR(pages, entries, "unknown")
	data, err := json.Marshal(h)
	if err != nil {
		return
	}
	_ = os.WriteFile(harPath, data, 0o644)
}

func isDeadlineErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
