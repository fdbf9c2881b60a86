package browser

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// performanceResult mirrors the JSON shape produced by performanceScript.
type performanceResult struct {
	DNSLookup        float64 `json:"dnsLookup"`
	TCPConnection    float64 `json:"tcpConnection"`
	TLSNegotiation   float64 `json:"tlsNegotiation"`
	TimeToFirstByte  float64 `json:"timeToFirstByte"`
	ResponseTime     float64 `json:"responseTime"`
	DOMContentLoaded float64 `json:"domContentLoaded"`
	DOMInteractive   float64 `json:"domInteractive"`
	TotalPageLoad    float64 `json:"totalPageLoad"`

	DocTransferSize int64 `json:"docTransferSize"`
	DocEncodedSize  int64 `json:"docEncodedSize"`
	DocDecodedSize  int64 `json:"docDecodedSize"`

	TotalResources    int            `json:"totalResources"`
	TotalTransferSize int64          `json:"totalTransferSize"`
	TotalEncodedSize  int64          `json:"totalEncodedSize"`
	ResourcesByType   map[string]int `json:"resourcesByType"`
}

// applyPerformance populates m.Navigation and the resource aggregates from
// a decoded performanceResult, clamping every negative (unmeasurable)
// duration to zero per spec.md §4.2.
func applyPerformance(m *Measurement, p performanceResult) {
	clamp := func(ms float64) *decimal.Decimal {
		if ms < 0 {
			ms = 0
		}
		d := decimal.NewFromFloat(ms).Round(3)
		return &d
	}

	m.Navigation.DNSLookup = clamp(p.DNSLookup)
	m.Navigation.TCPConnection = clamp(p.TCPConnection)
	m.Navigation.TLSNegotiation = clamp(p.TLSNegotiation)
	m.Navigation.TimeToFirstByte = clamp(p.TimeToFirstByte)
	m.Navigation.ResponseTime = clamp(p.ResponseTime)
	m.Navigation.DOMContentLoaded = clamp(p.DOMContentLoaded)
	m.Navigation.DOMInteractive = clamp(p.DOMInteractive)
	m.Navigation.TotalPageLoad = clamp(p.TotalPageLoad)

	transfer, encoded, decoded := p.DocTransferSize, p.DocEncodedSize, p.DocDecodedSize
	m.Navigation.DocTransferSize = &transfer
	m.Navigation.DocEncodedSize = &encoded
	m.Navigation.DocDecodedSize = &decoded

	m.TotalResources = p.TotalResources
	m.TotalTransferSize = p.TotalTransferSize
	m.TotalEncodedSize = p.TotalEncodedSize
	m.ResourcesByType = p.ResourcesByType
	if m.ResourcesByType == nil {
		m.ResourcesByType = map[string]int{}
	}
}

// scrollScript returns the in-page JS that performs the forced scroll
// phase described in spec.md §4.2 step 4: from the top, scroll downward in
// incrementPx increments every step until cumulative scroll reaches
// documentHeight-viewportHeight, then settle, return to top, settle again.
// The whole loop runs inside one Evaluate call (with awaitPromise) so wall
// clock time is measured on the Go side around a single round trip.
func scrollScript(incrementPx int, step, bottomSettle, topSettle time.Duration) string {
	return fmt.Sprintf(`(async () => {
		const increment = %d;
		const stepMs = %d;
		const bottomSettleMs = %d;
		const topSettleMs = %d;
		const target = Math.max(0, document.documentElement.scrollHeight - window.innerHeight);
		const sleep = (ms) => new Promise((resolve) => setTimeout(resolve, ms));

		let scrolled = 0;
		while (scrolled < target) {
			window.scrollBy(0, increment);
			scrolled += increment;
			await sleep(stepMs);
		}
		await sleep(bottomSettleMs);
		window.scrollTo(0, 0);
		await sleep(topSettleMs);
	})()`, incrementPx, step.Milliseconds(), bottomSettle.Milliseconds(), topSettle.Milliseconds())
}

// performanceScript reads the Performance Timing API and returns a JSON
// string decoded into performanceResult. All durations are left
// potentially negative here; applyPerformance clamps them.
const performanceScript = `(() => {
	const nav = performance.getEntriesByType("navigation")[0] || {};
	const resources = performance.getEntriesByType("resource");

	const byType = {};
	let totalTransfer = 0;
	let totalEncoded = 0;
	for (const r of resources) {
		const t = r.initiatorType || "other";
		byType[t] = (byType[t] || 0) + 1;
		totalTransfer += r.transferSize || 0;
		totalEncoded += r.encodedBodySize || 0;
	}

	return JSON.stringify({
		dnsLookup: (nav.domainLookupEnd || 0) - (nav.domainLookupStart || 0),
		tcpConnection: (nav.connectEnd || 0) - (nav.connectStart || 0),
		tlsNegotiation: nav.secureConnectionStart ? (nav.connectEnd || 0) - nav.secureConnectionStart : -1,
		timeToFirstByte: (nav.responseStart || 0) - (nav.requestStart || 0),
		responseTime: (nav.responseEnd || 0) - (nav.responseStart || 0),
		domContentLoaded: (nav.domContentLoadedEventEnd || 0) - (nav.startTime || 0),
		domInteractive: (nav.domInteractive || 0) - (nav.startTime || 0),
		totalPageLoad: (nav.loadEventEnd || 0) - (nav.startTime || 0),
		docTransferSize: nav.transferSize || 0,
		docEncodedSize: nav.encodedBodySize || 0,
		docDecodedSize: nav.decodedBodySize || 0,
		totalResources: resources.length,
		totalTransferSize: totalTransfer,
		totalEncodedSize: totalEncoded,
		resourcesByType: byType
	});
})()`
