// Package har implements the HAR Analyzer (C3): it reads a HAR file
// produced by internal/browser and derives the status-code histogram and
// failed-request inventory used by ingestion and the query layer.
//
// Grounded on the teacher's internal/capture/har.go, which assembles the
// same github.com/chromedp/cdproto/har types from live CDP events; this
// package consumes them instead, read back from disk.
package har

import (
	"encoding/json"

	"github.com/chromedp/cdproto/har"
)

// Category classifies a failed request by its status code range.
type Category string

const (
	CategoryClientError Category = "Client Error"
	CategoryServerError Category = "Server Error"
)

// FailedRequest is one entry with a status code of 400 or above.
type FailedRequest struct {
	RequestURL string
	StatusCode int
	Category   Category
}

// Analysis is the derived projection of a HAR document.
type Analysis struct {
	// StatusHistogram maps HTTP status code to the number of entries that
	// returned it. Entries with status <= 0 are excluded (spec.md §4.3).
	StatusHistogram map[int]int

	// FailedRequests lists every entry with status >= 400, in the order
	// encountered in the HAR, then stably sorted by ascending status code
	// by the caller where required (e.g. GetFailedRequestsForTest).
	FailedRequests []FailedRequest
}

// Parse decodes raw HAR bytes. Parsing is total (P10): malformed input
// never returns an error — it yields an empty Analysis so a corrupt HAR
// file degrades gracefully instead of failing the containing query or
// ingest.
func Parse(raw []byte) Analysis {
	var doc har.HAR
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Log == nil {
		return Analysis{StatusHistogram: map[int]int{}}
	}
	return Analyze(&doc)
}

// Analyze derives an Analysis from an already-decoded HAR document.
func Analyze(doc *har.HAR) Analysis {
	a := Analysis{StatusHistogram: map[int]int{}}
	if doc == nil || doc.Log == nil {
		return a
	}

	for _, entry := range doc.Log.Entries {
		if entry == nil || entry.Response == nil {
			continue
		}
		status := int(entry.Response.Status)
		if status <= 0 {
			continue
		}
		a.StatusHistogram[status]++

		if status >= 400 {
			category := CategoryClientError
			if status >= 500 {
				category = CategoryServerError
			}
			url := ""
			if entry.Request != nil {
				url = entry.Request.URL
			}
			a.FailedRequests = append(a.FailedRequests, FailedRequest{
				RequestURL: url,
				StatusCode: status,
				Category:   category,
			})
		}
	}

	return a
}
