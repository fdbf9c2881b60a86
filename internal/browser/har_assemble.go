package browser

import (
	"fmt"
	"time"

	"github.com/chromedp/cdproto/har"
	"github.com/chromedp/cdproto/network"
)

// assembleHAR constructs a har.HAR from collected pages and entries.
//
// Adapted from the teacher's internal/capture/har.go.
func assembleHAR(pages []pageRef, entries []completedEntry, browserVersion string) har.HAR {
	h := har.HAR{
		Log: &har.Log{
			Version: "1.2",
			Browser: &har.Creator{Name: "Chromium", Version: browserVersion},
			Creator: &har.Creator{Name: "pumpkin", Version: "1.0.0"},
			Pages:   make([]*har.Page, 0, len(pages)),
			Entries: make([]*har.Entry, 0, len(entries)),
		},
	}

	for _, p := range pages {
		h.Log.Pages = append(h.Log.Pages, &har.Page{
			ID:              p.id,
			StartedDateTime: p.startedDateTime.Format(time.RFC3339Nano),
			Title:           p.title,
			PageTimings:     &har.PageTimings{},
		})
	}

	for _, e := range entries {
		entry := buildEntry(e)
		h.Log.Entries = append(h.Log.Entries, &entry)
	}

	return h
}

func buildEntry(e completedEntry) har.Entry {
	req := e.request
	resp := e.response

	entry := har.Entry{
		Pageref:         req.pageRef,
		StartedDateTime: req.wallTime.Format(time.RFC3339Nano),
		Request: &har.Request{
			Method:      req.method,
			URL:         req.url,
			HTTPVersion: resp.Response.Protocol,
			Headers:     headersToHAR(req.headers),
			QueryString: []*har.NameValuePair{},
			Cookies:     []*har.Cookie{},
			HeadersSize: -1,
			BodySize:    -1,
		},
		Response: &har.Response{
			Status:      int64(resp.Response.Status),
			StatusText:  resp.Response.StatusText,
			HTTPVersion: resp.Response.Protocol,
			Headers:     headersToHAR(resp.Response.Headers),
			Cookies:     []*har.Cookie{},
			Content: &har.Content{
				MimeType: resp.Response.MimeType,
				Size:     0,
			},
			RedirectURL: redirectURL(resp.Response.Headers),
			HeadersSize: -1,
			BodySize:    -1,
		},
		Timings: buildTimings(resp.Response.Timing),
	}

	entry.Time = totalTime(entry.Timings)
	return entry
}

// resourceTimingPhase is one (start, end) pair CDP reports for a resource
// load; a negative bound means the browser never entered that phase.
type resourceTimingPhase struct {
	start, end float64
}

func (p resourceTimingPhase) durationOrBlocked() float64 {
	if p.start < 0 || p.end < 0 {
		return -1
	}
	return p.end - p.start
}

func buildTimings(t *network.ResourceTiming) *har.Timings {
	if t == nil {
		return &har.Timings{Send: -1, Wait: -1, Receive: -1}
	}

	wait := float64(-1)
	if t.SendEnd >= 0 && t.ReceiveHeadersEnd >= 0 {
		wait = t.ReceiveHeadersEnd - t.SendEnd
	}

	return &har.Timings{
		Blocked: -1,
		DNS:     resourceTimingPhase{t.DNSStart, t.DNSEnd}.durationOrBlocked(),
		Connect: resourceTimingPhase{t.ConnectStart, t.ConnectEnd}.durationOrBlocked(),
		Ssl:     resourceTimingPhase{t.SslStart, t.SslEnd}.durationOrBlocked(),
		Send:    resourceTimingPhase{t.SendStart, t.SendEnd}.durationOrBlocked(),
		Wait:    wait,
		Receive: -1,
	}
}

func totalTime(t *har.Timings) float64 {
	total := float64(0)
	for _, v := range []float64{t.Blocked, t.DNS, t.Connect, t.Send, t.Wait, t.Receive} {
		if v > 0 {
			total += v
		}
	}
	return total
}

func redirectURL(headers network.Headers) string {
	for k, v := range map[string]any(headers) {
		if k == "Location" || k == "location" {
			return fmt.Sprint(v)
		}
	}
	return ""
}

func headersToHAR(headers network.Headers) []*har.NameValuePair {
	pairs := make([]*har.NameValuePair, 0, len(headers))
	for name, values := range map[string]any(headers) {
		if arr, ok := values.([]string); ok {
			for _, value := range arr {
				pairs = append(pairs, &har.NameValuePair{Name: name, Value: value})
			}
		} else {
			pairs = append(pairs, &har.NameValuePair{Name: name, Value: fmt.Sprint(values)})
		}
	}
	return pairs
}
