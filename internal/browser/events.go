package browser

import (
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

// pendingRequest holds the request side of a network event whilst we await
// the corresponding response. RequestID is the correlation key.
//
// Adapted from the teacher's internal/capture/events.go.
type pendingRequest struct {
	requestID    network.RequestID
	method       string
	url          string
	headers      network.Headers
	wallTime     time.Time
	resourceType network.ResourceType
	pageRef      string
}

// completedEntry holds a fully correlated request+response pair ready for
// HAR assembly.
type completedEntry struct {
	request  pendingRequest
	response *network.EventResponseReceived
}

// requestStore correlates requests and responses by RequestID in a
// concurrency-safe manner.
type requestStore struct {
	mu      sync.Mutex
	pending map[network.RequestID]pendingRequest
}

func newRequestStore() *requestStore {
	return &requestStore{pending: make(map[network.RequestID]pendingRequest)}
}

func (s *requestStore) addRequest(r pendingRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[r.requestID] = r
}

// correlate attempts to pair a response event with its pending request.
func (s *requestStore) correlate(ev *network.EventResponseReceived) (completedEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.pending[ev.RequestID]
	if !ok {
		return completedEntry{}, false
	}
	delete(s.pending, ev.RequestID)
	return completedEntry{request: req, response: ev}, true
}

// onRequest registers the pending request and, for document-type requests,
// emits a pageRef.
func onRequest(ev *network.EventRequestWillBeSent, store *requestStore, coll *collector) {
	ref := "page_" + string(ev.RequestID)

	store.addRequest(pendingRequest{
		requestID:    ev.RequestID,
		method:       ev.Request.Method,
		url:          ev.Request.URL,
		headers:      ev.Request.Headers,
		wallTime:     ev.WallTime.Time(),
		resourceType: ev.Type,
		pageRef:      ref,
	})

	if ev.Type == network.ResourceTypeDocument {
		coll.sendPage(pageRef{id: ref, startedDateTime: ev.WallTime.Time(), title: ev.Request.URL})
	}
}

// onResponse attempts to correlate the response with its pending request
// and, on success, emits a completedEntry.
func onResponse(ev *network.EventResponseReceived, store *requestStore, coll *collector) {
	entry, ok := store.correlate(ev)
	if !ok {
		return
	}
	coll.sendEntry(entry)
}
