// Package state implements the State Tracker: derived document-version
// invalidation and a bounded network request registry, both kept up to date
// purely by observing CDP events published on an events.Bus.
//
// Grounded on chromedp's target.go documentUpdated/pageEvent/domEvent
// handling (doc_version is chromedp's own "invalidate nodes on
// DOM.documentUpdated / main-frame Page.frameNavigated" rule, generalized
// from chromedp's channel-close-based node invalidation to the counter
// spec.md §3/§4.4 specifies), plus the request lifecycle spec.md adds with no
// chromedp analogue (chromedp does not track network requests by id).
package state

import (
	"encoding/json"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/cdphost/bridge/internal/events"
)

// NetworkRequestCapacity bounds the network request registry (spec.md §3).
const NetworkRequestCapacity = 500

// NetworkRequest is the derived lifecycle of one tracked request.
type NetworkRequest struct {
	URL        string
	Method     string
	SentAt     int64
	FinishedAt *int64
}

// Tracker holds the DOM document version and the network request registry
// derived from a session's event stream.
type Tracker struct {
	mu sync.RWMutex

	docVersion uint64
	rootStale  bool // root_node_id is cleared: true until a fresh query sets it.
	mainFrame  string

	order []string // insertion order of netReqs keys, for FIFO eviction.
	net   map[string]*NetworkRequest
}

// New creates a Tracker subscribed to bus for the events it derives state
// from. The returned Tracker is ready to use immediately.
func New(bus *events.Bus) *Tracker {
	t := &Tracker{
		net: make(map[string]*NetworkRequest, NetworkRequestCapacity),
	}
	bus.Subscribe("DOM.documentUpdated", func(events.Event) { t.bumpDocVersion() })
	bus.Subscribe("Page.frameNavigated", func(ev events.Event) { t.onFrameNavigated(ev) })
	bus.Subscribe("Network.requestWillBeSent", func(ev events.Event) { t.onRequestWillBeSent(ev) })
	bus.Subscribe("Network.loadingFinished", func(ev events.Event) { t.onLoadingDone(ev) })
	bus.Subscribe("Network.loadingFailed", func(ev events.Event) { t.onLoadingDone(ev) })
	return t
}

// DocVersion returns the current document version.
func (t *Tracker) DocVersion() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.docVersion
}

// RootStale reports whether the cached root node id must be refreshed with a
// fresh DOM.getDocument before the next query.
func (t *Tracker) RootStale() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootStale
}

// MarkRootFresh clears the staleness flag after a caller has issued a fresh
// DOM.getDocument for the current doc version.
func (t *Tracker) MarkRootFresh() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rootStale = false
}

// IsStale reports whether a node reference queried at queriedAtVersion is
// stale with respect to the tracker's current document version (spec.md
// §3's "doc_version_at_query < session.doc_version").
func (t *Tracker) IsStale(queriedAtVersion uint64) bool {
	return queriedAtVersion < t.DocVersion()
}

func (t *Tracker) bumpDocVersion() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.docVersion++
	t.rootStale = true
}

func (t *Tracker) onFrameNavigated(ev events.Event) {
	var payload struct {
		Frame struct {
			ID       string `json:"id"`
			ParentID string `json:"parentId"`
		} `json:"frame"`
	}
	if err := json.Unmarshal(ev.Params, &payload); err != nil {
		return
	}
	if payload.Frame.ParentID != "" {
		return // not the main frame.
	}
	t.mu.Lock()
	t.mainFrame = payload.Frame.ID
	t.mu.Unlock()
	t.bumpDocVersion()
}

// MainFrameID returns the most recently observed main frame id, or "" if no
// main-frame navigation has been observed yet.
func (t *Tracker) MainFrameID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mainFrame
}

func (t *Tracker) onRequestWillBeSent(ev events.Event) {
	var payload struct {
		RequestID string `json:"requestId"`
		Request   struct {
			URL    string `json:"url"`
			Method string `json:"method"`
		} `json:"request"`
		WallTime float64 `json:"wallTime"`
	}
	if err := json.Unmarshal(ev.Params, &payload); err != nil || payload.RequestID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.net[payload.RequestID]; !exists {
		if len(t.order) >= NetworkRequestCapacity {
			oldest := t.order[0]
			t.order = slices.Delete(t.order, 0, 1)
			delete(t.net, oldest)
		}
		t.order = append(t.order, payload.RequestID)
	}
	t.net[payload.RequestID] = &NetworkRequest{
		URL:    payload.Request.URL,
		Method: payload.Request.Method,
		SentAt: ev.TimestampMs,
	}
}

func (t *Tracker) onLoadingDone(ev events.Event) {
	var payload struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(ev.Params, &payload); err != nil || payload.RequestID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if req, ok := t.net[payload.RequestID]; ok {
		finished := ev.TimestampMs
		req.FinishedAt = &finished
	}
}

// RequestMethod returns the HTTP method recorded for requestId by the
// earlier Network.requestWillBeSent entry, or "" with ok=false if the
// request is not (or no longer) tracked. This is the only reliable source
// for the HTTP verb: Network.responseReceived's "type" field is the resource
// type, not the method (spec.md §4.4).
func (t *Tracker) RequestMethod(requestID string) (method string, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	req, exists := t.net[requestID]
	if !exists {
		return "", false
	}
	return req.Method, true
}

// NetworkRequestCount reports the number of tracked requests, for tests
// asserting the capacity invariant.
func (t *Tracker) NetworkRequestCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.net)
}
