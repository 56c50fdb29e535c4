// Package primitives implements the composite operations built from CDP
// Session commands plus Event Layer waits: navigation load-completion,
// network-idle, response-match, dialog-wait, file-chooser-wait, the DOM
// node-id lifecycle, and emulation pass-throughs.
//
// Grounded on chromedp's poll.go ("compose a command with a bounded wait"
// shape), rewritten against this host's own cdpsession.Session/events.Bus
// instead of chromedp's cdp.Executor/Action machinery, since the CDP
// Session layer itself is the thing being built here, not a client sitting
// atop chromedp's.
package primitives

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cdphost/bridge/internal/cdperr"
	"github.com/cdphost/bridge/internal/cdpsession"
	"github.com/cdphost/bridge/internal/events"
	"github.com/cdphost/bridge/internal/state"
)

// DefaultWaitTimeout is used by primitives whose caller omits timeout_ms.
const DefaultWaitTimeout = 30 * time.Second

// Primitives groups the high-level operations bound to one CDP session.
type Primitives struct {
	sess    *cdpsession.Session
	bus     *events.Bus
	tracker *state.Tracker
	log     *logrus.Entry

	domMu        sync.Mutex
	rootNodeID   int64
	rootAtVer    uint64
	rootFetched  bool
	interceptSet bool
}

// New binds a Primitives to sess, drawing the Bus and Tracker that sess's
// dial already wired up.
func New(sess *cdpsession.Session, log *logrus.Entry) *Primitives {
	return &Primitives{
		sess:    sess,
		bus:     sess.Bus(),
		tracker: sess.Tracker(),
		log:     log.WithField("component", "primitives"),
	}
}

func withDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultWaitTimeout
	}
	return d
}

// --- 4.5.1 Load completion ---------------------------------------------

// WaitForLoad waits for the page lifecycle event matching waitUntil
// ("load" or "domcontentloaded"). If frameID is "", the wait is keyed to the
// main frame as tracked by the State Tracker.
func (p *Primitives) WaitForLoad(ctx context.Context, waitUntil, frameID string, timeout time.Duration) (json.RawMessage, error) {
	wantName := "load"
	if waitUntil == "domcontentloaded" {
		wantName = "DOMContentLoaded"
	}

	filter := func(params []byte) bool {
		var payload struct {
			FrameID string `json:"frameId"`
			Name    string `json:"name"`
		}
		if err := json.Unmarshal(params, &payload); err != nil {
			return false
		}
		if payload.Name != wantName {
			return false
		}
		want := frameID
		if want == "" {
			want = p.tracker.MainFrameID()
		}
		if want == "" {
			return true // no main frame observed yet; don't over-filter.
		}
		return payload.FrameID == want
	}

	ev, err := p.bus.WaitForEvent(ctx, "Page.lifecycleEvent", withDefault(timeout), filter)
	if err != nil {
		return nil, err
	}
	return ev.Params, nil
}

// --- 4.5.2 Network idle ---------------------------------------------------

// WaitForNetworkIdle resolves once the number of in-flight requests has sat
// at or below maxInflight for idleMs, excluding WebSocket connections from
// the inflight count. Concurrent invocations are independent.
func (p *Primitives) WaitForNetworkIdle(ctx context.Context, idleMs, timeoutMs time.Duration, maxInflight int) error {
	if idleMs <= 0 {
		idleMs = 500 * time.Millisecond
	}
	timeoutMs = withDefault(timeoutMs)

	var mu sync.Mutex
	inflight := 0
	var timer *time.Timer
	idleCh := make(chan struct{}, 1)

	signalIdle := func() {
		select {
		case idleCh <- struct{}{}:
		default:
		}
	}
	armIfIdle := func() {
		mu.Lock()
		defer mu.Unlock()
		if inflight > maxInflight {
			return
		}
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(idleMs, signalIdle)
	}

	reqSub := p.bus.Subscribe("Network.requestWillBeSent", func(ev events.Event) {
		var payload struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(ev.Params, &payload)
		if payload.Type == "WebSocket" {
			return
		}
		mu.Lock()
		inflight++
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	})
	defer reqSub.Cancel()

	onDone := func(events.Event) {
		mu.Lock()
		if inflight > 0 {
			inflight--
		}
		mu.Unlock()
		armIfIdle()
	}
	finSub := p.bus.Subscribe("Network.loadingFinished", onDone)
	defer finSub.Cancel()
	failSub := p.bus.Subscribe("Network.loadingFailed", onDone)
	defer failSub.Cancel()

	armIfIdle() // covers the already-idle case (no requests ever arrive).

	overall := time.NewTimer(timeoutMs)
	defer overall.Stop()

	select {
	case <-idleCh:
		return nil
	case <-overall.C:
		return cdperr.WithTimeout("wait_for_network_idle")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- 4.5.3 Response match -------------------------------------------------

// ResponseMatch is the result of a resolved wait_for_response.
type ResponseMatch struct {
	RequestID string            `json:"requestId"`
	URL       string            `json:"url"`
	Status    int64             `json:"status"`
	Headers   map[string]string `json:"headers"`
}

// WaitForResponseArgs mirrors wait_for_response's argument set (spec.md
// §4.5.3). The regex, if any, must already be compiled by the caller exactly
// once up front (never inside the hot event-filter path).
type WaitForResponseArgs struct {
	URLSubstring string
	URLRegex     *regexp.Regexp
	HTTPMethod   string
	Status       *int64
	ResourceType string
	Timeout      time.Duration
}

// CompileURLRegex compiles pattern once, per spec.md §9's "compiled once up
// front, never in the hot path" rule. Patterns use Go's regexp (RE2) syntax,
// which has no backreferences or lookaround. Returns BadPattern on invalid
// syntax.
func CompileURLRegex(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cdperr.BadPattern, err)
	}
	return re, nil
}

// WaitForResponse waits for a Network.responseReceived event matching every
// specified predicate in args.
func (p *Primitives) WaitForResponse(ctx context.Context, args WaitForResponseArgs) (ResponseMatch, error) {
	filter := func(params []byte) bool {
		var payload struct {
			RequestID string `json:"requestId"`
			Response  struct {
				URL     string            `json:"url"`
				Status  int64             `json:"status"`
				Headers map[string]string `json:"headers"`
			} `json:"response"`
			Type string `json:"type"`
		}
		if err := json.Unmarshal(params, &payload); err != nil {
			return false
		}
		if args.URLSubstring != "" && !strings.Contains(payload.Response.URL, args.URLSubstring) {
			return false
		}
		if args.URLRegex != nil && !args.URLRegex.MatchString(payload.Response.URL) {
			return false
		}
		if args.Status != nil && payload.Response.Status != *args.Status {
			return false
		}
		if args.ResourceType != "" && payload.Type != args.ResourceType {
			return false
		}
		if args.HTTPMethod != "" {
			method, ok := p.tracker.RequestMethod(payload.RequestID)
			if !ok || method != args.HTTPMethod {
				return false
			}
		}
		return true
	}

	ev, err := p.bus.WaitForEvent(ctx, "Network.responseReceived", withDefault(args.Timeout), filter)
	if err != nil {
		return ResponseMatch{}, err
	}

	var payload struct {
		RequestID string `json:"requestId"`
		Response  struct {
			URL     string            `json:"url"`
			Status  int64             `json:"status"`
			Headers map[string]string `json:"headers"`
		} `json:"response"`
	}
	if err := json.Unmarshal(ev.Params, &payload); err != nil {
		return ResponseMatch{}, fmt.Errorf("%w: decode matched response", cdperr.Internal)
	}
	return ResponseMatch{
		RequestID: payload.RequestID,
		URL:       payload.Response.URL,
		Status:    payload.Response.Status,
		Headers:   payload.Response.Headers,
	}, nil
}

// --- 4.5.4 Dialog ----------------------------------------------------------

// DialogResult is the outcome of a resolved wait_for_dialog.
type DialogResult struct {
	Type                string `json:"type"`
	Message             string `json:"message"`
	URL                 string `json:"url"`
	DefaultPrompt       string `json:"defaultPrompt"`
	HasBrowserHandler   bool   `json:"hasBrowserHandler"`
}

// WaitForDialogArgs mirrors wait_for_dialog's arguments.
type WaitForDialogArgs struct {
	Timeout    time.Duration
	AutoHandle bool
	Accept     bool
	PromptText string
}

// WaitForDialog waits for Page.javascriptDialogOpening and, if requested,
// immediately handles it.
func (p *Primitives) WaitForDialog(ctx context.Context, args WaitForDialogArgs) (DialogResult, error) {
	ev, err := p.bus.WaitForEvent(ctx, "Page.javascriptDialogOpening", withDefault(args.Timeout), nil)
	if err != nil {
		return DialogResult{}, err
	}

	var payload struct {
		Type              string `json:"type"`
		Message           string `json:"message"`
		URL               string `json:"url"`
		DefaultPrompt     string `json:"defaultPrompt"`
		HasBrowserHandler bool   `json:"hasBrowserHandler"`
	}
	if err := json.Unmarshal(ev.Params, &payload); err != nil {
		return DialogResult{}, fmt.Errorf("%w: decode dialog event", cdperr.Internal)
	}

	if args.AutoHandle {
		handleParams := map[string]interface{}{"accept": args.Accept}
		if payload.Type == "prompt" && args.PromptText != "" {
			handleParams["promptText"] = args.PromptText
		}
		if _, err := p.sess.Send(ctx, "Page.handleJavaScriptDialog", handleParams); err != nil {
			return DialogResult{}, err
		}
	}

	return DialogResult{
		Type:              payload.Type,
		Message:           payload.Message,
		URL:               payload.URL,
		DefaultPrompt:     payload.DefaultPrompt,
		HasBrowserHandler: payload.HasBrowserHandler,
	}, nil
}

// --- 4.5.5 File chooser -----------------------------------------------------

// FileChooserResult is the outcome of a resolved wait_for_file_chooser.
type FileChooserResult struct {
	FrameID       string `json:"frameId"`
	Mode          string `json:"mode"`
	BackendNodeID int64  `json:"backendNodeId"`
}

// WaitForFileChooser idempotently enables file-chooser interception, then
// waits for Page.fileChooserOpened.
func (p *Primitives) WaitForFileChooser(ctx context.Context, timeout time.Duration) (FileChooserResult, error) {
	p.domMu.Lock()
	alreadySet := p.interceptSet
	p.domMu.Unlock()

	if !alreadySet {
		if _, err := p.sess.Send(ctx, "Page.setInterceptFileChooserDialog", map[string]interface{}{"enabled": true}); err != nil {
			return FileChooserResult{}, err
		}
		p.domMu.Lock()
		p.interceptSet = true
		p.domMu.Unlock()
	}

	ev, err := p.bus.WaitForEvent(ctx, "Page.fileChooserOpened", withDefault(timeout), nil)
	if err != nil {
		return FileChooserResult{}, err
	}

	var payload struct {
		FrameID       string `json:"frameId"`
		Mode          string `json:"mode"`
		BackendNodeID int64  `json:"backendNodeId"`
	}
	if err := json.Unmarshal(ev.Params, &payload); err != nil {
		return FileChooserResult{}, fmt.Errorf("%w: decode file chooser event", cdperr.Internal)
	}
	return FileChooserResult{FrameID: payload.FrameID, Mode: payload.Mode, BackendNodeID: payload.BackendNodeID}, nil
}

// --- 4.5.6 DOM primitives ---------------------------------------------------

// QueryResult is a resolved node-id, carrying the document version it was
// resolved against so callers can detect staleness later.
type QueryResult struct {
	NodeID          int64  `json:"nodeId"`
	DocVersionAtQuery uint64 `json:"docVersionAtQuery"`
}

func (p *Primitives) ensureFreshRoot(ctx context.Context) (int64, error) {
	p.domMu.Lock()
	defer p.domMu.Unlock()

	if p.rootFetched && !p.tracker.IsStale(p.rootAtVer) {
		return p.rootNodeID, nil
	}

	res, err := p.sess.Send(ctx, "DOM.getDocument", map[string]interface{}{"depth": -1, "pierce": true}, cdpsession.WithTimeout(60*time.Second))
	if err != nil {
		return 0, err
	}
	var payload struct {
		Root struct {
			NodeID int64 `json:"nodeId"`
		} `json:"root"`
	}
	if err := json.Unmarshal(res, &payload); err != nil {
		return 0, fmt.Errorf("%w: decode DOM.getDocument result", cdperr.Internal)
	}

	p.rootNodeID = payload.Root.NodeID
	p.rootAtVer = p.tracker.DocVersion()
	p.rootFetched = true
	p.tracker.MarkRootFresh()
	return p.rootNodeID, nil
}

// Query resolves selector to one node id, scoped under scopeNodeID (0 for
// the document root).
func (p *Primitives) Query(ctx context.Context, selector string, scopeNodeID int64) (QueryResult, error) {
	root, err := p.ensureFreshRoot(ctx)
	if err != nil {
		return QueryResult{}, err
	}
	scope := scopeNodeID
	if scope == 0 {
		scope = root
	}

	res, err := p.sess.Send(ctx, "DOM.querySelector", map[string]interface{}{"nodeId": scope, "selector": selector})
	if err != nil {
		return QueryResult{}, err
	}
	var payload struct {
		NodeID int64 `json:"nodeId"`
	}
	if err := json.Unmarshal(res, &payload); err != nil {
		return QueryResult{}, fmt.Errorf("%w: decode DOM.querySelector result", cdperr.Internal)
	}
	if payload.NodeID == 0 {
		return QueryResult{}, fmt.Errorf("query %q: %w", selector, cdperr.NotFound)
	}
	return QueryResult{NodeID: payload.NodeID, DocVersionAtQuery: p.tracker.DocVersion()}, nil
}

// QueryAll resolves selector to every matching node id.
func (p *Primitives) QueryAll(ctx context.Context, selector string, scopeNodeID int64) ([]QueryResult, error) {
	root, err := p.ensureFreshRoot(ctx)
	if err != nil {
		return nil, err
	}
	scope := scopeNodeID
	if scope == 0 {
		scope = root
	}

	res, err := p.sess.Send(ctx, "DOM.querySelectorAll", map[string]interface{}{"nodeId": scope, "selector": selector})
	if err != nil {
		return nil, err
	}
	var payload struct {
		NodeIDs []int64 `json:"nodeIds"`
	}
	if err := json.Unmarshal(res, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode DOM.querySelectorAll result", cdperr.Internal)
	}
	atVer := p.tracker.DocVersion()
	out := make([]QueryResult, len(payload.NodeIDs))
	for i, id := range payload.NodeIDs {
		out[i] = QueryResult{NodeID: id, DocVersionAtQuery: atVer}
	}
	return out, nil
}

// EnsureFresh returns StaleNode if queriedAtVersion predates the tracker's
// current document version. Callers must call this before issuing any
// command keyed by a previously resolved node id; the core never silently
// re-queries on the caller's behalf (spec.md §3/§9).
func (p *Primitives) EnsureFresh(queriedAtVersion uint64) error {
	if p.tracker.IsStale(queriedAtVersion) {
		return cdperr.StaleNode
	}
	return nil
}

// --- 4.5.7 Emulation ---------------------------------------------------

// EmulateDeviceMetrics passes through to Emulation.setDeviceMetricsOverride,
// then always issues Emulation.setTouchEmulationEnabled with enabled set to
// touch (so touch=false turns touch emulation off).
func (p *Primitives) EmulateDeviceMetrics(ctx context.Context, width, height int64, deviceScaleFactor float64, mobile, touch bool) error {
	_, err := p.sess.Send(ctx, "Emulation.setDeviceMetricsOverride", map[string]interface{}{
		"width":             width,
		"height":            height,
		"deviceScaleFactor": deviceScaleFactor,
		"mobile":            mobile,
	})
	if err != nil {
		return err
	}
	_, err = p.sess.Send(ctx, "Emulation.setTouchEmulationEnabled", map[string]interface{}{"enabled": touch})
	return err
}

// EmulateUserAgent passes through to Emulation.setUserAgentOverride.
func (p *Primitives) EmulateUserAgent(ctx context.Context, userAgent string) error {
	_, err := p.sess.Send(ctx, "Emulation.setUserAgentOverride", map[string]interface{}{"userAgent": userAgent})
	return err
}

// EmulateTimezone passes through to Emulation.setTimezoneOverride.
func (p *Primitives) EmulateTimezone(ctx context.Context, timezoneID string) error {
	_, err := p.sess.Send(ctx, "Emulation.setTimezoneOverride", map[string]interface{}{"timezoneId": timezoneID})
	return err
}

// EmulateGeolocation passes through to Emulation.setGeolocationOverride,
// preceded by a best-effort Browser.grantPermissions whose failure is
// swallowed so older browsers without that method still function.
func (p *Primitives) EmulateGeolocation(ctx context.Context, latitude, longitude, accuracy float64) error {
	if _, err := p.sess.Send(ctx, "Browser.grantPermissions", map[string]interface{}{
		"permissions": []string{"geolocation"},
	}); err != nil {
		p.log.WithError(err).Debug("Browser.grantPermissions failed; continuing without it")
	}
	_, err := p.sess.Send(ctx, "Emulation.setGeolocationOverride", map[string]interface{}{
		"latitude":  latitude,
		"longitude": longitude,
		"accuracy":  accuracy,
	})
	return err
}
