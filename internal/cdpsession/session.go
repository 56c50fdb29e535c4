// Package cdpsession implements the CDP Session: one WebSocket to one
// debugging target, command/response correlation, auto-enabled domains, and
// the inbound demultiplexer that feeds the Event Layer and State Tracker.
//
// Grounded primarily on chromedp's browser.go (Browser.run's id-vs-method
// demux and Browser.Execute's per-command channel+select-on-ctx.Done), with
// the single-target collapse of session.go taken from
// raiden-staging-kernel-images's webmcp bridge.go (sendCDP's atomic id +
// pendingCalls map[int64]chan ...), since our Session owns exactly one
// target's socket rather than chromedp's one-socket-many-targets fan-out.
package cdpsession

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/sirupsen/logrus"

	"github.com/cdphost/bridge/internal/cdperr"
	"github.com/cdphost/bridge/internal/events"
	"github.com/cdphost/bridge/internal/registry"
	"github.com/cdphost/bridge/internal/state"
)

// DefaultCommandTimeout is send's intrinsic per-command timeout (spec.md §4.2).
const DefaultCommandTimeout = 30 * time.Second

// autoEnableDomains are enabled, in this order, immediately after dial unless
// the caller opts out via WithoutAutoEnable.
var autoEnableDomains = []string{"Page", "Runtime", "Network", "DOM"}

// Network.enable buffer sizes (spec.md §4.2): generous enough that later
// response-body fetches don't fail with "no data found".
const (
	networkMaxResourceBufferSize = 10 * 1024 * 1024
	networkMaxTotalBufferSize    = 50 * 1024 * 1024
)

// pending response arrives either as a raw result or as an error (a
// *cdperr.CdpError from the browser, or NotConnected when the socket
// closes); exactly one of the two fields is set.
type rawResult struct {
	result json.RawMessage
	err    error
}

// Session owns one WebSocket to one CDP target.
type Session struct {
	target registry.Target
	conn   *wsConn
	log    *logrus.Entry

	bus     *events.Bus
	tracker *state.Tracker

	nextCmdID int64 // atomic

	mu             sync.Mutex
	pending        map[int64]chan rawResult
	enabledDomains map[string]bool
	closed         bool

	writeMu sync.Mutex // serializes outbound frames per session (spec.md §5)
}

// Option configures session dial-time behavior.
type Option func(*sessionOpts)

type sessionOpts struct {
	skipAutoEnable bool
}

// WithoutAutoEnable skips the Page/Runtime/Network/DOM auto-enable sequence.
func WithoutAutoEnable() Option {
	return func(o *sessionOpts) { o.skipAutoEnable = true }
}

// Dial opens a new Session to target and, unless WithoutAutoEnable is given,
// auto-enables domains per spec.md §4.2.
func Dial(ctx context.Context, target registry.Target, bus *events.Bus, tracker *state.Tracker, log *logrus.Entry, opts ...Option) (*Session, error) {
	var o sessionOpts
	for _, opt := range opts {
		opt(&o)
	}

	conn, err := dialWS(ctx, target.WSURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cdperr.BrowserUnavailable, err)
	}

	s := &Session{
		target:         target,
		conn:           conn,
		log:            log.WithFields(logrus.Fields{"component": "cdpsession", "target": target.ID}),
		bus:            bus,
		tracker:        tracker,
		pending:        make(map[int64]chan rawResult),
		enabledDomains: make(map[string]bool),
	}

	go s.readLoop()

	if !o.skipAutoEnable {
		if err := s.autoEnable(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

// Target returns the target this session is bound to.
func (s *Session) Target() registry.Target {
	return s.target
}

// Tracker returns the state.Tracker derived from this session's event
// stream, for primitives that need doc_version/network-request lookups.
func (s *Session) Tracker() *state.Tracker {
	return s.tracker
}

// Bus returns the events.Bus this session publishes inbound CDP events to.
func (s *Session) Bus() *events.Bus {
	return s.bus
}

func (s *Session) autoEnable(ctx context.Context) error {
	for _, domain := range autoEnableDomains {
		var params interface{}
		if domain == "Network" {
			params = map[string]interface{}{
				"maxResourceBufferSize": networkMaxResourceBufferSize,
				"maxTotalBufferSize":    networkMaxTotalBufferSize,
			}
		}
		if _, err := s.Send(ctx, domain+".enable", params); err != nil {
			return fmt.Errorf("auto-enable %s: %w", domain, err)
		}
		s.mu.Lock()
		s.enabledDomains[domain] = true
		s.mu.Unlock()

		if domain == "Page" {
			if _, err := s.Send(ctx, "Page.setLifecycleEventsEnabled", map[string]interface{}{"enabled": true}); err != nil {
				return fmt.Errorf("enable page lifecycle events: %w", err)
			}
		}
	}
	return nil
}

// EnabledDomains reports which of the auto-enable domains are currently on.
func (s *Session) EnabledDomains() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.enabledDomains))
	for k, v := range s.enabledDomains {
		out[k] = v
	}
	return out
}

// SendOption overrides per-call Send behavior.
type SendOption func(*sendOpts)

type sendOpts struct {
	timeout time.Duration
}

// WithTimeout overrides the default 30s command timeout for one Send call,
// for commands the primitives issue that legitimately need longer (e.g.
// DOM.getDocument on a very large page).
func WithTimeout(d time.Duration) SendOption {
	return func(o *sendOpts) { o.timeout = d }
}

// Send issues one CDP command and blocks for its response, per spec.md
// §4.2's send contract: monotonic id, 30s default timeout, exactly-once
// pending resolution. The returned json.RawMessage is the CDP result object
// verbatim; callers that hand it straight back as a tool result rely on
// json.RawMessage's pass-through MarshalJSON rather than []byte's
// base64-encoding default.
func (s *Session) Send(ctx context.Context, method string, params interface{}, opts ...SendOption) (json.RawMessage, error) {
	o := sendOpts{timeout: DefaultCommandTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("send %s: %w", method, cdperr.NotConnected)
	}
	id := atomic.AddInt64(&s.nextCmdID, 1)
	ch := make(chan rawResult, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	var paramsBytes []byte
	if params != nil {
		var err error
		paramsBytes, err = json.Marshal(params)
		if err != nil {
			s.dropPending(id)
			return nil, fmt.Errorf("%w: marshal %s params: %v", cdperr.BadArguments, method, err)
		}
	}

	msg := &cdproto.Message{
		ID:     uint64(id),
		Method: cdproto.MethodType(method),
		Params: paramsBytes,
	}

	s.writeMu.Lock()
	err := s.conn.Write(msg)
	s.writeMu.Unlock()
	if err != nil {
		s.dropPending(id)
		return nil, fmt.Errorf("send %s: %w", method, cdperr.NotConnected)
	}

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.result, nil
	case <-timer.C:
		s.dropPending(id)
		return nil, cdperr.WithTimeout(method)
	case <-ctx.Done():
		// The id still consumed its slot; a late response is ignored by
		// readLoop once dropPending has removed the channel (spec.md §5).
		s.dropPending(id)
		return nil, ctx.Err()
	}
}

func (s *Session) dropPending(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// readLoop is the inbound demultiplexer: one goroutine per socket, per
// spec.md §5. It never returns until the connection closes.
func (s *Session) readLoop() {
	for {
		var msg cdproto.Message
		if err := s.conn.Read(&msg); err != nil {
			s.handleClose()
			return
		}

		if msg.ID != 0 {
			s.handleResponse(&msg)
			continue
		}
		if msg.Method != "" {
			s.handleEvent(&msg)
		}
	}
}

func (s *Session) handleResponse(msg *cdproto.Message) {
	s.mu.Lock()
	ch, ok := s.pending[int64(msg.ID)]
	if ok {
		delete(s.pending, int64(msg.ID))
	}
	s.mu.Unlock()
	if !ok {
		// Already timed out/cancelled; a late response is ignored.
		return
	}

	if msg.Error != nil {
		ch <- rawResult{err: &cdperr.CdpError{Code: msg.Error.Code, Message: msg.Error.Message}}
		return
	}
	ch <- rawResult{result: json.RawMessage(msg.Result)}
}

func (s *Session) handleEvent(msg *cdproto.Message) {
	params := []byte(msg.Params)
	s.bus.Publish(string(msg.Method), params)
}

// handleClose runs the socket-close cleanup once (the closed flag makes any
// later call a no-op): pending commands reject with NotConnected, the
// enabled-domain set and the bus's event ring are cleared, and later Sends
// fail NotConnected. Bus subscribers and the tracker's network request
// registry are not cleared; a Session never redials, and the Dispatcher
// dials a new Session with a new Bus and Tracker once it sees this one
// Closed.
func (s *Session) handleClose() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = make(map[int64]chan rawResult)
	s.enabledDomains = make(map[string]bool)
	s.mu.Unlock()

	for _, ch := range pending {
		ch <- rawResult{err: fmt.Errorf("connection closed: %w", cdperr.NotConnected)}
	}
	// Only the ring is cleared, for callers still holding a reference to
	// this session's bus.
	s.bus.ClearRing()
	s.log.Debug("cdp session closed")
}

// Closed reports whether the session's socket has closed (and its state has
// been cleared).
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close closes the underlying socket, triggering handleClose via readLoop's
// next Read error.
func (s *Session) Close() error {
	return s.conn.Close()
}
