// Package events implements the Event Layer: in-process publish/subscribe
// over CDP event methods, a bounded ring buffer for pull-style retrieval, and
// the wait_for_event primitive other packages build on.
//
// Grounded on chromedp's old TargetHandler.Listen/Release (handler.go): a
// map from method to a set of subscriber channels, with explicit revocation
// instead of inherited emit/on. The bounded ring and the filtered
// wait_for_event are spec.md additions (§4.3) with no direct chromedp
// analogue; all of it is built on the standard library alone.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/cdphost/bridge/internal/cdperr"
)

// RingCapacity is the fixed size of the event ring (spec.md §3).
const RingCapacity = 1000

// Wildcard subscribes to every event method.
const Wildcard = "*"

// Event is one observed CDP protocol event.
type Event struct {
	Method      string
	Params      []byte
	TimestampMs int64
}

// Filter reports whether an event should satisfy a wait. A nil Filter always
// matches.
type Filter func(params []byte) bool

// Subscription is the handle returned by Subscribe. Cancel removes the
// subscriber atomically with respect to future dispatches.
type Subscription struct {
	bus    *Bus
	method string
	id     uint64
}

// Cancel revokes the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.bus.unsubscribe(s.method, s.id)
}

type subscriber struct {
	id      uint64
	handler func(Event)
}

// Bus is the per-session event publish/subscribe hub plus its event ring.
type Bus struct {
	mu        sync.Mutex
	subs      map[string][]subscriber
	nextSubID uint64
	ring      []Event
	nowMs     func() int64
}

// New creates an empty Bus. nowMs supplies the current time in milliseconds;
// pass nil to use time.Now.
func New(nowMs func() int64) *Bus {
	if nowMs == nil {
		nowMs = func() int64 { return time.Now().UnixMilli() }
	}
	return &Bus{
		subs:  make(map[string][]subscriber),
		nowMs: nowMs,
	}
}

// Subscribe registers handler for method ("*" for every method) and returns
// a revocation handle. handler is invoked synchronously from Publish; a
// handler that panics does not affect sibling subscribers or the publisher.
func (b *Bus) Subscribe(method string, handler func(Event)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	id := b.nextSubID
	b.subs[method] = append(b.subs[method], subscriber{id: id, handler: handler})
	return &Subscription{bus: b, method: method, id: id}
}

func (b *Bus) unsubscribe(method string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[method]
	for i, s := range list {
		if s.id == id {
			b.subs[method] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Publish appends ev to the ring (evicting the oldest on overflow) and
// dispatches it to subscribers of ev.Method and of the wildcard, in that
// order, both in the order they were registered.
func (b *Bus) Publish(method string, params []byte) {
	ev := Event{Method: method, Params: params, TimestampMs: b.nowMs()}

	b.mu.Lock()
	if len(b.ring) >= RingCapacity {
		b.ring = b.ring[1:]
	}
	b.ring = append(b.ring, ev)

	// Copy the subscriber slices under lock so a handler mutating
	// subscriptions (e.g. canceling itself) cannot race the dispatch loop.
	direct := append([]subscriber(nil), b.subs[method]...)
	wild := append([]subscriber(nil), b.subs[Wildcard]...)
	b.mu.Unlock()

	dispatch := func(subs []subscriber) {
		for _, s := range subs {
			runHandler(s.handler, ev)
		}
	}
	dispatch(direct)
	if method != Wildcard {
		dispatch(wild)
	}
}

func runHandler(handler func(Event), ev Event) {
	defer func() { _ = recover() }()
	handler(ev)
}

// BufferedEvents returns the ring entries matching method (or all events, if
// method is "") observed at or after sinceMs.
func (b *Bus) BufferedEvents(method string, sinceMs int64) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Event, 0, len(b.ring))
	for _, ev := range b.ring {
		if ev.TimestampMs < sinceMs {
			continue
		}
		if method != "" && ev.Method != method {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// ClearRing empties the event ring. Subscribers are unaffected.
func (b *Bus) ClearRing() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring = nil
}

// RingLen reports the current number of buffered events, for tests asserting
// the capacity invariant.
func (b *Bus) RingLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ring)
}

// WaitForEvent blocks until the first event for method (or the wildcard if
// method is "*") for which filter returns true, or until ctx is done or
// timeout elapses, whichever comes first. The subscriber is registered
// before returning to the caller begins its action, per spec.md §4.3/§9: the
// caller must call WaitForEvent before triggering the action that produces
// the event, never after.
func (b *Bus) WaitForEvent(ctx context.Context, method string, timeout time.Duration, filter Filter) (Event, error) {
	if timeout <= 0 {
		return Event{}, cdperr.WithTimeout("wait_for_event")
	}

	ch := make(chan Event, 1)
	sub := b.Subscribe(method, func(ev Event) {
		if filter != nil && !filter(ev.Params) {
			return
		}
		select {
		case ch <- ev:
		default:
		}
	})
	defer sub.Cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-ch:
		return ev, nil
	case <-timer.C:
		return Event{}, cdperr.WithTimeout("wait_for_event")
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}
