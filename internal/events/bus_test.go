package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdphost/bridge/internal/cdperr"
)

func fakeClock() func() int64 {
	var t int64
	return func() int64 {
		t++
		return t
	}
}

func TestPublishSubscribe_OrderAndWildcard(t *testing.T) {
	b := New(fakeClock())

	var direct, wild []string
	b.Subscribe("Page.loadEventFired", func(ev Event) { direct = append(direct, string(ev.Params)) })
	b.Subscribe(Wildcard, func(ev Event) { wild = append(wild, ev.Method) })

	b.Publish("Page.loadEventFired", []byte(`{"a":1}`))
	b.Publish("Network.requestWillBeSent", []byte(`{}`))

	assert.Equal(t, []string{`{"a":1}`}, direct)
	assert.Equal(t, []string{"Page.loadEventFired", "Network.requestWillBeSent"}, wild)
}

func TestSubscriberPanicDoesNotAffectSiblings(t *testing.T) {
	b := New(fakeClock())

	var ran bool
	b.Subscribe("X", func(Event) { panic("boom") })
	b.Subscribe("X", func(Event) { ran = true })

	assert.NotPanics(t, func() { b.Publish("X", nil) })
	assert.True(t, ran)
}

func TestCancelRemovesSubscriber(t *testing.T) {
	b := New(fakeClock())

	var calls int
	sub := b.Subscribe("X", func(Event) { calls++ })
	b.Publish("X", nil)
	sub.Cancel()
	b.Publish("X", nil)

	assert.Equal(t, 1, calls)
}

func TestRingCapacity_FIFOEviction(t *testing.T) {
	b := New(fakeClock())

	for i := 0; i < RingCapacity+1; i++ {
		b.Publish("X", nil)
	}
	assert.Equal(t, RingCapacity, b.RingLen())

	events := b.BufferedEvents("X", 0)
	require.Len(t, events, RingCapacity)
	// The oldest (timestamp 1) should have been evicted; the newest present.
	assert.Equal(t, int64(RingCapacity+1), events[len(events)-1].TimestampMs)
}

func TestClearRing_SubscribersUnaffected(t *testing.T) {
	b := New(fakeClock())
	var calls int
	b.Subscribe("X", func(Event) { calls++ })

	b.Publish("X", nil)
	b.ClearRing()
	assert.Equal(t, 0, b.RingLen())

	b.Publish("X", nil)
	assert.Equal(t, 2, calls)
}

func TestWaitForEvent_TimeoutZeroConsumesNothing(t *testing.T) {
	b := New(fakeClock())
	_, err := b.WaitForEvent(context.Background(), "X", 0, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, cdperr.Timeout)
}

func TestWaitForEvent_FilterMatch(t *testing.T) {
	b := New(fakeClock())

	go func() {
		time.Sleep(5 * time.Millisecond)
		b.Publish("Network.responseReceived", []byte(`{"status":404}`))
		b.Publish("Network.responseReceived", []byte(`{"status":200}`))
	}()

	ev, err := b.WaitForEvent(context.Background(), "Network.responseReceived", time.Second, func(params []byte) bool {
		return string(params) == `{"status":200}`
	})
	require.NoError(t, err)
	assert.Equal(t, `{"status":200}`, string(ev.Params))
}

func TestWaitForEvent_Timeout(t *testing.T) {
	b := New(fakeClock())
	_, err := b.WaitForEvent(context.Background(), "Nothing", 10*time.Millisecond, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, cdperr.Timeout)
}

func TestWaitForEvent_RegistersBeforeCallerActs(t *testing.T) {
	b := New(fakeClock())

	done := make(chan struct{})
	go func() {
		defer close(done)
		ev, err := b.WaitForEvent(context.Background(), "X", time.Second, nil)
		if err == nil {
			_ = ev
		}
	}()

	// Give the waiter a moment to subscribe, then act; it must not have
	// missed the event.
	time.Sleep(5 * time.Millisecond)
	b.Publish("X", nil)
	<-done
}
