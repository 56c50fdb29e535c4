package cdpsession

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdphost/bridge/internal/cdperr"
	"github.com/cdphost/bridge/internal/events"
	"github.com/cdphost/bridge/internal/registry"
	"github.com/cdphost/bridge/internal/state"
)

// fakeCDPServer speaks just enough CDP-over-WebSocket to exercise Session:
// it acks every command with an empty result, except the ones tests
// configure custom responses for or mark as never answered, and it can push
// arbitrary events.
type fakeCDPServer struct {
	srv *httptest.Server

	mu    sync.Mutex
	conns []net.Conn

	customResult map[string]json.RawMessage // method -> raw result
	customError  map[string]*struct {
		Code    int64  `json:"code"`
		Message string `json:"message"`
	}
	noReply map[string]bool // methods the server reads but never answers
}

func newFakeCDPServer() *fakeCDPServer {
	f := &fakeCDPServer{
		customResult: make(map[string]json.RawMessage),
		customError: make(map[string]*struct {
			Code    int64  `json:"code"`
			Message string `json:"message"`
		}),
		noReply: make(map[string]bool),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

func (f *fakeCDPServer) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeCDPServer) close() {
	f.srv.Close()
}

func (f *fakeCDPServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	go func() {
		defer conn.Close()
		for {
			buf, err := wsutil.ReadClientText(conn)
			if err != nil {
				return
			}
			var req struct {
				ID     int64           `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if err := json.Unmarshal(buf, &req); err != nil {
				continue
			}

			f.mu.Lock()
			errResp := f.customError[req.Method]
			result, hasCustom := f.customResult[req.Method]
			silent := f.noReply[req.Method]
			f.mu.Unlock()
			if silent {
				continue
			}

			resp := map[string]interface{}{"id": req.ID}
			if errResp != nil {
				resp["error"] = errResp
			} else if hasCustom {
				resp["result"] = result
			} else {
				resp["result"] = map[string]interface{}{}
			}
			out, _ := json.Marshal(resp)
			_ = wsutil.WriteServerText(conn, out)
		}
	}()
}

// pushEvent sends a method-only (no id) message on the most recently
// accepted connection, simulating a spontaneous CDP event.
func (f *fakeCDPServer) pushEvent(t *testing.T, method string, params interface{}) {
	t.Helper()
	p, err := json.Marshal(params)
	require.NoError(t, err)
	ev := map[string]interface{}{"method": method, "params": json.RawMessage(p)}
	out, err := json.Marshal(ev)
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.conns)
	conn := f.conns[len(f.conns)-1]
	require.NoError(t, wsutil.WriteServerText(conn, out))
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func dialTestSession(t *testing.T, f *fakeCDPServer, opts ...Option) *Session {
	t.Helper()
	bus := events.New(nil)
	tr := state.New(bus)
	target := registry.Target{ID: "t1", WSURL: f.wsURL()}

	s, err := Dial(context.Background(), target, bus, tr, testLogger(), opts...)
	require.NoError(t, err)
	return s
}

func TestDial_AutoEnablesDomains(t *testing.T) {
	f := newFakeCDPServer()
	defer f.close()

	s := dialTestSession(t, f)
	defer s.Close()

	enabled := s.EnabledDomains()
	for _, d := range []string{"Page", "Runtime", "Network", "DOM"} {
		assert.True(t, enabled[d], "%s should be auto-enabled", d)
	}
}

func TestDial_WithoutAutoEnable(t *testing.T) {
	f := newFakeCDPServer()
	defer f.close()

	s := dialTestSession(t, f, WithoutAutoEnable())
	defer s.Close()

	assert.Empty(t, s.EnabledDomains())
}

func TestSend_ReturnsResultVerbatim(t *testing.T) {
	f := newFakeCDPServer()
	defer f.close()
	f.customResult["Test.echo"] = json.RawMessage(`{"ok":true}`)

	s := dialTestSession(t, f, WithoutAutoEnable())
	defer s.Close()

	res, err := s.Send(context.Background(), "Test.echo", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(res))
}

func TestSend_CdpErrorSurfaced(t *testing.T) {
	f := newFakeCDPServer()
	defer f.close()
	f.customError["Test.fail"] = &struct {
		Code    int64  `json:"code"`
		Message string `json:"message"`
	}{Code: 42, Message: "boom"}

	s := dialTestSession(t, f, WithoutAutoEnable())
	defer s.Close()

	_, err := s.Send(context.Background(), "Test.fail", nil)
	require.Error(t, err)
	var cdpErr *cdperr.CdpError
	require.ErrorAs(t, err, &cdpErr)
	assert.Equal(t, int64(42), cdpErr.Code)
}

func TestSend_TimeoutWhenNoResponse(t *testing.T) {
	f := newFakeCDPServer()
	defer f.close()
	f.noReply["Test.neverResponds"] = true

	s := dialTestSession(t, f, WithoutAutoEnable())
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := s.Send(ctx, "Test.neverResponds", nil, WithTimeout(10*time.Millisecond))
	require.Error(t, err)
	assert.ErrorIs(t, err, cdperr.Timeout)
}

func TestSend_FailsNotConnectedAfterClose(t *testing.T) {
	f := newFakeCDPServer()
	defer f.close()

	s := dialTestSession(t, f, WithoutAutoEnable())
	s.Close()
	time.Sleep(20 * time.Millisecond) // let readLoop observe the close

	_, err := s.Send(context.Background(), "Test.anything", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, cdperr.NotConnected)
}

func TestInboundEvent_PublishedToBus(t *testing.T) {
	f := newFakeCDPServer()
	defer f.close()

	s := dialTestSession(t, f, WithoutAutoEnable())
	defer s.Close()

	received := make(chan []byte, 1)
	s.Bus().Subscribe("Page.loadEventFired", func(ev events.Event) {
		received <- ev.Params
	})

	f.pushEvent(t, "Page.loadEventFired", map[string]interface{}{"timestamp": 1})

	select {
	case params := <-received:
		assert.Contains(t, string(params), "timestamp")
	case <-time.After(time.Second):
		t.Fatal("event was not published to the bus")
	}
}

func TestInboundEvent_AdvancesTrackerDocVersion(t *testing.T) {
	f := newFakeCDPServer()
	defer f.close()

	s := dialTestSession(t, f, WithoutAutoEnable())
	defer s.Close()

	before := s.Tracker().DocVersion()
	f.pushEvent(t, "DOM.documentUpdated", map[string]interface{}{})

	require.Eventually(t, func() bool {
		return s.Tracker().DocVersion() > before
	}, time.Second, 5*time.Millisecond)
}
