package primitives

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
	"github.com/cdphost/bridge/internal/cdpsession"
	"github.com/cdphost/bridge/internal/events"
	"github.com/cdphost/bridge/internal/registry"
	"github.com/cdphost/bridge/internal/state"
)

// fakeTarget acks every CDP command with an empty result and lets the test
// push spontaneous events on demand, mirroring cdpsession's own test double.
type fakeTarget struct {
	srv *httptest.Server

	mu    sync.Mutex
	conns []net.Conn

	customResult map[string]json.RawMessage
}

func newFakeTarget() *fakeTarget {
	f := &fakeTarget{customResult: make(map[string]json.RawMessage)}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

func (f *fakeTarget) wsURL() string { return "ws" + strings.TrimPrefix(f.srv.URL, "http") }
func (f *fakeTarget) close()        { f.srv.Close() }

func (f *fakeTarget) handle(w http.ResponseWriter, r *http.Request) {
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
				ID     int64  `json:"id"`
				Method string `json:"method"`
			}
			if err := json.Unmarshal(buf, &req); err != nil {
				continue
			}
			f.mu.Lock()
			result, ok := f.customResult[req.Method]
			f.mu.Unlock()

			resp := map[string]interface{}{"id": req.ID}
			if ok {
				resp["result"] = result
			} else {
				resp["result"] = map[string]interface{}{}
			}
			out, _ := json.Marshal(resp)
			_ = wsutil.WriteServerText(conn, out)
		}
	}()
}

func (f *fakeTarget) pushEvent(t *testing.T, method string, params interface{}) {
	t.Helper()
	p, err := json.Marshal(params)
	require.NoError(t, err)
	out, err := json.Marshal(map[string]interface{}{"method": method, "params": json.RawMessage(p)})
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.conns)
	require.NoError(t, wsutil.WriteServerText(f.conns[len(f.conns)-1], out))
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func newTestPrimitives(t *testing.T, f *fakeTarget) *Primitives {
	t.Helper()
	bus := events.New(nil)
	tr := state.New(bus)
	target := registry.Target{ID: "t1", WSURL: f.wsURL()}
	sess, err := cdpsession.Dial(context.Background(), target, bus, tr, testLogger(), cdpsession.WithoutAutoEnable())
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return New(sess, testLogger())
}

func TestWaitForResponse_MethodResolvedViaTracker(t *testing.T) {
	f := newFakeTarget()
	defer f.close()
	p := newTestPrimitives(t, f)

	f.pushEvent(t, "Network.requestWillBeSent", map[string]interface{}{
		"requestId": "r1", "request": map[string]interface{}{"url": "https://x/a", "method": "POST"},
	})
	go func() {
		time.Sleep(5 * time.Millisecond)
		f.pushEvent(t, "Network.responseReceived", map[string]interface{}{
			"requestId": "r1", "response": map[string]interface{}{"url": "https://x/a", "status": 200},
		})
	}()

	match, err := p.WaitForResponse(context.Background(), WaitForResponseArgs{
		HTTPMethod: "POST",
		Timeout:    time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "r1", match.RequestID)
	assert.Equal(t, int64(200), match.Status)
}

func TestWaitForResponse_MethodMismatchDoesNotMatch(t *testing.T) {
	f := newFakeTarget()
	defer f.close()
	p := newTestPrimitives(t, f)

	f.pushEvent(t, "Network.requestWillBeSent", map[string]interface{}{
		"requestId": "r1", "request": map[string]interface{}{"url": "https://x/a", "method": "GET"},
	})
	go func() {
		time.Sleep(5 * time.Millisecond)
		f.pushEvent(t, "Network.responseReceived", map[string]interface{}{
			"requestId": "r1", "response": map[string]interface{}{"url": "https://x/a", "status": 200},
		})
	}()

	_, err := p.WaitForResponse(context.Background(), WaitForResponseArgs{
		HTTPMethod: "POST",
		Timeout:    50 * time.Millisecond,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, cdperr.Timeout)
}

func TestCompileURLRegex_BadPattern(t *testing.T) {
	_, err := CompileURLRegex("(unclosed")
	require.Error(t, err)
	assert.ErrorIs(t, err, cdperr.BadPattern)
}

func TestWaitForNetworkIdle_ExcludesWebSocket(t *testing.T) {
	f := newFakeTarget()
	defer f.close()
	p := newTestPrimitives(t, f)

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.pushEvent(t, "Network.requestWillBeSent", map[string]interface{}{"requestId": "ws1", "type": "WebSocket"})
	}()

	// A WebSocket connection opening mid-wait must not block idle: the wait
	// still resolves within roughly idle_ms of start, not idle_ms after the
	// WebSocket event.
	start := time.Now()
	err := p.WaitForNetworkIdle(context.Background(), 50*time.Millisecond, 2*time.Second, 0)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestWaitForNetworkIdle_WaitsForInflightToDrain(t *testing.T) {
	f := newFakeTarget()
	defer f.close()
	p := newTestPrimitives(t, f)

	f.pushEvent(t, "Network.requestWillBeSent", map[string]interface{}{"requestId": "r1", "type": "XHR"})

	done := make(chan error, 1)
	go func() { done <- p.WaitForNetworkIdle(context.Background(), 50*time.Millisecond, time.Second, 0) }()

	select {
	case <-done:
		t.Fatal("resolved before the request finished")
	case <-time.After(30 * time.Millisecond):
	}

	f.pushEvent(t, "Network.loadingFinished", map[string]interface{}{"requestId": "r1"})
	require.NoError(t, <-done)
}

func TestWaitForDialog_AutoHandledAlertReturnsDetails(t *testing.T) {
	f := newFakeTarget()
	defer f.close()
	p := newTestPrimitives(t, f)

	go func() {
		time.Sleep(5 * time.Millisecond)
		f.pushEvent(t, "Page.javascriptDialogOpening", map[string]interface{}{"type": "alert", "message": "hi"})
	}()

	result, err := p.WaitForDialog(context.Background(), WaitForDialogArgs{
		Timeout: time.Second, AutoHandle: true, Accept: true, PromptText: "should be ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, "alert", result.Type)
	assert.Equal(t, "hi", result.Message)
}

func TestEnsureFresh_StaleAfterDocumentUpdate(t *testing.T) {
	f := newFakeTarget()
	defer f.close()
	p := newTestPrimitives(t, f)

	before := p.tracker.DocVersion()
	require.NoError(t, p.EnsureFresh(before))

	f.pushEvent(t, "DOM.documentUpdated", map[string]interface{}{})
	require.Eventually(t, func() bool { return p.tracker.DocVersion() > before }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, p.EnsureFresh(before), cdperr.StaleNode)
}
