package dispatcher

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdphost/bridge/internal/cdperr"
	"github.com/cdphost/bridge/internal/registry"
)

// fakeBrowser serves both the discovery endpoint (/json/list etc.) and the
// CDP WebSocket itself, mirroring how one real Chromium process does both.
type fakeBrowser struct {
	srv *httptest.Server

	mu    sync.Mutex
	conns []net.Conn
	open  bool
}

func newFakeBrowser(t *testing.T) *fakeBrowser {
	t.Helper()
	f := &fakeBrowser{open: true}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		open := f.open
		f.mu.Unlock()
		targets := []registry.Target{}
		if open {
			targets = append(targets, registry.Target{ID: "t1", Type: registry.Page, URL: "about:blank", WSURL: f.wsURL() + "/ws"})
		}
		_ = json.NewEncoder(w).Encode(targets)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
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
				_ = json.Unmarshal(buf, &req)
				result := map[string]interface{}{}
				if req.Method == "Page.captureScreenshot" {
					result["data"] = onePixelPNGBase64
				}
				out, _ := json.Marshal(map[string]interface{}{"id": req.ID, "result": result})
				_ = wsutil.WriteServerText(conn, out)
			}
		}()
	})
	f.srv = httptest.NewServer(mux)
	return f
}

func (f *fakeBrowser) wsURL() string { return "ws" + strings.TrimPrefix(f.srv.URL, "http") }
func (f *fakeBrowser) close()        { f.srv.Close() }
func (f *fakeBrowser) closeTarget() {
	f.mu.Lock()
	f.open = false
	conns := append([]net.Conn(nil), f.conns...)
	f.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// onePixelPNGBase64 is a valid 1x1 transparent PNG, used by tests that need
// a real decodable screenshot payload.
const onePixelPNGBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNk+A8AAQUBAScY42YAAAAASUVORK5CYII="

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestDispatch_UnknownToolReturnsNotFound(t *testing.T) {
	f := newFakeBrowser(t)
	defer f.close()

	reg := registry.New(f.srv.URL, testLogger())
	d := New(reg, testLogger())

	_, toolErr := d.Dispatch(context.Background(), ToolCall{Name: "does_not_exist"}, "")
	require.NotNil(t, toolErr)
	assert.Equal(t, string(cdperr.NotFound), toolErr.Code)
}

func TestDispatch_BindsAndReusesSessionForSameTarget(t *testing.T) {
	f := newFakeBrowser(t)
	defer f.close()

	reg := registry.New(f.srv.URL, testLogger())
	d := New(reg, testLogger())

	_, toolErr := d.Dispatch(context.Background(), ToolCall{Name: "page_layout_metrics"}, "t1")
	require.Nil(t, toolErr)
	_, toolErr = d.Dispatch(context.Background(), ToolCall{Name: "page_layout_metrics"}, "t1")
	require.Nil(t, toolErr)

	d.mu.Lock()
	n := len(d.targets)
	d.mu.Unlock()
	assert.Equal(t, 1, n)

	f.mu.Lock()
	nconns := len(f.conns)
	f.mu.Unlock()
	assert.Equal(t, 1, nconns, "second dispatch should reuse the cached session, not dial again")
}

func TestDispatch_ClosedTabIDFailsImmediately(t *testing.T) {
	f := newFakeBrowser(t)
	f.closeTarget()
	defer f.close()

	reg := registry.New(f.srv.URL, testLogger())
	d := New(reg, testLogger())

	_, toolErr := d.Dispatch(context.Background(), ToolCall{Name: "page_layout_metrics"}, "t1")
	require.NotNil(t, toolErr)
	assert.Equal(t, string(cdperr.NotFound), toolErr.Code)
}

func TestDispatch_BadArgumentsSurfacesAsToolError(t *testing.T) {
	f := newFakeBrowser(t)
	defer f.close()

	reg := registry.New(f.srv.URL, testLogger())
	d := New(reg, testLogger())

	_, toolErr := d.Dispatch(context.Background(), ToolCall{Name: "navigate", Arguments: json.RawMessage(`not json`)}, "t1")
	require.NotNil(t, toolErr)
	assert.Equal(t, string(cdperr.BadArguments), toolErr.Code)
}

func TestDispatch_HandlerPanicRecoversAsInternalError(t *testing.T) {
	f := newFakeBrowser(t)
	defer f.close()

	reg := registry.New(f.srv.URL, testLogger())
	d := New(reg, testLogger())
	d.table["panics"] = toolEntry{
		requiresConnected: false,
		handler: func(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
			panic("boom")
		},
	}

	_, toolErr := d.Dispatch(context.Background(), ToolCall{Name: "panics"}, "")
	require.NotNil(t, toolErr)
	assert.Equal(t, string(cdperr.Internal), toolErr.Code)
}

func TestDispatch_ComputerScreenshotReturnsStructuredImagePayload(t *testing.T) {
	f := newFakeBrowser(t)
	defer f.close()

	reg := registry.New(f.srv.URL, testLogger())
	d := New(reg, testLogger())

	args, _ := json.Marshal(map[string]interface{}{"action": "screenshot"})
	result, toolErr := d.Dispatch(context.Background(), ToolCall{Name: "computer", Arguments: args}, "t1")
	require.Nil(t, toolErr)

	out, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "image", out["type"])
	assert.Equal(t, "image/png", out["media_type"])
	assert.Equal(t, onePixelPNGBase64, out["data"])
}

func TestDispatch_VisualCompareDoesNotRequireBoundSession(t *testing.T) {
	f := newFakeBrowser(t)
	defer f.close()

	reg := registry.New(f.srv.URL, testLogger())
	d := New(reg, testLogger())

	args, _ := json.Marshal(map[string]interface{}{
		"screenshot_a": onePixelPNGBase64,
		"screenshot_b": onePixelPNGBase64,
	})
	result, toolErr := d.Dispatch(context.Background(), ToolCall{Name: "visual_compare", Arguments: args}, "")
	require.Nil(t, toolErr)

	out, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 0, out["mismatched_pixels"])
	diff, ok := out["diff"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "image/png", diff["media_type"])
}

func TestDispatch_TabsContextDoesNotRequireBoundSession(t *testing.T) {
	f := newFakeBrowser(t)
	defer f.close()

	reg := registry.New(f.srv.URL, testLogger())
	d := New(reg, testLogger())

	result, toolErr := d.Dispatch(context.Background(), ToolCall{Name: "tabs_context_mcp"}, "")
	require.Nil(t, toolErr)
	require.NotNil(t, result)
}
