package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cdphost/bridge/internal/primitives"
)

func handleCookiesGet(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	return bt.sess.Send(ctx, "Network.getCookies", nil)
}

type cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
}

type cookiesSetArgs struct {
	Cookies []cookie `json:"cookies"`
}

func handleCookiesSet(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a cookiesSetArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	return bt.sess.Send(ctx, "Network.setCookies", map[string]interface{}{"cookies": a.Cookies})
}

type cookiesDeleteArgs struct {
	Name   string `json:"name"`
	Domain string `json:"domain,omitempty"`
	URL    string `json:"url,omitempty"`
}

func handleCookiesDelete(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a cookiesDeleteArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	return bt.sess.Send(ctx, "Network.deleteCookies", a)
}

func handleCookiesClear(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	return bt.sess.Send(ctx, "Network.clearBrowserCookies", nil)
}

type networkHeadersArgs struct {
	Headers map[string]string `json:"headers"`
}

// handleNetworkHeaders implements Open Question #2's decision: an empty
// headers object explicitly clears all extra headers, it is not a no-op.
func handleNetworkHeaders(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a networkHeadersArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Headers == nil {
		a.Headers = map[string]string{}
	}
	return bt.sess.Send(ctx, "Network.setExtraHTTPHeaders", map[string]interface{}{"headers": a.Headers})
}

type networkCacheArgs struct {
	Disabled bool `json:"disabled"`
}

func handleNetworkCache(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a networkCacheArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	return bt.sess.Send(ctx, "Network.setCacheDisabled", map[string]interface{}{"cacheDisabled": a.Disabled})
}

type networkBlockArgs struct {
	URLPatterns []string `json:"url_patterns"`
}

func handleNetworkBlock(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a networkBlockArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	return bt.sess.Send(ctx, "Network.setBlockedURLs", map[string]interface{}{"urls": a.URLPatterns})
}

type networkWaitForResponseArgs struct {
	URLSubstring string `json:"url_substring"`
	URLRegex     string `json:"url_regex"`
	HTTPMethod   string `json:"http_method"`
	Status       *int64 `json:"status"`
	ResourceType string `json:"resource_type"`
	TimeoutMs    int64  `json:"timeout_ms"`
}

func handleNetworkWaitForResponse(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a networkWaitForResponseArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	re, err := primitives.CompileURLRegex(a.URLRegex)
	if err != nil {
		return nil, err
	}
	return bt.prims.WaitForResponse(ctx, primitives.WaitForResponseArgs{
		URLSubstring: a.URLSubstring,
		URLRegex:     re,
		HTTPMethod:   a.HTTPMethod,
		Status:       a.Status,
		ResourceType: a.ResourceType,
		Timeout:      time.Duration(a.TimeoutMs) * time.Millisecond,
	})
}
