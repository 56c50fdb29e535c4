package dispatcher

import (
	"context"
	"encoding/json"
	"time"
)

type navigateArgs struct {
	URL string `json:"url"`
}

func handleNavigate(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a navigateArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	return bt.sess.Send(ctx, "Page.navigate", map[string]interface{}{"url": a.URL})
}

func handlePageReload(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	return bt.sess.Send(ctx, "Page.reload", nil)
}

type waitForLoadArgs struct {
	WaitUntil string `json:"wait_until"`
	FrameID   string `json:"frame_id"`
	TimeoutMs int64  `json:"timeout_ms"`
}

func handlePageWaitForLoad(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a waitForLoadArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	if a.WaitUntil == "" {
		a.WaitUntil = "load"
	}
	return bt.prims.WaitForLoad(ctx, a.WaitUntil, a.FrameID, time.Duration(a.TimeoutMs)*time.Millisecond)
}

type waitForNetworkIdleArgs struct {
	IdleMs      int64 `json:"idle_ms"`
	TimeoutMs   int64 `json:"timeout_ms"`
	MaxInflight int   `json:"max_inflight"`
}

func handlePageWaitForNetworkIdle(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	a := waitForNetworkIdleArgs{IdleMs: 500, TimeoutMs: 30000}
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	err := bt.prims.WaitForNetworkIdle(ctx, time.Duration(a.IdleMs)*time.Millisecond, time.Duration(a.TimeoutMs)*time.Millisecond, a.MaxInflight)
	return map[string]interface{}{"idle": err == nil}, err
}

func handlePageLayoutMetrics(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	return bt.sess.Send(ctx, "Page.getLayoutMetrics", nil)
}
