package dispatcher

import (
	"context"
	"encoding/json"
)

func handleConsoleEnable(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	if _, err := bt.sess.Send(ctx, "Log.enable", nil); err != nil {
		return nil, err
	}
	return bt.sess.Send(ctx, "Runtime.enable", nil)
}

type consoleMessagesArgs struct {
	SinceMs int64 `json:"since_ms"`
}

// handleConsoleMessages pulls buffered console/exception events out of the
// session's Event Layer ring rather than installing a new subscription, so a
// caller can poll without missing messages emitted between calls.
func handleConsoleMessages(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a consoleMessagesArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	entries := bt.sess.Bus().BufferedEvents("Log.entryAdded", a.SinceMs)
	exceptions := bt.sess.Bus().BufferedEvents("Runtime.exceptionThrown", a.SinceMs)
	return map[string]interface{}{
		"entries":    entries,
		"exceptions": exceptions,
	}, nil
}

func handleConsoleClear(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	bt.sess.Bus().ClearRing()
	return map[string]interface{}{"cleared": true}, nil
}

func handlePerformanceMetrics(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	if _, err := bt.sess.Send(ctx, "Performance.enable", nil); err != nil {
		return nil, err
	}
	return bt.sess.Send(ctx, "Performance.getMetrics", nil)
}
