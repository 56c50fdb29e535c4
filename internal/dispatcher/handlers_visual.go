package dispatcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/cdphost/bridge/internal/cdperr"
	"github.com/cdphost/bridge/internal/primitives"
)

type visualCompareArgs struct {
	ScreenshotA string `json:"screenshot_a"`
	ScreenshotB string `json:"screenshot_b"`
}

// handleVisualCompare diffs two base64 PNG `computer screenshot` results with
// primitives.CompareScreenshots, returning the mismatched pixel count and a
// base64 PNG visual diff. It needs no live CDP session, so it is registered
// standalone.
func handleVisualCompare(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a visualCompareArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	pngA, err := base64.StdEncoding.DecodeString(a.ScreenshotA)
	if err != nil {
		return nil, fmt.Errorf("%w: decode screenshot_a: %v", cdperr.BadArguments, err)
	}
	pngB, err := base64.StdEncoding.DecodeString(a.ScreenshotB)
	if err != nil {
		return nil, fmt.Errorf("%w: decode screenshot_b: %v", cdperr.BadArguments, err)
	}

	mismatched, diffPNG, err := primitives.CompareScreenshots(pngA, pngB)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"mismatched_pixels": mismatched,
		"diff": map[string]interface{}{
			"type":       "image",
			"data":       base64.StdEncoding.EncodeToString(diffPNG),
			"media_type": "image/png",
		},
	}, nil
}
