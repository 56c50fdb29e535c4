package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cdphost/bridge/internal/cdperr"
	"github.com/cdphost/bridge/internal/primitives"
)

type emulateDeviceArgs struct {
	Preset            string  `json:"preset"`
	Width             int64   `json:"width"`
	Height            int64   `json:"height"`
	DeviceScaleFactor float64 `json:"device_scale_factor"`
	Mobile            bool    `json:"mobile"`
	Touch             bool    `json:"touch"`
}

// handleEmulateDevice applies explicit metrics, or, when preset names a known
// device, that device's metrics and user agent (spec.md §6's emulate_device,
// extended with the named-preset shortcut chromedp's device package offers
// its callers).
func handleEmulateDevice(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	a := emulateDeviceArgs{DeviceScaleFactor: 1}
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}

	if a.Preset != "" {
		profile, ok := primitives.ResolveDevicePreset(a.Preset)
		if !ok {
			return nil, fmt.Errorf("%w: unknown device preset %q", cdperr.BadArguments, a.Preset)
		}
		if err := bt.prims.EmulateDeviceMetrics(ctx, profile.Width, profile.Height, profile.DeviceScaleFactor, profile.Mobile, profile.Touch); err != nil {
			return nil, err
		}
		if profile.UserAgent != "" {
			if err := bt.prims.EmulateUserAgent(ctx, profile.UserAgent); err != nil {
				return nil, err
			}
		}
		return map[string]interface{}{"applied": true, "preset": profile.Name}, nil
	}

	if err := bt.prims.EmulateDeviceMetrics(ctx, a.Width, a.Height, a.DeviceScaleFactor, a.Mobile, a.Touch); err != nil {
		return nil, err
	}
	return map[string]interface{}{"applied": true}, nil
}

type emulateGeolocationArgs struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

func handleEmulateGeolocation(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	a := emulateGeolocationArgs{Accuracy: 100}
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	if err := bt.prims.EmulateGeolocation(ctx, a.Latitude, a.Longitude, a.Accuracy); err != nil {
		return nil, err
	}
	return map[string]interface{}{"applied": true}, nil
}

type emulateTimezoneArgs struct {
	TimezoneID string `json:"timezone_id"`
}

func handleEmulateTimezone(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a emulateTimezoneArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	if err := bt.prims.EmulateTimezone(ctx, a.TimezoneID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"applied": true}, nil
}

type emulateUserAgentArgs struct {
	UserAgent string `json:"user_agent"`
}

func handleEmulateUserAgent(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a emulateUserAgentArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	if err := bt.prims.EmulateUserAgent(ctx, a.UserAgent); err != nil {
		return nil, err
	}
	return map[string]interface{}{"applied": true}, nil
}
