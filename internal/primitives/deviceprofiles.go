package primitives

// DeviceProfile is one named device's emulation metrics, adapted from
// chromedp's device.Info (device/types.go) down to the handful of fields
// EmulateDeviceMetrics takes. The teacher's device package generates its
// full device table (hundreds of entries) from a go:generate step against
// data this retrieved pack doesn't carry; DeviceProfiles instead hand-lists
// the common presets emulate_device's "preset" argument is expected to name,
// in the same shape.
type DeviceProfile struct {
	Name              string
	Width             int64
	Height            int64
	DeviceScaleFactor float64
	Mobile            bool
	Touch             bool
	UserAgent         string
}

// DeviceProfiles is the named preset table consulted by emulate_device when
// its caller supplies a preset name instead of explicit metrics.
var DeviceProfiles = map[string]DeviceProfile{
	"iPhone X": {
		Name: "iPhone X", Width: 375, Height: 812, DeviceScaleFactor: 3, Mobile: true, Touch: true,
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 11_0 like Mac OS X) AppleWebKit/604.1.34 (KHTML, like Gecko) Version/11.0 Mobile/15A5341f Safari/604.1",
	},
	"iPad": {
		Name: "iPad", Width: 768, Height: 1024, DeviceScaleFactor: 2, Mobile: true, Touch: true,
		UserAgent: "Mozilla/5.0 (iPad; CPU OS 11_0 like Mac OS X) AppleWebKit/604.1.34 (KHTML, like Gecko) Version/11.0 Mobile/15A5341f Safari/604.1",
	},
	"Pixel 2": {
		Name: "Pixel 2", Width: 411, Height: 731, DeviceScaleFactor: 2.625, Mobile: true, Touch: true,
		UserAgent: "Mozilla/5.0 (Linux; Android 8.0; Pixel 2) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/88.0.4324.96 Mobile Safari/537.36",
	},
	"Galaxy S5": {
		Name: "Galaxy S5", Width: 360, Height: 640, DeviceScaleFactor: 3, Mobile: true, Touch: true,
		UserAgent: "Mozilla/5.0 (Linux; Android 5.0; SM-G900P Build/LRX21T) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/88.0.4324.96 Mobile Safari/537.36",
	},
	"Desktop 1920x1080": {
		Name: "Desktop 1920x1080", Width: 1920, Height: 1080, DeviceScaleFactor: 1,
	},
}

// ResolveDevicePreset looks up name in DeviceProfiles.
func ResolveDevicePreset(name string) (DeviceProfile, bool) {
	p, ok := DeviceProfiles[name]
	return p, ok
}
