package dispatcher

import (
	"github.com/chromedp/cdproto/input"
)

// namedKey carries the DOM code and key plus the native and Windows virtual
// key codes for one named key,
// adapted from kb.Key's field set (Code, Key, Native, Windows, Shift) down to
// the handful of non-printable keys the "computer" tool's key action actually
// needs to send — the full generated table kb/gen.go builds from Chromium's
// own key-code data covers thousands of printable runes this bridge's tool
// surface never emits a raw key event for (printable text goes through
// Input.insertText instead, per spec.md §6's computer tool).
type namedKey struct {
	code    string
	key     string
	native  int64
	windows int64
}

var namedKeys = map[string]namedKey{
	"Enter":      {code: "Enter", key: "Enter", native: 0x0d, windows: 0x0d},
	"Tab":        {code: "Tab", key: "Tab", native: 0x09, windows: 0x09},
	"Escape":     {code: "Escape", key: "Escape", native: 0x1b, windows: 0x1b},
	"Backspace":  {code: "Backspace", key: "Backspace", native: 0x08, windows: 0x08},
	"Delete":     {code: "Delete", key: "Delete", native: 0x2e, windows: 0x2e},
	"ArrowUp":    {code: "ArrowUp", key: "ArrowUp", native: 0x26, windows: 0x26},
	"ArrowDown":  {code: "ArrowDown", key: "ArrowDown", native: 0x28, windows: 0x28},
	"ArrowLeft":  {code: "ArrowLeft", key: "ArrowLeft", native: 0x25, windows: 0x25},
	"ArrowRight": {code: "ArrowRight", key: "ArrowRight", native: 0x27, windows: 0x27},
	"Home":       {code: "Home", key: "Home", native: 0x24, windows: 0x24},
	"End":        {code: "End", key: "End", native: 0x23, windows: 0x23},
	"Space":      {code: "Space", key: " ", native: 0x20, windows: 0x20},
}

// encodeKeyPress builds the keyDown/keyUp params for a named key, falling
// back to a bare Key field (what the browser treats as "Unidentified" scan
// data) for anything outside namedKeys, mirroring kb.EncodeUnidentified's
// fallback behavior for runes with no known mapping.
func encodeKeyPress(name string) (down, up *input.DispatchKeyEventParams) {
	nk, ok := namedKeys[name]
	if !ok {
		down = &input.DispatchKeyEventParams{Type: input.KeyDown, Key: name}
		up = &input.DispatchKeyEventParams{Type: input.KeyUp, Key: name}
		return down, up
	}
	down = &input.DispatchKeyEventParams{
		Type:                  input.KeyDown,
		Key:                   nk.key,
		Code:                  nk.code,
		NativeVirtualKeyCode:  nk.native,
		WindowsVirtualKeyCode: nk.windows,
	}
	upCopy := *down
	upCopy.Type = input.KeyUp
	return down, &upCopy
}
