// Package cdperr defines the error taxonomy surfaced across the bridge, from
// the CDP session layer up through the tool dispatcher.
package cdperr

import "fmt"

// Kind is a sentinel error, following the same pattern as chromedp's own
// Error type: a string-backed error usable as a comparable constant.
type Kind string

// Error satisfies the error interface.
func (k Kind) Error() string {
	return string(k)
}

// Error kinds surfaced to clients. Names match spec.md's taxonomy so that the
// dispatcher can map them onto the envelope error shape without translation.
const (
	// BrowserUnavailable means the discovery endpoint was unreachable or the
	// WebSocket dial to a target was refused.
	BrowserUnavailable Kind = "browser_unavailable"

	// NotConnected means the CDP socket was closed before a command could be
	// sent, or a command was attempted on a session that was never opened.
	NotConnected Kind = "not_connected"

	// Timeout means a command or event wait exceeded its deadline.
	Timeout Kind = "timeout"

	// StaleNode means a node reference is older than the session's current
	// doc_version and must not be silently re-queried.
	StaleNode Kind = "stale_node"

	// IndexOutOfRange means a numeric target reference had no corresponding
	// page target.
	IndexOutOfRange Kind = "index_out_of_range"

	// NotFound means a target, tab, or other named resource does not exist.
	NotFound Kind = "not_found"

	// BadPattern means a caller-supplied regular expression failed to
	// compile.
	BadPattern Kind = "bad_pattern"

	// BadArguments means a required tool argument was missing or malformed.
	BadArguments Kind = "bad_arguments"

	// Internal means an unhandled error occurred in the dispatcher; the
	// client receives a generic message while details are logged.
	Internal Kind = "internal"
)

// CdpError is a verbatim protocol error returned by the browser in response
// to a command, mirroring cdproto's own Message.Error shape.
type CdpError struct {
	Code    int64
	Message string
}

func (e *CdpError) Error() string {
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

// Wrap annotates err with an operation name while preserving it for
// errors.Is/errors.As against the Kind sentinels.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// WithTimeout reports a Timeout error naming the operation that expired, as
// required by spec.md's error taxonomy ("Surfaced with the operation name").
func WithTimeout(op string) error {
	return fmt.Errorf("%s: %w", op, Timeout)
}
