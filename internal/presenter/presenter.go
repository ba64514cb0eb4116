// Package presenter defines the narrow outbound interface the coordinator
// drives; whatever UI or logging surface is attached implements it. The
// core never holds internal locks while invoking it, so implementations are
// free to marshal onto their own thread affinity.
package presenter

import "github.com/foveate/hostd/internal/sessiontypes"

// Presenter receives events from the Session Coordinator and the session
// protocol engine it wires up. Implementations must be safe for concurrent
// calls.
type Presenter interface {
	// GenerateBarcode renders a BarcodePayload into whatever visual form the
	// client is expected to scan (QR code, etc). The core never produces
	// pixels itself.
	GenerateBarcode(payload sessiontypes.BarcodePayload)

	// SessionStatusDidChange reports the status most recently announced by
	// the client for the active session.
	SessionStatusDidChange(status sessiontypes.SessionStatus)

	// BarcodePresentationRequested fires when the client asks to be shown a
	// QR pairing code for the given session.
	BarcodePresentationRequested(info sessiontypes.SessionInformation)

	// ConnectionErrorOccurred reports a non-fatal connection-level error,
	// such as a protocol version mismatch or advertisement failure.
	ConnectionErrorOccurred(err error)
}
