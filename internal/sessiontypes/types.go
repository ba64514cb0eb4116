// Package sessiontypes holds the data model shared across the session
// protocol engine, the media-service RPC client, and the coordinator, so
// none of those packages need to import each other just to pass values
// around.
package sessiontypes

import "net"

// Endpoint is the TCP address the Session Protocol Engine listens on.
// Immutable for a Coordinator's lifetime.
type Endpoint struct {
	Address net.IP
	Port    uint16
}

// BundleIdentifier is the opaque string advertised in the mDNS TXT record.
type BundleIdentifier string

// ServerID is the host's stable identity: 32 lowercase hex characters.
type ServerID string

// SessionID is an opaque, client-chosen session identifier.
type SessionID string

// ClientID is an opaque, client-chosen identifier persistent across sessions.
type ClientID string

// BarcodePayload is produced by the media-service RPC client from a ClientID
// and consumed by an external BarcodeRenderer.
type BarcodePayload struct {
	ClientToken            string `json:"clientToken"`
	CertificateFingerprint string `json:"certificateFingerprint"`
}

// SessionInformation is exclusively owned by the Session Protocol Engine,
// which hands a copy to the Presenter when the client asks for a barcode.
// Created when a RequestConnection is accepted,
// cleared when the session is disconnected.
type SessionInformation struct {
	SessionID SessionID
	ClientID  ClientID
	Barcode   BarcodePayload
}

// MediaServiceState is a field-wise-comparable snapshot of the media
// service's last observed status.
type MediaServiceState struct {
	OpenXRRuntimeRunning bool
	ClientConnected      bool
	GameConnected        bool
}

// Equal reports whether two states have identical fields. Written by hand
// rather than with reflect.DeepEqual since this runs on every poll tick.
func (s MediaServiceState) Equal(other MediaServiceState) bool {
	return s.OpenXRRuntimeRunning == other.OpenXRRuntimeRunning &&
		s.ClientConnected == other.ClientConnected &&
		s.GameConnected == other.GameConnected
}

// SessionStatus is the authoritative-from-the-client session lifecycle
// state. The core never invents a transition; it only relays what the
// client announces.
type SessionStatus string

const (
	StatusWaiting      SessionStatus = "WAITING"
	StatusConnecting   SessionStatus = "CONNECTING"
	StatusConnected    SessionStatus = "CONNECTED"
	StatusPaused       SessionStatus = "PAUSED"
	StatusDisconnected SessionStatus = "DISCONNECTED"
)
