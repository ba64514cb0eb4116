package sessionproto

// protocolVersion is the only accepted value of RequestConnection.ProtocolVersion.
const protocolVersion = "1"

const (
	eventRequestConnection            = "RequestConnection"
	eventAcknowledgeConnection        = "AcknowledgeConnection"
	eventRequestBarcodePresentation   = "RequestBarcodePresentation"
	eventAcknowledgeBarcodePresentation = "AcknowledgeBarcodePresentation"
	eventSessionStatusDidChange       = "SessionStatusDidChange"
	eventMediaStreamIsReady           = "MediaStreamIsReady"
	eventRequestSessionDisconnect     = "RequestSessionDisconnect"
)

// discriminator is the loose first-pass parse used to read just enough of an
// inbound frame to apply the acceptance rules before committing to a
// concrete event struct.
type discriminator struct {
	Event     string `json:"Event"`
	SessionID string `json:"SessionID"`
}

type requestConnection struct {
	Event                    string `json:"Event"`
	ProtocolVersion          string `json:"ProtocolVersion"`
	StreamingProvider        string `json:"StreamingProvider"`
	StreamingProviderVersion string `json:"StreamingProviderVersion"`
	UserInterfaceIdiom       string `json:"UserInterfaceIdiom"`
	SessionID                string `json:"SessionID"`
	ClientID                 string `json:"ClientID"`
}

type acknowledgeConnection struct {
	Event                   string  `json:"Event"`
	SessionID                string  `json:"SessionID"`
	ServerID                 string  `json:"ServerID"`
	CertificateFingerprint   *string `json:"CertificateFingerprint,omitempty"`
}

type sessionStatusDidChange struct {
	Event     string `json:"Event"`
	SessionID string `json:"SessionID"`
	Status    string `json:"Status"`
}

// simpleSessionMessage covers every outbound event that carries nothing but
// the Event discriminator and a SessionID: AcknowledgeBarcodePresentation,
// MediaStreamIsReady, and RequestSessionDisconnect.
type simpleSessionMessage struct {
	Event     string `json:"Event"`
	SessionID string `json:"SessionID"`
}
